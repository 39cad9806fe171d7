package sale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store reads and writes the records of sales.
type Store interface {
	GetSale(ctx context.Context, id uuid.UUID) (*SaleConfig, error)
	GetLedger(ctx context.Context, saleID uuid.UUID) (*SaleLedger, error)
	// GetAccount returns nil, nil when the investor has no account.
	GetAccount(ctx context.Context, saleID uuid.UUID, investor string) (*InvestorAccount, error)
	// GetAllocation returns nil, nil when the investor has no allocation.
	GetAllocation(ctx context.Context, saleID uuid.UUID, investor string) (*Allocation, error)
	ListAccounts(ctx context.Context, saleID uuid.UUID) ([]InvestorAccount, error)

	SaveConfig(ctx context.Context, cfg *SaleConfig) error
	SaveLedger(ctx context.Context, ledger *SaleLedger) error
	SaveAccount(ctx context.Context, acct *InvestorAccount) error
	SaveAllocation(ctx context.Context, alloc *Allocation) error
	AppendEvents(ctx context.Context, events []Event) error
}

// Repository is a Store with transactions and outbox access.
type Repository interface {
	Store

	CreateSale(ctx context.Context, cfg *SaleConfig, ledger *SaleLedger) error
	ListSales(ctx context.Context) ([]SaleConfig, error)

	// Atomic runs fn in one transaction holding an exclusive lock on the
	// sale. Writes made through the Store passed to fn are discarded when fn
	// returns an error.
	Atomic(ctx context.Context, saleID uuid.UUID, fn func(Store) error) error

	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkDispatched(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// GormRepository implements Repository on PostgreSQL.
type GormRepository struct {
	gormStore
}

// NewGormRepository creates a new sale repository
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{gormStore{db: db}}
}

// AutoMigrate creates or updates the sale tables.
func (r *GormRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&SaleConfig{}, &SaleLedger{}, &InvestorAccount{}, &Allocation{}, &OutboxEvent{})
}

func (r *GormRepository) CreateSale(ctx context.Context, cfg *SaleConfig, ledger *SaleLedger) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cfg).Error; err != nil {
			return fmt.Errorf("failed to create sale config: %w", err)
		}
		if err := tx.Create(ledger).Error; err != nil {
			return fmt.Errorf("failed to create sale ledger: %w", err)
		}
		return nil
	})
}

func (r *GormRepository) ListSales(ctx context.Context) ([]SaleConfig, error) {
	var sales []SaleConfig
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&sales).Error; err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	return sales, nil
}

func (r *GormRepository) Atomic(ctx context.Context, saleID uuid.UUID, fn func(Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked SaleConfig
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&locked, "id = ?", saleID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSaleNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock sale: %w", err)
		}
		return fn(&gormStore{db: tx})
	})
}

func (r *GormRepository) PendingEvents(ctx context.Context, limit int) ([]Event, error) {
	var rows []OutboxEvent
	err := r.db.WithContext(ctx).
		Where("dispatched_at IS NULL").
		Order("occurred_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending events: %w", err)
	}
	events := make([]Event, len(rows))
	for i, row := range rows {
		events[i] = row.toEvent()
	}
	return events, nil
}

func (r *GormRepository) MarkDispatched(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&OutboxEvent{}).
		Where("id IN ?", ids).
		Update("dispatched_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to mark events dispatched: %w", err)
	}
	return nil
}

type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) GetSale(ctx context.Context, id uuid.UUID) (*SaleConfig, error) {
	var cfg SaleConfig
	err := s.db.WithContext(ctx).First(&cfg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}
	return &cfg, nil
}

func (s *gormStore) GetLedger(ctx context.Context, saleID uuid.UUID) (*SaleLedger, error) {
	var ledger SaleLedger
	err := s.db.WithContext(ctx).First(&ledger, "sale_id = ?", saleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	return &ledger, nil
}

func (s *gormStore) GetAccount(ctx context.Context, saleID uuid.UUID, investor string) (*InvestorAccount, error) {
	var acct InvestorAccount
	err := s.db.WithContext(ctx).
		Where("sale_id = ? AND investor = ?", saleID, investor).
		First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get investor account: %w", err)
	}
	return &acct, nil
}

func (s *gormStore) GetAllocation(ctx context.Context, saleID uuid.UUID, investor string) (*Allocation, error) {
	var alloc Allocation
	err := s.db.WithContext(ctx).
		Where("sale_id = ? AND investor = ?", saleID, investor).
		First(&alloc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get allocation: %w", err)
	}
	return &alloc, nil
}

func (s *gormStore) ListAccounts(ctx context.Context, saleID uuid.UUID) ([]InvestorAccount, error) {
	var accounts []InvestorAccount
	err := s.db.WithContext(ctx).
		Where("sale_id = ?", saleID).
		Order("created_at ASC, investor ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list investor accounts: %w", err)
	}
	return accounts, nil
}

func (s *gormStore) SaveConfig(ctx context.Context, cfg *SaleConfig) error {
	if err := s.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("failed to save sale config: %w", err)
	}
	return nil
}

func (s *gormStore) SaveLedger(ctx context.Context, ledger *SaleLedger) error {
	if err := s.db.WithContext(ctx).Save(ledger).Error; err != nil {
		return fmt.Errorf("failed to save sale ledger: %w", err)
	}
	return nil
}

func (s *gormStore) SaveAccount(ctx context.Context, acct *InvestorAccount) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(acct).Error
	if err != nil {
		return fmt.Errorf("failed to save investor account: %w", err)
	}
	return nil
}

func (s *gormStore) SaveAllocation(ctx context.Context, alloc *Allocation) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(alloc).Error
	if err != nil {
		return fmt.Errorf("failed to save allocation: %w", err)
	}
	return nil
}

func (s *gormStore) AppendEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]OutboxEvent, len(events))
	for i, ev := range events {
		rows[i] = ev.toOutbox()
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to append events: %w", err)
	}
	return nil
}
