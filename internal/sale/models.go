package sale

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// DefaultMaxInvestors is the size of the investor registry of a sale.
const DefaultMaxInvestors = 100

// SaleConfig holds the admin-controlled parameters of a sale.
type SaleConfig struct {
	ID                     uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name                   string    `json:"name" gorm:"type:varchar(255);not null"`
	Admin                  string    `json:"admin" gorm:"type:varchar(255);not null;index"`
	PriceRatio             uint64    `json:"price_ratio" gorm:"not null"`
	PriceMultiplier        uint64    `json:"price_multiplier" gorm:"not null;default:10000"`
	CliffPercent           uint8     `json:"cliff_percent" gorm:"not null;default:0"`
	FundingStart           time.Time `json:"funding_start" gorm:"not null"`
	FundingEnd             time.Time `json:"funding_end" gorm:"not null"`
	ClaimingStart          time.Time `json:"claiming_start"`
	ClaimingEnd            time.Time `json:"claiming_end" gorm:"not null"`
	TotalSaleAssetSupplied Amount    `json:"total_sale_asset_supplied" gorm:"type:numeric(39,0);not null;default:0"`
	PaymentWithdrawn       Amount    `json:"payment_withdrawn" gorm:"type:numeric(39,0);not null;default:0"`
	UnsoldWithdrawn        Amount    `json:"unsold_withdrawn" gorm:"type:numeric(39,0);not null;default:0"`
	MaxInvestors           int       `json:"max_investors" gorm:"not null;default:100"`
	Funded                 bool      `json:"funded" gorm:"not null;default:false"`
	Canceled               bool      `json:"canceled" gorm:"not null;default:false"`
	ClaimingOpen           bool      `json:"claiming_open" gorm:"not null;default:false"`
	SingleTransactionOnly  bool      `json:"single_transaction_only" gorm:"not null;default:false"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (SaleConfig) TableName() string { return "sale_configs" }

// Converter returns the price converter configured for the sale.
func (c *SaleConfig) Converter() PriceConverter {
	return NewPriceConverter(c.PriceRatio, c.PriceMultiplier)
}

// SaleLedger aggregates all investor accounts of a sale.
type SaleLedger struct {
	SaleID         uuid.UUID      `json:"sale_id" gorm:"type:uuid;primaryKey"`
	TotalSpent     Amount         `json:"total_spent" gorm:"type:numeric(39,0);not null;default:0"`
	TotalAllocated Amount         `json:"total_allocated" gorm:"type:numeric(39,0);not null;default:0"`
	TotalRefunded  Amount         `json:"total_refunded" gorm:"type:numeric(39,0);not null;default:0"`
	TotalClaimed   Amount         `json:"total_claimed" gorm:"type:numeric(39,0);not null;default:0"`
	InvestorCount  int            `json:"investor_count" gorm:"not null;default:0"`
	Investors      pq.StringArray `json:"investors" gorm:"type:text[]"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (SaleLedger) TableName() string { return "sale_ledgers" }

// HasInvestor reports whether investor is in the registry.
func (l *SaleLedger) HasInvestor(investor string) bool {
	for _, id := range l.Investors {
		if id == investor {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no mutable state with l.
func (l *SaleLedger) Clone() *SaleLedger {
	c := *l
	c.Investors = append(pq.StringArray(nil), l.Investors...)
	return &c
}

// InvestorAccount is one investor's position in a sale.
type InvestorAccount struct {
	SaleID    uuid.UUID `json:"sale_id" gorm:"type:uuid;primaryKey"`
	Investor  string    `json:"investor" gorm:"type:varchar(255);primaryKey"`
	Spent     Amount    `json:"spent" gorm:"type:numeric(39,0);not null;default:0"`
	Entitled  Amount    `json:"entitled" gorm:"type:numeric(39,0);not null;default:0"`
	Claimed   Amount    `json:"claimed" gorm:"type:numeric(39,0);not null;default:0"`
	Refunded  bool      `json:"refunded" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (InvestorAccount) TableName() string { return "investor_accounts" }

// Allocation is the purchase cap granted to an investor.
type Allocation struct {
	SaleID    uuid.UUID `json:"sale_id" gorm:"type:uuid;primaryKey"`
	Investor  string    `json:"investor" gorm:"type:varchar(255);primaryKey"`
	Cap       Amount    `json:"cap" gorm:"type:numeric(39,0);not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Allocation) TableName() string { return "sale_allocations" }

// OutboxEvent is an event persisted with the mutation that produced it.
type OutboxEvent struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey"`
	SaleID       uuid.UUID      `gorm:"type:uuid;not null;index"`
	Kind         string         `gorm:"type:varchar(50);not null"`
	Payload      datatypes.JSON `gorm:"type:jsonb;not null"`
	OccurredAt   time.Time      `gorm:"not null;index"`
	DispatchedAt *time.Time     `gorm:"index"`
}

func (OutboxEvent) TableName() string { return "sale_outbox_events" }

// =====================================================
// Request/Response DTOs
// =====================================================

// CreateSaleRequest describes a new sale.
type CreateSaleRequest struct {
	Name                  string    `json:"name" binding:"required"`
	PriceRatio            uint64    `json:"price_ratio"`
	CliffPercent          int       `json:"cliff_percent"`
	FundingStart          time.Time `json:"funding_start" binding:"required"`
	FundingEnd            time.Time `json:"funding_end" binding:"required"`
	ClaimingEnd           time.Time `json:"claiming_end" binding:"required"`
	SingleTransactionOnly bool      `json:"single_transaction_only"`
	MaxInvestors          int       `json:"max_investors"`
}

// PurchaseReceipt is the outcome of a purchase.
type PurchaseReceipt struct {
	Investor      string `json:"investor"`
	PaymentAmount Amount `json:"payment_amount"`
	SaleAmount    Amount `json:"sale_amount"`
	Spent         Amount `json:"spent"`
	Entitled      Amount `json:"entitled"`
}

// TotalsSnapshot is a read-only view of a sale at one instant.
type TotalsSnapshot struct {
	Config     SaleConfig `json:"config"`
	Ledger     SaleLedger `json:"ledger"`
	Phase      Phase      `json:"phase"`
	NextPhases []Phase    `json:"next_phases"`
	AsOf       time.Time  `json:"as_of"`
}

// Quote is an amount with its display form.
type Quote struct {
	Amount  Amount `json:"amount"`
	Display string `json:"display"`
}
