package sale

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type accountKey struct {
	saleID   uuid.UUID
	investor string
}

type memData struct {
	sales    map[uuid.UUID]SaleConfig
	ledgers  map[uuid.UUID]*SaleLedger
	accounts map[accountKey]InvestorAccount
	allocs   map[accountKey]Allocation
	outbox   []OutboxEvent
}

func (d *memData) clone() *memData {
	c := &memData{
		sales:    make(map[uuid.UUID]SaleConfig, len(d.sales)),
		ledgers:  make(map[uuid.UUID]*SaleLedger, len(d.ledgers)),
		accounts: make(map[accountKey]InvestorAccount, len(d.accounts)),
		allocs:   make(map[accountKey]Allocation, len(d.allocs)),
		outbox:   append([]OutboxEvent(nil), d.outbox...),
	}
	for k, v := range d.sales {
		c.sales[k] = v
	}
	for k, v := range d.ledgers {
		c.ledgers[k] = v.Clone()
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.allocs {
		c.allocs[k] = v
	}
	return c
}

// memRepo is an in-memory Repository. Atomic stages writes on a copy and
// commits them only when the callback succeeds.
type memRepo struct {
	mu   sync.Mutex
	data *memData
}

func newMemRepo() *memRepo {
	return &memRepo{data: (&memData{}).clone()}
}

func (r *memRepo) store() *memStore {
	return &memStore{data: r.data}
}

func (r *memRepo) GetSale(ctx context.Context, id uuid.UUID) (*SaleConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetSale(ctx, id)
}

func (r *memRepo) GetLedger(ctx context.Context, saleID uuid.UUID) (*SaleLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetLedger(ctx, saleID)
}

func (r *memRepo) GetAccount(ctx context.Context, saleID uuid.UUID, investor string) (*InvestorAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetAccount(ctx, saleID, investor)
}

func (r *memRepo) GetAllocation(ctx context.Context, saleID uuid.UUID, investor string) (*Allocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().GetAllocation(ctx, saleID, investor)
}

func (r *memRepo) ListAccounts(ctx context.Context, saleID uuid.UUID) ([]InvestorAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().ListAccounts(ctx, saleID)
}

func (r *memRepo) SaveConfig(ctx context.Context, cfg *SaleConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().SaveConfig(ctx, cfg)
}

func (r *memRepo) SaveLedger(ctx context.Context, ledger *SaleLedger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().SaveLedger(ctx, ledger)
}

func (r *memRepo) SaveAccount(ctx context.Context, acct *InvestorAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().SaveAccount(ctx, acct)
}

func (r *memRepo) SaveAllocation(ctx context.Context, alloc *Allocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().SaveAllocation(ctx, alloc)
}

func (r *memRepo) AppendEvents(ctx context.Context, events []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store().AppendEvents(ctx, events)
}

func (r *memRepo) CreateSale(ctx context.Context, cfg *SaleConfig, ledger *SaleLedger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.sales[cfg.ID] = *cfg
	r.data.ledgers[cfg.ID] = ledger.Clone()
	return nil
}

func (r *memRepo) ListSales(ctx context.Context) ([]SaleConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sales := make([]SaleConfig, 0, len(r.data.sales))
	for _, cfg := range r.data.sales {
		sales = append(sales, cfg)
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].CreatedAt.Before(sales[j].CreatedAt) })
	return sales, nil
}

func (r *memRepo) Atomic(ctx context.Context, saleID uuid.UUID, fn func(Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.sales[saleID]; !ok {
		return ErrSaleNotFound
	}
	staged := r.data.clone()
	if err := fn(&memStore{data: staged}); err != nil {
		return err
	}
	r.data = staged
	return nil
}

func (r *memRepo) PendingEvents(ctx context.Context, limit int) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []Event
	for _, row := range r.data.outbox {
		if row.DispatchedAt == nil && len(events) < limit {
			events = append(events, row.toEvent())
		}
	}
	return events, nil
}

func (r *memRepo) MarkDispatched(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	marked := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}
	for i := range r.data.outbox {
		if marked[r.data.outbox[i].ID] {
			t := at
			r.data.outbox[i].DispatchedAt = &t
		}
	}
	return nil
}

func (r *memRepo) outbox() []OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OutboxEvent(nil), r.data.outbox...)
}

type memStore struct {
	data *memData
}

func (s *memStore) GetSale(ctx context.Context, id uuid.UUID) (*SaleConfig, error) {
	cfg, ok := s.data.sales[id]
	if !ok {
		return nil, ErrSaleNotFound
	}
	return &cfg, nil
}

func (s *memStore) GetLedger(ctx context.Context, saleID uuid.UUID) (*SaleLedger, error) {
	ledger, ok := s.data.ledgers[saleID]
	if !ok {
		return nil, ErrSaleNotFound
	}
	return ledger.Clone(), nil
}

func (s *memStore) GetAccount(ctx context.Context, saleID uuid.UUID, investor string) (*InvestorAccount, error) {
	acct, ok := s.data.accounts[accountKey{saleID, investor}]
	if !ok {
		return nil, nil
	}
	return &acct, nil
}

func (s *memStore) GetAllocation(ctx context.Context, saleID uuid.UUID, investor string) (*Allocation, error) {
	alloc, ok := s.data.allocs[accountKey{saleID, investor}]
	if !ok {
		return nil, nil
	}
	return &alloc, nil
}

func (s *memStore) ListAccounts(ctx context.Context, saleID uuid.UUID) ([]InvestorAccount, error) {
	var accounts []InvestorAccount
	for key, acct := range s.data.accounts {
		if key.saleID == saleID {
			accounts = append(accounts, acct)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Investor < accounts[j].Investor })
	return accounts, nil
}

func (s *memStore) SaveConfig(ctx context.Context, cfg *SaleConfig) error {
	s.data.sales[cfg.ID] = *cfg
	return nil
}

func (s *memStore) SaveLedger(ctx context.Context, ledger *SaleLedger) error {
	s.data.ledgers[ledger.SaleID] = ledger.Clone()
	return nil
}

func (s *memStore) SaveAccount(ctx context.Context, acct *InvestorAccount) error {
	s.data.accounts[accountKey{acct.SaleID, acct.Investor}] = *acct
	return nil
}

func (s *memStore) SaveAllocation(ctx context.Context, alloc *Allocation) error {
	s.data.allocs[accountKey{alloc.SaleID, alloc.Investor}] = *alloc
	return nil
}

func (s *memStore) AppendEvents(ctx context.Context, events []Event) error {
	for _, ev := range events {
		s.data.outbox = append(s.data.outbox, ev.toOutbox())
	}
	return nil
}

// MockSettlement is a mock implementation of the Settlement interface
type MockSettlement struct {
	mock.Mock
}

func (m *MockSettlement) Collect(ctx context.Context, t Transfer) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockSettlement) Release(ctx context.Context, t Transfer) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

// MockEventSink is a mock implementation of the EventSink interface
type MockEventSink struct {
	mock.Mock
}

func (m *MockEventSink) Publish(ctx context.Context, events []Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// manualClock is a clock tests move by hand.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock {
	return &manualClock{now: t}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
