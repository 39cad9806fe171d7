package sale

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service runs sale operations inside repository transactions and hands the
// resulting events to the sink once they are committed.
type Service struct {
	repo         Repository
	machine      *Machine
	clock        Clock
	sink         EventSink
	settlement   Settlement
	maxInvestors int
	logger       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithSettlement(settlement Settlement) Option {
	return func(s *Service) { s.settlement = settlement }
}

func WithAuthorizer(authorize Authorizer) Option {
	return func(s *Service) { s.machine = NewMachine(authorize) }
}

// WithMaxInvestors sets the registry size of sales created without one.
func WithMaxInvestors(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxInvestors = n
		}
	}
}

// NewService creates a new sale service
func NewService(repo Repository, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		machine:      NewMachine(nil),
		clock:        SystemClock,
		sink:         nopSink{},
		maxInvestors: DefaultMaxInvestors,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.settlement == nil {
		s.settlement = NewLogSettlement(logger)
	}
	if _, ok := s.clock.(*MonotonicClock); !ok {
		s.clock = NewMonotonicClock(s.clock)
	}
	return s
}

// =====================================================
// Admin Operations
// =====================================================

// CreateSale creates a sale administered by caller.
func (s *Service) CreateSale(ctx context.Context, caller string, req *CreateSaleRequest) (*SaleConfig, error) {
	now := s.clock.Now()
	r := *req
	if r.MaxInvestors == 0 {
		r.MaxInvestors = s.maxInvestors
	}
	cfg, ledger, err := s.machine.CreateSale(caller, &r, now)
	if err != nil {
		s.logRejected(OpCreateSale, uuid.Nil, caller, err)
		return nil, err
	}
	if err := s.repo.CreateSale(ctx, cfg, ledger); err != nil {
		s.logRejected(OpCreateSale, cfg.ID, caller, err)
		return nil, err
	}

	s.logger.Info("Sale created",
		zap.String("sale_id", cfg.ID.String()),
		zap.String("name", cfg.Name),
		zap.String("admin", cfg.Admin),
		zap.Time("funding_start", cfg.FundingStart),
		zap.Time("funding_end", cfg.FundingEnd),
	)
	return cfg, nil
}

func (s *Service) SetCliffPercent(ctx context.Context, saleID uuid.UUID, caller string, percent int) (*SaleConfig, error) {
	var cfg *SaleConfig
	err := s.execute(ctx, OpSetCliffPercent, saleID, caller, func(st Store, now time.Time) ([]Event, error) {
		var err error
		if cfg, err = st.GetSale(ctx, saleID); err != nil {
			return nil, err
		}
		events, err := s.machine.SetCliffPercent(cfg, caller, percent, now)
		if err != nil {
			return nil, err
		}
		return events, st.SaveConfig(ctx, cfg)
	})
	return cfgOrNil(cfg, err)
}

func (s *Service) SetClaimingEnd(ctx context.Context, saleID uuid.UUID, caller string, end time.Time) (*SaleConfig, error) {
	var cfg *SaleConfig
	err := s.execute(ctx, OpSetClaimingEnd, saleID, caller, func(st Store, now time.Time) ([]Event, error) {
		var err error
		if cfg, err = st.GetSale(ctx, saleID); err != nil {
			return nil, err
		}
		events, err := s.machine.SetClaimingEnd(cfg, caller, end, now)
		if err != nil {
			return nil, err
		}
		return events, st.SaveConfig(ctx, cfg)
	})
	return cfgOrNil(cfg, err)
}

// OpenClaiming opens claiming with the vesting window starting at start, or
// at the current time when start is nil.
func (s *Service) OpenClaiming(ctx context.Context, saleID uuid.UUID, caller string, start *time.Time) (*SaleConfig, error) {
	var cfg *SaleConfig
	err := s.execute(ctx, OpOpenClaiming, saleID, caller, func(st Store, now time.Time) ([]Event, error) {
		var err error
		if cfg, err = st.GetSale(ctx, saleID); err != nil {
			return nil, err
		}
		at := now
		if start != nil {
			at = *start
		}
		events, err := s.machine.OpenClaiming(cfg, caller, at, now)
		if err != nil {
			return nil, err
		}
		return events, st.SaveConfig(ctx, cfg)
	})
	return cfgOrNil(cfg, err)
}

func (s *Service) SetAllocation(ctx context.Context, saleID uuid.UUID, caller, investor string, limit Amount) (*Allocation, error) {
	var alloc *Allocation
	err := s.execute(ctx, OpSetAllocation, saleID, caller, func(st Store, now time.Time) ([]Event, error) {
		cfg, err := st.GetSale(ctx, saleID)
		if err != nil {
			return nil, err
		}
		current, err := st.GetAllocation(ctx, saleID, investor)
		if err != nil {
			return nil, err
		}
		updated, events, err := s.machine.SetAllocation(cfg, current, caller, investor, limit, now)
		if err != nil {
			return nil, err
		}
		alloc = updated
		return events, st.SaveAllocation(ctx, alloc)
	})
	if err != nil {
		return nil, err
	}
	return alloc, nil
}

// FundSale records the admin's sale-asset deposit and collects it.
func (s *Service) FundSale(ctx context.Context, saleID uuid.UUID, caller string, amount Amount) (*SaleConfig, error) {
	var cfg *SaleConfig
	err := s.execute(ctx, OpFundSale, saleID, caller, func(st Store, now time.Time) ([]Event, error) {
		var (
			ledger *SaleLedger
			err    error
		)
		if cfg, ledger, err = loadSale(ctx, st, saleID); err != nil {
			return nil, err
		}
		events, err := s.machine.FundSale(cfg, ledger, caller, amount, now)
		if err != nil {
			return nil, err
		}
		if err := st.SaveConfig(ctx, cfg); err != nil {
			return nil, err
		}
		return events, s.settlement.Collect(ctx, Transfer{
			SaleID: saleID, Asset: AssetSale, Party: caller, Amount: amount, Reason: OpFundSale,
		})
	})
	return cfgOrNil(cfg, err)
}

func (s *Service) CancelSale(ctx context.Context, saleID uuid.UUID, caller string) (*SaleConfig, error) {
	var cfg *SaleConfig
	err := s.execute(ctx, OpCancelSale, saleID, caller, func(st Store, now time.Time) ([]Event, error) {
		var err error
		if cfg, err = st.GetSale(ctx, saleID); err != nil {
			return nil, err
		}
		events, err := s.machine.CancelSale(cfg, caller, now)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			return nil, nil
		}
		return events, st.SaveConfig(ctx, cfg)
	})
	return cfgOrNil(cfg, err)
}

func (s *Service) WithdrawPayment(ctx context.Context, saleID uuid.UUID, caller string, amount Amount) (*SaleConfig, error) {
	var cfg *SaleConfig
	err := s.execute(ctx, OpWithdrawPayment, saleID, caller, func(st Store, now time.Time) ([]Event, error) {
		var (
			ledger *SaleLedger
			err    error
		)
		if cfg, ledger, err = loadSale(ctx, st, saleID); err != nil {
			return nil, err
		}
		events, err := s.machine.WithdrawPayment(cfg, ledger, caller, amount, now)
		if err != nil {
			return nil, err
		}
		if err := st.SaveConfig(ctx, cfg); err != nil {
			return nil, err
		}
		return events, s.settlement.Release(ctx, Transfer{
			SaleID: saleID, Asset: AssetPayment, Party: caller, Amount: amount, Reason: OpWithdrawPayment,
		})
	})
	return cfgOrNil(cfg, err)
}

func (s *Service) WithdrawUnsold(ctx context.Context, saleID uuid.UUID, caller string, amount Amount) (*SaleConfig, error) {
	var cfg *SaleConfig
	err := s.execute(ctx, OpWithdrawUnsold, saleID, caller, func(st Store, now time.Time) ([]Event, error) {
		var (
			ledger *SaleLedger
			err    error
		)
		if cfg, ledger, err = loadSale(ctx, st, saleID); err != nil {
			return nil, err
		}
		events, err := s.machine.WithdrawUnsold(cfg, ledger, caller, amount, now)
		if err != nil {
			return nil, err
		}
		if err := st.SaveConfig(ctx, cfg); err != nil {
			return nil, err
		}
		return events, s.settlement.Release(ctx, Transfer{
			SaleID: saleID, Asset: AssetSale, Party: caller, Amount: amount, Reason: OpWithdrawUnsold,
		})
	})
	return cfgOrNil(cfg, err)
}

// =====================================================
// Investor Operations
// =====================================================

// RegisterInvestor creates the caller's account if it does not exist yet.
func (s *Service) RegisterInvestor(ctx context.Context, saleID uuid.UUID, caller string) (*InvestorAccount, error) {
	var acct *InvestorAccount
	err := s.execute(ctx, OpRegisterInvestor, saleID, caller, func(st Store, now time.Time) ([]Event, error) {
		cfg, err := st.GetSale(ctx, saleID)
		if err != nil {
			return nil, err
		}
		existing, err := st.GetAccount(ctx, saleID, caller)
		if err != nil {
			return nil, err
		}
		var created bool
		acct, created, err = s.machine.RegisterInvestor(cfg, existing, caller, now)
		if err != nil {
			return nil, err
		}
		if !created {
			return nil, nil
		}
		return nil, st.SaveAccount(ctx, acct)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Service) Purchase(ctx context.Context, saleID uuid.UUID, caller string, payment Amount) (*PurchaseReceipt, error) {
	var receipt *PurchaseReceipt
	err := s.execute(ctx, OpPurchase, saleID, caller, func(st Store, now time.Time) ([]Event, error) {
		cfg, ledger, err := loadSale(ctx, st, saleID)
		if err != nil {
			return nil, err
		}
		acct, err := st.GetAccount(ctx, saleID, caller)
		if err != nil {
			return nil, err
		}
		alloc, err := st.GetAllocation(ctx, saleID, caller)
		if err != nil {
			return nil, err
		}
		var events []Event
		receipt, events, err = s.machine.Purchase(PurchaseInput{
			Config:     cfg,
			Ledger:     ledger,
			Account:    acct,
			Allocation: alloc,
			Caller:     caller,
			Payment:    payment,
			Now:        now,
		})
		if err != nil {
			return nil, err
		}
		if err := st.SaveAccount(ctx, acct); err != nil {
			return nil, err
		}
		if err := st.SaveLedger(ctx, ledger); err != nil {
			return nil, err
		}
		return events, s.settlement.Collect(ctx, Transfer{
			SaleID: saleID, Asset: AssetPayment, Party: caller, Amount: payment, Reason: OpPurchase,
		})
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Claim releases the caller's vested sale asset and returns the increment.
func (s *Service) Claim(ctx context.Context, saleID uuid.UUID, caller string) (Amount, error) {
	var released Amount
	err := s.execute(ctx, OpClaim, saleID, caller, func(st Store, now time.Time) ([]Event, error) {
		cfg, ledger, err := loadSale(ctx, st, saleID)
		if err != nil {
			return nil, err
		}
		acct, err := st.GetAccount(ctx, saleID, caller)
		if err != nil {
			return nil, err
		}
		increment, events, err := s.machine.Claim(cfg, ledger, acct, caller, now)
		if err != nil {
			return nil, err
		}
		released = increment
		if err := st.SaveAccount(ctx, acct); err != nil {
			return nil, err
		}
		if err := st.SaveLedger(ctx, ledger); err != nil {
			return nil, err
		}
		if increment.IsZero() {
			return events, nil
		}
		return events, s.settlement.Release(ctx, Transfer{
			SaleID: saleID, Asset: AssetSale, Party: caller, Amount: increment, Reason: OpClaim,
		})
	})
	if err != nil {
		return Zero, err
	}
	return released, nil
}

// Refund returns the caller's payment after cancellation.
func (s *Service) Refund(ctx context.Context, saleID uuid.UUID, caller string) (Amount, error) {
	var refunded Amount
	err := s.execute(ctx, OpRefund, saleID, caller, func(st Store, now time.Time) ([]Event, error) {
		cfg, ledger, err := loadSale(ctx, st, saleID)
		if err != nil {
			return nil, err
		}
		acct, err := st.GetAccount(ctx, saleID, caller)
		if err != nil {
			return nil, err
		}
		amount, err := s.machine.Refund(cfg, ledger, acct, caller, now)
		if err != nil {
			return nil, err
		}
		refunded = amount
		if err := st.SaveAccount(ctx, acct); err != nil {
			return nil, err
		}
		if err := st.SaveLedger(ctx, ledger); err != nil {
			return nil, err
		}
		if amount.IsZero() {
			return nil, nil
		}
		return nil, s.settlement.Release(ctx, Transfer{
			SaleID: saleID, Asset: AssetPayment, Party: caller, Amount: amount, Reason: OpRefund,
		})
	})
	if err != nil {
		return Zero, err
	}
	return refunded, nil
}

// =====================================================
// Queries
// =====================================================

func (s *Service) GetSale(ctx context.Context, saleID uuid.UUID) (*SaleConfig, error) {
	return s.repo.GetSale(ctx, saleID)
}

func (s *Service) ListSales(ctx context.Context) ([]SaleConfig, error) {
	return s.repo.ListSales(ctx)
}

// GetAccount returns the investor's account or ErrAccountNotFound.
func (s *Service) GetAccount(ctx context.Context, saleID uuid.UUID, investor string) (*InvestorAccount, error) {
	if _, err := s.repo.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	acct, err := s.repo.GetAccount(ctx, saleID, investor)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

func (s *Service) ListAccounts(ctx context.Context, saleID uuid.UUID) ([]InvestorAccount, error) {
	if _, err := s.repo.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return s.repo.ListAccounts(ctx, saleID)
}

// ListInvestors returns the registry in purchase order.
func (s *Service) ListInvestors(ctx context.Context, saleID uuid.UUID) ([]string, error) {
	ledger, err := s.repo.GetLedger(ctx, saleID)
	if err != nil {
		return nil, err
	}
	return append([]string{}, ledger.Investors...), nil
}

func (s *Service) IsInvestor(ctx context.Context, saleID uuid.UUID, investor string) (bool, error) {
	ledger, err := s.repo.GetLedger(ctx, saleID)
	if err != nil {
		return false, err
	}
	return ledger.HasInvestor(investor), nil
}

// Totals returns the sale config and ledger with the phase at the current time.
func (s *Service) Totals(ctx context.Context, saleID uuid.UUID) (*TotalsSnapshot, error) {
	cfg, ledger, err := loadSale(ctx, s.repo, saleID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	phase := PhaseAt(cfg, now)
	return &TotalsSnapshot{
		Config:     *cfg,
		Ledger:     *ledger,
		Phase:      phase,
		NextPhases: phase.Next(),
		AsOf:       now,
	}, nil
}

// QuoteMaxPayment is the payment the investor may still make: allocation
// cap minus what was already spent.
func (s *Service) QuoteMaxPayment(ctx context.Context, saleID uuid.UUID, investor string) (*Quote, error) {
	if _, err := s.repo.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	alloc, err := s.repo.GetAllocation(ctx, saleID, investor)
	if err != nil {
		return nil, err
	}
	acct, err := s.repo.GetAccount(ctx, saleID, investor)
	if err != nil {
		return nil, err
	}
	remaining := Zero
	if alloc != nil {
		spent := Zero
		if acct != nil {
			spent = acct.Spent
		}
		if alloc.Cap.Cmp(spent) > 0 {
			remaining, _ = alloc.Cap.Sub(spent)
		}
	}
	return &Quote{Amount: remaining, Display: FormatUnits(remaining, PaymentAssetDecimals)}, nil
}

// QuoteSaleAmount prices a payment in sale-asset units.
func (s *Service) QuoteSaleAmount(ctx context.Context, saleID uuid.UUID, payment Amount) (*Quote, error) {
	cfg, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	amount, err := cfg.Converter().ToSaleAmount(payment)
	if err != nil {
		return nil, err
	}
	return &Quote{Amount: amount, Display: FormatUnits(amount, SaleAssetDecimals)}, nil
}

// PreviewClaimable returns what Claim would release now without claiming.
// It is zero whenever Claim could not release anything.
func (s *Service) PreviewClaimable(ctx context.Context, saleID uuid.UUID, investor string) (*Quote, error) {
	cfg, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	acct, err := s.repo.GetAccount(ctx, saleID, investor)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	amount := Zero
	if acct != nil && PhaseAt(cfg, now).Closed() && cfg.Funded && cfg.ClaimingOpen &&
		!cfg.Canceled && acct.Claimed.Cmp(acct.Entitled) < 0 &&
		!(cfg.CliffPercent == 0 && now.Before(cfg.ClaimingStart)) {
		if amount, err = claimableFor(cfg, acct, now); err != nil {
			return nil, err
		}
	}
	return &Quote{Amount: amount, Display: FormatUnits(amount, SaleAssetDecimals)}, nil
}

// =====================================================
// Event Relay
// =====================================================

// RelayPending redelivers up to limit committed events the sink has not
// accepted yet and reports how many were delivered.
func (s *Service) RelayPending(ctx context.Context, limit int) (int, error) {
	events, err := s.repo.PendingEvents(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	if err := s.publish(ctx, events); err != nil {
		return 0, err
	}
	return len(events), nil
}

func (s *Service) publish(ctx context.Context, events []Event) error {
	if err := s.sink.Publish(ctx, events); err != nil {
		return err
	}
	ids := make([]uuid.UUID, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return s.repo.MarkDispatched(ctx, ids, s.clock.Now())
}

// =====================================================
// Helpers
// =====================================================

// execute runs fn under the sale's lock, stores the events it returns in the
// same transaction and dispatches them after commit.
func (s *Service) execute(ctx context.Context, op Operation, saleID uuid.UUID, caller string, fn func(st Store, now time.Time) ([]Event, error)) error {
	now := s.clock.Now()
	var events []Event
	err := s.repo.Atomic(ctx, saleID, func(st Store) error {
		evs, err := fn(st, now)
		if err != nil {
			return err
		}
		if err := st.AppendEvents(ctx, evs); err != nil {
			return err
		}
		events = evs
		return nil
	})
	if err != nil {
		s.logRejected(op, saleID, caller, err)
		return err
	}

	s.logger.Info("Sale operation applied",
		zap.String("operation", string(op)),
		zap.String("sale_id", saleID.String()),
		zap.String("caller", caller),
		zap.Int("events", len(events)),
	)
	if len(events) > 0 {
		if err := s.publish(ctx, events); err != nil {
			s.logger.Warn("Event dispatch deferred to relay",
				zap.String("sale_id", saleID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) logRejected(op Operation, saleID uuid.UUID, caller string, err error) {
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.String("sale_id", saleID.String()),
		zap.String("caller", caller),
		zap.Error(err),
	}
	var saleErr *Error
	if errors.As(err, &saleErr) {
		s.logger.Info("Sale operation rejected", append(fields, zap.String("code", string(saleErr.Code)))...)
		return
	}
	s.logger.Error("Sale operation failed", fields...)
}

func loadSale(ctx context.Context, st Store, saleID uuid.UUID) (*SaleConfig, *SaleLedger, error) {
	cfg, err := st.GetSale(ctx, saleID)
	if err != nil {
		return nil, nil, err
	}
	ledger, err := st.GetLedger(ctx, saleID)
	if err != nil {
		return nil, nil, err
	}
	return cfg, ledger, nil
}

func cfgOrNil(cfg *SaleConfig, err error) (*SaleConfig, error) {
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
