package sale

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAdmin    = "admin"
	testInvestor = "alice"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestConfig() *SaleConfig {
	return &SaleConfig{
		ID:              uuid.New(),
		Name:            "test sale",
		Admin:           testAdmin,
		PriceRatio:      4000,
		PriceMultiplier: DefaultPriceMultiplier,
		FundingStart:    t0.Add(time.Hour),
		FundingEnd:      t0.Add(2 * time.Hour),
		ClaimingEnd:     t0.Add(4 * time.Hour),
		MaxInvestors:    DefaultMaxInvestors,
	}
}

type fixture struct {
	cfg    *SaleConfig
	ledger *SaleLedger
	acct   *InvestorAccount
	alloc  *Allocation
}

func newFixture() *fixture {
	cfg := newTestConfig()
	return &fixture{
		cfg:    cfg,
		ledger: &SaleLedger{SaleID: cfg.ID},
		acct:   &InvestorAccount{SaleID: cfg.ID, Investor: testInvestor},
		alloc:  &Allocation{SaleID: cfg.ID, Investor: testInvestor, Cap: NewAmount(100_000_000)},
	}
}

// snapshot copies every record so later mutation can be detected.
func (f *fixture) snapshot() fixture {
	cfg, acct, alloc := *f.cfg, *f.acct, *f.alloc
	return fixture{cfg: &cfg, ledger: f.ledger.Clone(), acct: &acct, alloc: &alloc}
}

func (f *fixture) purchase(m *Machine, caller string, payment uint64, now time.Time) (*PurchaseReceipt, error) {
	receipt, _, err := m.Purchase(PurchaseInput{
		Config:     f.cfg,
		Ledger:     f.ledger,
		Account:    f.acct,
		Allocation: f.alloc,
		Caller:     caller,
		Payment:    NewAmount(payment),
		Now:        now,
	})
	return receipt, err
}

func duringFunding() time.Time { return t0.Add(90 * time.Minute) }
func afterFunding() time.Time  { return t0.Add(2*time.Hour + time.Second) }

func TestPhaseAt(t *testing.T) {
	cfg := newTestConfig()

	assert.Equal(t, PhasePending, PhaseAt(cfg, t0))
	assert.Equal(t, PhaseFundingOpen, PhaseAt(cfg, cfg.FundingStart))
	assert.Equal(t, PhaseFundingOpen, PhaseAt(cfg, cfg.FundingEnd))
	assert.Equal(t, PhaseFundingClosed, PhaseAt(cfg, cfg.FundingEnd.Add(time.Second)))

	assert.Equal(t, []Phase{PhaseFundingOpen}, PhasePending.Next())
	assert.Empty(t, PhaseFundingClosed.Next())
	assert.True(t, PhasePending.CanAdvanceTo(PhaseFundingClosed))
	assert.False(t, PhaseFundingClosed.CanAdvanceTo(PhaseFundingOpen))
	assert.False(t, PhaseFundingClosed.CanAdvanceTo(PhaseFundingClosed))
	assert.True(t, PhaseFundingClosed.Closed())
	assert.False(t, PhaseFundingOpen.Closed())
}

func TestCreateSaleValidation(t *testing.T) {
	m := NewMachine(nil)
	valid := func() *CreateSaleRequest {
		return &CreateSaleRequest{
			Name:         "  sale  ",
			PriceRatio:   4000,
			FundingStart: t0,
			FundingEnd:   t0.Add(time.Hour),
			ClaimingEnd:  t0.Add(2 * time.Hour),
		}
	}

	cfg, ledger, err := m.CreateSale(testAdmin, valid(), t0)
	require.NoError(t, err)
	assert.Equal(t, "sale", cfg.Name)
	assert.Equal(t, testAdmin, cfg.Admin)
	assert.Equal(t, uint64(DefaultPriceMultiplier), cfg.PriceMultiplier)
	assert.Equal(t, DefaultMaxInvestors, cfg.MaxInvestors)
	assert.Equal(t, cfg.ID, ledger.SaleID)
	assert.True(t, ledger.TotalSpent.IsZero())
	assert.Empty(t, ledger.Investors)

	tests := []struct {
		name    string
		mutate  func(*CreateSaleRequest)
		caller  string
		wantErr error
	}{
		{"equal window", func(r *CreateSaleRequest) { r.FundingEnd = r.FundingStart }, testAdmin, ErrInvalidWindow},
		{"reversed window", func(r *CreateSaleRequest) { r.FundingEnd = r.FundingStart.Add(-time.Second) }, testAdmin, ErrInvalidWindow},
		{"zero ratio", func(r *CreateSaleRequest) { r.PriceRatio = 0 }, testAdmin, ErrInvalidPrice},
		{"cliff over 100", func(r *CreateSaleRequest) { r.CliffPercent = 101 }, testAdmin, ErrPercentageOutOfRange},
		{"anonymous", func(r *CreateSaleRequest) {}, "", ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			_, _, err := m.CreateSale(tt.caller, req, t0)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegisterInvestorIsIdempotent(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()

	acct, created, err := m.RegisterInvestor(f.cfg, nil, testInvestor, t0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, testInvestor, acct.Investor)

	acct.Spent = NewAmount(5)
	again, created, err := m.RegisterInvestor(f.cfg, acct, testInvestor, t0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, acct, again)
	assert.Equal(t, "5", again.Spent.String())
}

func TestPurchase(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()

	receipt, events, err := m.Purchase(PurchaseInput{
		Config: f.cfg, Ledger: f.ledger, Account: f.acct, Allocation: f.alloc,
		Caller: testInvestor, Payment: NewAmount(40_000_000), Now: duringFunding(),
	})
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000000", receipt.SaleAmount.String())
	assert.Equal(t, "40000000", f.acct.Spent.String())
	assert.Equal(t, "100000000000000000000", f.acct.Entitled.String())
	assert.Equal(t, "40000000", f.ledger.TotalSpent.String())
	assert.Equal(t, "100000000000000000000", f.ledger.TotalAllocated.String())
	assert.Equal(t, []string{testInvestor}, []string(f.ledger.Investors))
	assert.Equal(t, 1, f.ledger.InvestorCount)
	require.Len(t, events, 1)
	assert.Equal(t, EventPurchased, events[0].Kind)
	assert.JSONEq(t, fmt.Sprintf(
		`{"investor":"alice","payment_amount":"40000000","sale_amount":"100000000000000000000","timestamp":%d}`,
		duringFunding().Unix()), string(events[0].Payload))

	// a second purchase accumulates without re-registering the investor
	_, err = f.purchase(m, testInvestor, 20_000_000, duringFunding())
	require.NoError(t, err)
	assert.Equal(t, "60000000", f.acct.Spent.String())
	assert.Equal(t, "150000000000000000000", f.ledger.TotalAllocated.String())
	assert.Equal(t, 1, f.ledger.InvestorCount)
	assert.Len(t, f.ledger.Investors, 1)
}

func TestPurchaseFailuresDoNotMutate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fixture)
		caller  string
		payment uint64
		now     time.Time
		wantErr error
	}{
		{"before funding", nil, testInvestor, 1_000_000, t0, ErrFundingNotOpen},
		{"after funding", nil, testInvestor, 1_000_000, afterFunding(), ErrFundingNotOpen},
		{"canceled", func(f *fixture) { f.cfg.Canceled = true }, testInvestor, 1_000_000, duringFunding(), ErrSaleCanceled},
		{"zero payment", nil, testInvestor, 0, duringFunding(), ErrInvalidAmount},
		{"over cap", nil, testInvestor, 100_000_001, duringFunding(), ErrAllocationExceeded},
		{"cumulative over cap", func(f *fixture) { f.acct.Spent = NewAmount(90_000_000) }, testInvestor, 20_000_000, duringFunding(), ErrAllocationExceeded},
		{"no allocation", func(f *fixture) { f.alloc.Cap = Zero }, testInvestor, 1_000_000, duringFunding(), ErrAllocationExceeded},
		{"partial purchase", func(f *fixture) { f.cfg.SingleTransactionOnly = true }, testInvestor, 50_000_000, duringFunding(), ErrPartialPurchaseNotAllowed},
		{"buys nothing", nil, testInvestor, 3_999, duringFunding(), ErrInvalidAmount},
		{"anonymous", nil, "", 1_000_000, duringFunding(), ErrUnauthorized},
		{"investor cap", func(f *fixture) {
			f.cfg.MaxInvestors = 2
			f.ledger.Investors = []string{"x", "y"}
			f.ledger.InvestorCount = 2
		}, testInvestor, 1_000_000, duringFunding(), ErrInvestorCapReached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			f := newFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			before := f.snapshot()

			_, err := f.purchase(m, tt.caller, tt.payment, tt.now)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, *before.cfg, *f.cfg)
			assert.Equal(t, *before.ledger, *f.ledger)
			assert.Equal(t, *before.acct, *f.acct)
		})
	}
}

func TestPurchaseWithoutAccount(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()
	f.acct = nil

	_, err := f.purchase(m, testInvestor, 1_000_000, duringFunding())
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.True(t, f.ledger.TotalSpent.IsZero())
}

func TestSingleTransactionPurchaseOfFullCap(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()
	f.cfg.SingleTransactionOnly = true

	_, err := f.purchase(m, testInvestor, 100_000_000, duringFunding())
	require.NoError(t, err)

	_, err = f.purchase(m, testInvestor, 100_000_000, duringFunding())
	assert.ErrorIs(t, err, ErrAllocationExceeded)
}

func TestHundredAndFirstInvestorIsRejected(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()
	now := duringFunding()

	for i := 0; i < DefaultMaxInvestors; i++ {
		investor := fmt.Sprintf("investor-%03d", i)
		acct := &InvestorAccount{SaleID: f.cfg.ID, Investor: investor}
		alloc := &Allocation{SaleID: f.cfg.ID, Investor: investor, Cap: NewAmount(1_000_000)}
		_, _, err := m.Purchase(PurchaseInput{
			Config: f.cfg, Ledger: f.ledger, Account: acct, Allocation: alloc,
			Caller: investor, Payment: NewAmount(1_000_000), Now: now,
		})
		require.NoError(t, err)
	}
	require.Equal(t, DefaultMaxInvestors, f.ledger.InvestorCount)
	before := f.ledger.Clone()

	_, err := f.purchase(m, testInvestor, 1_000_000, now)
	assert.ErrorIs(t, err, ErrInvestorCapReached)
	assert.Equal(t, *before, *f.ledger)
	assert.True(t, f.acct.Spent.IsZero())

	// existing investors may still top up
	existing := &InvestorAccount{SaleID: f.cfg.ID, Investor: "investor-000", Spent: NewAmount(1_000_000)}
	_, _, err = m.Purchase(PurchaseInput{
		Config: f.cfg, Ledger: f.ledger, Account: existing,
		Allocation: &Allocation{Cap: NewAmount(2_000_000)},
		Caller:     "investor-000", Payment: NewAmount(1_000_000), Now: now,
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxInvestors, f.ledger.InvestorCount)
}

func TestAdminSetters(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()

	events, err := m.SetCliffPercent(f.cfg, testAdmin, 25, t0)
	require.NoError(t, err)
	assert.Equal(t, uint8(25), f.cfg.CliffPercent)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"field":"cliffPercent","old_value":"0","new_value":"25"}`, string(events[0].Payload))

	_, err = m.SetCliffPercent(f.cfg, testAdmin, 101, t0)
	assert.ErrorIs(t, err, ErrPercentageOutOfRange)
	assert.Equal(t, uint8(25), f.cfg.CliffPercent)

	end := t0.Add(10 * time.Hour)
	_, err = m.SetClaimingEnd(f.cfg, testAdmin, end, t0)
	require.NoError(t, err)
	assert.Equal(t, end, f.cfg.ClaimingEnd)

	start := t0.Add(3 * time.Hour)
	events, err = m.OpenClaiming(f.cfg, testAdmin, start, t0)
	require.NoError(t, err)
	assert.True(t, f.cfg.ClaimingOpen)
	assert.Equal(t, start, f.cfg.ClaimingStart)
	assert.Len(t, events, 2)

	_, err = m.SetCliffPercent(f.cfg, testAdmin, 10, t0)
	assert.ErrorIs(t, err, ErrClaimingAlreadyOpen)
	_, err = m.SetClaimingEnd(f.cfg, testAdmin, end.Add(time.Hour), t0)
	assert.ErrorIs(t, err, ErrClaimingAlreadyOpen)
	assert.Equal(t, end, f.cfg.ClaimingEnd)
}

func TestAuthorizationRunsFirst(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()
	f.cfg.ClaimingOpen = true
	before := f.snapshot()

	// claiming is open, but the caller check must win
	_, err := m.SetCliffPercent(f.cfg, testInvestor, 500, t0)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = m.FundSale(f.cfg, f.ledger, testInvestor, NewAmount(1), t0)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = m.CancelSale(f.cfg, testInvestor, t0)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = m.WithdrawPayment(f.cfg, f.ledger, testInvestor, NewAmount(1), t0)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, _, err = m.SetAllocation(f.cfg, nil, testInvestor, testInvestor, NewAmount(1), t0)
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, *before.cfg, *f.cfg)
}

func TestCustomAuthorizer(t *testing.T) {
	denyAll := func(op Operation, caller string, cfg *SaleConfig) error { return ErrUnauthorized }
	m := NewMachine(denyAll)
	f := newFixture()

	_, err := f.purchase(m, testInvestor, 1_000_000, duringFunding())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSetAllocation(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()

	alloc, events, err := m.SetAllocation(f.cfg, nil, testAdmin, "bob", NewAmount(5_000_000), t0)
	require.NoError(t, err)
	assert.Equal(t, "bob", alloc.Investor)
	assert.Equal(t, "5000000", alloc.Cap.String())
	assert.JSONEq(t, `{"field":"allocation:bob","old_value":"0","new_value":"5000000"}`, string(events[0].Payload))

	_, _, err = m.SetAllocation(f.cfg, alloc, testAdmin, "bob", NewAmount(1), afterFunding())
	assert.ErrorIs(t, err, ErrFundingEnded)
	assert.Equal(t, "5000000", alloc.Cap.String())

	f.cfg.Canceled = true
	_, _, err = m.SetAllocation(f.cfg, alloc, testAdmin, "bob", NewAmount(1), t0)
	assert.ErrorIs(t, err, ErrSaleCanceled)
}

func TestFundSale(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()
	_, err := f.purchase(m, testInvestor, 40_000_000, duringFunding())
	require.NoError(t, err)
	allocated := f.ledger.TotalAllocated

	_, err = m.FundSale(f.cfg, f.ledger, testAdmin, allocated, duringFunding())
	assert.ErrorIs(t, err, ErrFundingStillOpen)

	_, err = m.FundSale(f.cfg, f.ledger, testAdmin, NewAmount(1), afterFunding())
	assert.ErrorIs(t, err, ErrUnderAllocated)
	assert.False(t, f.cfg.Funded)

	_, err = m.FundSale(f.cfg, f.ledger, testAdmin, allocated, afterFunding())
	require.NoError(t, err)
	assert.True(t, f.cfg.Funded)
	assert.True(t, f.cfg.TotalSaleAssetSupplied.Equal(allocated))

	_, err = m.FundSale(f.cfg, f.ledger, testAdmin, allocated, afterFunding())
	assert.ErrorIs(t, err, ErrAlreadyFunded)

	canceled := newFixture()
	canceled.cfg.Canceled = true
	_, err = m.FundSale(canceled.cfg, canceled.ledger, testAdmin, Zero, afterFunding())
	assert.ErrorIs(t, err, ErrSaleCanceled)
}

// claimReady returns a funded sale with alice holding 100 sale tokens and
// claiming open from t0+3h to t0+4h.
func claimReady(t *testing.T, m *Machine) *fixture {
	f := newFixture()
	_, err := f.purchase(m, testInvestor, 40_000_000, duringFunding())
	require.NoError(t, err)
	_, err = m.FundSale(f.cfg, f.ledger, testAdmin, f.ledger.TotalAllocated, afterFunding())
	require.NoError(t, err)
	_, err = m.OpenClaiming(f.cfg, testAdmin, t0.Add(3*time.Hour), afterFunding())
	require.NoError(t, err)
	return f
}

func TestClaimPreconditionOrder(t *testing.T) {
	m := NewMachine(nil)

	tests := []struct {
		name    string
		setup   func(*fixture)
		now     time.Time
		wantErr error
	}{
		{"funding still open", nil, duringFunding(), ErrFundingStillOpen},
		{"canceled", func(f *fixture) { f.cfg.Canceled = true; f.cfg.Funded = false }, afterFunding(), ErrSaleCanceled},
		{"not funded", func(f *fixture) { f.cfg.Funded = false; f.cfg.ClaimingOpen = false }, afterFunding(), ErrNotFunded},
		{"claiming not open", func(f *fixture) { f.cfg.ClaimingOpen = false; f.acct = nil }, afterFunding(), ErrClaimingNotOpen},
		{"no account", func(f *fixture) { f.acct = nil }, afterFunding(), ErrAccountNotFound},
		{"not an investor", func(f *fixture) { f.ledger.Investors = nil }, afterFunding(), ErrNotAnInvestor},
		{"fully claimed", func(f *fixture) { f.acct.Claimed = f.acct.Entitled }, afterFunding(), ErrAlreadyFullyClaimed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := claimReady(t, m)
			if tt.setup != nil {
				tt.setup(f)
			}
			var before *InvestorAccount
			if f.acct != nil {
				copied := *f.acct
				before = &copied
			}

			_, _, err := m.Claim(f.cfg, f.ledger, f.acct, testInvestor, tt.now)
			assert.ErrorIs(t, err, tt.wantErr)
			if before != nil {
				assert.Equal(t, *before, *f.acct)
			}
		})
	}
}

func TestClaimSchedule(t *testing.T) {
	m := NewMachine(nil)
	f := claimReady(t, m)
	_, err := m.SetCliffPercent(f.cfg, testAdmin, 20, afterFunding())
	require.ErrorIs(t, err, ErrClaimingAlreadyOpen)
	f.cfg.CliffPercent = 20

	// before the vesting window only the cliff is available
	released, events, err := m.Claim(f.cfg, f.ledger, f.acct, testInvestor, t0.Add(2*time.Hour+10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "20000000000000000000", released.String())
	require.Len(t, events, 1)
	assert.Equal(t, EventClaimed, events[0].Kind)

	// halfway through the window: rate 8e19/3600 truncated, times 1800s
	halfway := t0.Add(3*time.Hour + 30*time.Minute)
	released, _, err = m.Claim(f.cfg, f.ledger, f.acct, testInvestor, halfway)
	require.NoError(t, err)
	assert.Equal(t, "39999999999999999600", released.String())
	assert.Equal(t, "59999999999999999600", f.acct.Claimed.String())

	// no time advance releases nothing
	released, _, err = m.Claim(f.cfg, f.ledger, f.acct, testInvestor, halfway)
	require.NoError(t, err)
	assert.True(t, released.IsZero())

	released, _, err = m.Claim(f.cfg, f.ledger, f.acct, testInvestor, t0.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "40000000000000000400", released.String())
	assert.True(t, f.acct.Claimed.Equal(f.acct.Entitled))

	_, _, err = m.Claim(f.cfg, f.ledger, f.acct, testInvestor, t0.Add(6*time.Hour))
	assert.ErrorIs(t, err, ErrAlreadyFullyClaimed)
}

func TestClaimWithoutCliffBeforeStartFails(t *testing.T) {
	m := NewMachine(nil)
	f := claimReady(t, m)
	before := *f.acct

	_, _, err := m.Claim(f.cfg, f.ledger, f.acct, testInvestor, afterFunding())
	assert.ErrorIs(t, err, ErrArithmeticUnderflow)
	assert.Equal(t, before, *f.acct)
}

func TestCancelAndRefund(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()
	_, err := f.purchase(m, testInvestor, 40_000_000, duringFunding())
	require.NoError(t, err)

	_, err = m.Refund(f.cfg, f.ledger, f.acct, testInvestor, afterFunding())
	assert.ErrorIs(t, err, ErrNotCanceled)

	events, err := m.CancelSale(f.cfg, testAdmin, afterFunding())
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.True(t, f.cfg.Canceled)

	events, err = m.CancelSale(f.cfg, testAdmin, afterFunding())
	require.NoError(t, err)
	assert.Empty(t, events)

	refunded, err := m.Refund(f.cfg, f.ledger, f.acct, testInvestor, afterFunding())
	require.NoError(t, err)
	assert.Equal(t, "40000000", refunded.String())
	assert.True(t, f.acct.Spent.IsZero())
	assert.True(t, f.acct.Refunded)
	assert.True(t, f.ledger.TotalSpent.IsZero())
	assert.Equal(t, "40000000", f.ledger.TotalRefunded.String())

	_, err = m.Refund(f.cfg, f.ledger, f.acct, testInvestor, afterFunding())
	assert.ErrorIs(t, err, ErrAlreadyRefunded)
	assert.Equal(t, "40000000", f.ledger.TotalRefunded.String())
}

func TestWithdrawals(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()
	_, err := f.purchase(m, testInvestor, 40_000_000, duringFunding())
	require.NoError(t, err)

	_, err = m.WithdrawPayment(f.cfg, f.ledger, testAdmin, NewAmount(1), duringFunding())
	assert.ErrorIs(t, err, ErrFundingStillOpen)

	_, err = m.WithdrawPayment(f.cfg, f.ledger, testAdmin, NewAmount(30_000_000), afterFunding())
	require.NoError(t, err)
	assert.Equal(t, "10000000", AvailablePayment(f.cfg, f.ledger).String())

	_, err = m.WithdrawPayment(f.cfg, f.ledger, testAdmin, NewAmount(10_000_001), afterFunding())
	assert.ErrorIs(t, err, ErrWithdrawalExceedsAvailable)
	assert.Equal(t, "30000000", f.cfg.PaymentWithdrawn.String())

	_, err = m.WithdrawUnsold(f.cfg, f.ledger, testAdmin, NewAmount(1), afterFunding())
	assert.ErrorIs(t, err, ErrNotFunded)

	supplied := MustParseAmount("150000000000000000000")
	_, err = m.FundSale(f.cfg, f.ledger, testAdmin, supplied, afterFunding())
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000000", AvailableUnsold(f.cfg, f.ledger).String())

	_, err = m.WithdrawUnsold(f.cfg, f.ledger, testAdmin, MustParseAmount("50000000000000000001"), afterFunding())
	assert.ErrorIs(t, err, ErrWithdrawalExceedsAvailable)

	_, err = m.WithdrawUnsold(f.cfg, f.ledger, testAdmin, MustParseAmount("50000000000000000000"), afterFunding())
	require.NoError(t, err)
	assert.True(t, AvailableUnsold(f.cfg, f.ledger).IsZero())

	_, err = m.WithdrawUnsold(f.cfg, f.ledger, testAdmin, Zero, afterFunding())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// once canceled only claimed sale asset stays reserved
	_, err = m.CancelSale(f.cfg, testAdmin, afterFunding())
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000000", AvailableUnsold(f.cfg, f.ledger).String())
}

func TestCanceledSaleKeepsPaymentForRefunds(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()
	_, err := f.purchase(m, testInvestor, 40_000_000, duringFunding())
	require.NoError(t, err)
	_, err = m.CancelSale(f.cfg, testAdmin, afterFunding())
	require.NoError(t, err)

	assert.True(t, AvailablePayment(f.cfg, f.ledger).IsZero())
	_, err = m.WithdrawPayment(f.cfg, f.ledger, testAdmin, NewAmount(40_000_000), afterFunding())
	assert.ErrorIs(t, err, ErrSaleCanceled)
	assert.True(t, f.cfg.PaymentWithdrawn.IsZero())

	refunded, err := m.Refund(f.cfg, f.ledger, f.acct, testInvestor, afterFunding())
	require.NoError(t, err)
	assert.Equal(t, "40000000", refunded.String())
}

func TestRefundCannotExceedHeldPayment(t *testing.T) {
	m := NewMachine(nil)
	f := newFixture()
	_, err := f.purchase(m, testInvestor, 40_000_000, duringFunding())
	require.NoError(t, err)

	_, err = m.WithdrawPayment(f.cfg, f.ledger, testAdmin, NewAmount(40_000_000), afterFunding())
	require.NoError(t, err)
	_, err = m.CancelSale(f.cfg, testAdmin, afterFunding())
	require.NoError(t, err)

	before := f.snapshot()
	_, err = m.Refund(f.cfg, f.ledger, f.acct, testInvestor, afterFunding())
	assert.ErrorIs(t, err, ErrRefundExceedsHeld)
	assert.Equal(t, *before.acct, *f.acct)
	assert.Equal(t, *before.ledger, *f.ledger)
}

func TestClaimedSaleAssetStaysReservedAfterCancel(t *testing.T) {
	m := NewMachine(nil)
	f := claimReady(t, m)
	f.cfg.CliffPercent = 20

	released, _, err := m.Claim(f.cfg, f.ledger, f.acct, testInvestor, t0.Add(2*time.Hour+10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "20000000000000000000", released.String())
	assert.True(t, f.ledger.TotalClaimed.Equal(released))

	_, err = m.CancelSale(f.cfg, testAdmin, afterFunding())
	require.NoError(t, err)
	assert.Equal(t, "80000000000000000000", AvailableUnsold(f.cfg, f.ledger).String())

	_, err = m.WithdrawUnsold(f.cfg, f.ledger, testAdmin, MustParseAmount("100000000000000000000"), afterFunding())
	assert.ErrorIs(t, err, ErrWithdrawalExceedsAvailable)

	_, err = m.WithdrawUnsold(f.cfg, f.ledger, testAdmin, MustParseAmount("80000000000000000000"), afterFunding())
	require.NoError(t, err)
	assert.True(t, AvailableUnsold(f.cfg, f.ledger).IsZero())
}
