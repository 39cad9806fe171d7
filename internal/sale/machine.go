package sale

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Machine applies sale operations to in-memory records.
//
// Every method runs all of its checks before touching any record, so a
// failed call leaves its arguments exactly as they were. Callers own
// persistence and serialization of concurrent calls.
type Machine struct {
	authorize Authorizer
}

// NewMachine creates a machine. A nil authorizer means DefaultAuthorizer.
func NewMachine(authorize Authorizer) *Machine {
	if authorize == nil {
		authorize = DefaultAuthorizer
	}
	return &Machine{authorize: authorize}
}

// CreateSale builds the config and empty ledger of a new sale.
func (m *Machine) CreateSale(caller string, req *CreateSaleRequest, now time.Time) (*SaleConfig, *SaleLedger, error) {
	if err := m.authorize(OpCreateSale, caller, nil); err != nil {
		return nil, nil, err
	}
	if !req.FundingStart.Before(req.FundingEnd) {
		return nil, nil, ErrInvalidWindow
	}
	if req.PriceRatio == 0 {
		return nil, nil, ErrInvalidPrice
	}
	if req.CliffPercent < 0 || req.CliffPercent > 100 {
		return nil, nil, ErrPercentageOutOfRange
	}
	if req.MaxInvestors < 0 {
		return nil, nil, fmt.Errorf("%w: max investors must not be negative", ErrInvalidAmount)
	}
	maxInvestors := req.MaxInvestors
	if maxInvestors == 0 {
		maxInvestors = DefaultMaxInvestors
	}

	cfg := &SaleConfig{
		ID:                    uuid.New(),
		Name:                  strings.TrimSpace(req.Name),
		Admin:                 caller,
		PriceRatio:            req.PriceRatio,
		PriceMultiplier:       DefaultPriceMultiplier,
		CliffPercent:          uint8(req.CliffPercent),
		FundingStart:          req.FundingStart.UTC(),
		FundingEnd:            req.FundingEnd.UTC(),
		ClaimingEnd:           req.ClaimingEnd.UTC(),
		MaxInvestors:          maxInvestors,
		SingleTransactionOnly: req.SingleTransactionOnly,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	ledger := &SaleLedger{SaleID: cfg.ID, UpdatedAt: now}
	return cfg, ledger, nil
}

// RegisterInvestor returns the caller's account, creating it when absent.
// An existing account is returned unchanged.
func (m *Machine) RegisterInvestor(cfg *SaleConfig, existing *InvestorAccount, caller string, now time.Time) (*InvestorAccount, bool, error) {
	if err := m.authorize(OpRegisterInvestor, caller, cfg); err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	return &InvestorAccount{
		SaleID:    cfg.ID,
		Investor:  caller,
		CreatedAt: now,
		UpdatedAt: now,
	}, true, nil
}

// SetCliffPercent changes the cliff before claiming opens.
func (m *Machine) SetCliffPercent(cfg *SaleConfig, caller string, percent int, now time.Time) ([]Event, error) {
	if err := m.authorize(OpSetCliffPercent, caller, cfg); err != nil {
		return nil, err
	}
	if cfg.ClaimingOpen {
		return nil, ErrClaimingAlreadyOpen
	}
	if percent < 0 || percent > 100 {
		return nil, ErrPercentageOutOfRange
	}
	ev, err := configChanged(cfg.ID, now, "cliffPercent", cfg.CliffPercent, percent)
	if err != nil {
		return nil, err
	}

	cfg.CliffPercent = uint8(percent)
	cfg.UpdatedAt = now
	return []Event{ev}, nil
}

// SetClaimingEnd changes the end of the vesting window before claiming opens.
func (m *Machine) SetClaimingEnd(cfg *SaleConfig, caller string, end time.Time, now time.Time) ([]Event, error) {
	if err := m.authorize(OpSetClaimingEnd, caller, cfg); err != nil {
		return nil, err
	}
	if cfg.ClaimingOpen {
		return nil, ErrClaimingAlreadyOpen
	}
	end = end.UTC()
	ev, err := configChanged(cfg.ID, now, "claimingEnd", formatTime(cfg.ClaimingEnd), formatTime(end))
	if err != nil {
		return nil, err
	}

	cfg.ClaimingEnd = end
	cfg.UpdatedAt = now
	return []Event{ev}, nil
}

// OpenClaiming starts the vesting window at start.
func (m *Machine) OpenClaiming(cfg *SaleConfig, caller string, start time.Time, now time.Time) ([]Event, error) {
	if err := m.authorize(OpOpenClaiming, caller, cfg); err != nil {
		return nil, err
	}
	start = start.UTC()
	opened, err := configChanged(cfg.ID, now, "claimingOpen", cfg.ClaimingOpen, true)
	if err != nil {
		return nil, err
	}
	started, err := configChanged(cfg.ID, now, "claimingStart", formatTime(cfg.ClaimingStart), formatTime(start))
	if err != nil {
		return nil, err
	}

	cfg.ClaimingOpen = true
	cfg.ClaimingStart = start
	cfg.UpdatedAt = now
	return []Event{opened, started}, nil
}

// SetAllocation sets the purchase cap of investor. alloc is the current
// allocation or nil; the updated allocation is returned.
func (m *Machine) SetAllocation(cfg *SaleConfig, alloc *Allocation, caller, investor string, limit Amount, now time.Time) (*Allocation, []Event, error) {
	if err := m.authorize(OpSetAllocation, caller, cfg); err != nil {
		return nil, nil, err
	}
	if investor == "" {
		return nil, nil, fmt.Errorf("%w: investor is required", ErrInvalidAmount)
	}
	if cfg.Canceled {
		return nil, nil, ErrSaleCanceled
	}
	if !PhaseAt(cfg, now).CanAdvanceTo(PhaseFundingClosed) {
		return nil, nil, ErrFundingEnded
	}
	old := Zero
	if alloc != nil {
		old = alloc.Cap
	}
	ev, err := configChanged(cfg.ID, now, "allocation:"+investor, old, limit)
	if err != nil {
		return nil, nil, err
	}

	if alloc == nil {
		alloc = &Allocation{SaleID: cfg.ID, Investor: investor}
	}
	alloc.Cap = limit
	alloc.UpdatedAt = now
	return alloc, []Event{ev}, nil
}

// FundSale records the sale-asset liquidity supplied by the admin.
func (m *Machine) FundSale(cfg *SaleConfig, ledger *SaleLedger, caller string, amount Amount, now time.Time) ([]Event, error) {
	if err := m.authorize(OpFundSale, caller, cfg); err != nil {
		return nil, err
	}
	if !PhaseAt(cfg, now).Closed() {
		return nil, ErrFundingStillOpen
	}
	if cfg.Canceled {
		return nil, ErrSaleCanceled
	}
	if cfg.Funded {
		return nil, ErrAlreadyFunded
	}
	if amount.Cmp(ledger.TotalAllocated) < 0 {
		return nil, ErrUnderAllocated
	}
	ev, err := configChanged(cfg.ID, now, "funded", false, amount)
	if err != nil {
		return nil, err
	}

	cfg.TotalSaleAssetSupplied = amount
	cfg.Funded = true
	cfg.UpdatedAt = now
	return []Event{ev}, nil
}

// PurchaseInput bundles the records a purchase reads and writes.
type PurchaseInput struct {
	Config     *SaleConfig
	Ledger     *SaleLedger
	Account    *InvestorAccount
	Allocation *Allocation
	Caller     string
	Payment    Amount
	Now        time.Time
}

// Purchase exchanges payment for sale-asset entitlement.
func (m *Machine) Purchase(in PurchaseInput) (*PurchaseReceipt, []Event, error) {
	cfg, ledger, acct := in.Config, in.Ledger, in.Account
	if err := m.authorize(OpPurchase, in.Caller, cfg); err != nil {
		return nil, nil, err
	}
	if PhaseAt(cfg, in.Now) != PhaseFundingOpen {
		return nil, nil, ErrFundingNotOpen
	}
	if cfg.Canceled {
		return nil, nil, ErrSaleCanceled
	}
	if in.Payment.IsZero() {
		return nil, nil, ErrInvalidAmount
	}
	if acct == nil {
		return nil, nil, ErrAccountNotFound
	}

	limit := Zero
	if in.Allocation != nil {
		limit = in.Allocation.Cap
	}
	spent, err := acct.Spent.Add(in.Payment)
	if err != nil {
		return nil, nil, err
	}
	if spent.Cmp(limit) > 0 {
		return nil, nil, ErrAllocationExceeded
	}
	if cfg.SingleTransactionOnly && !in.Payment.Equal(limit) {
		return nil, nil, ErrPartialPurchaseNotAllowed
	}

	saleAmount, err := cfg.Converter().ToSaleAmount(in.Payment)
	if err != nil {
		return nil, nil, err
	}
	if saleAmount.IsZero() {
		return nil, nil, fmt.Errorf("%w: payment %s buys no sale units", ErrInvalidAmount, in.Payment)
	}
	entitled, err := acct.Entitled.Add(saleAmount)
	if err != nil {
		return nil, nil, err
	}
	totalSpent, err := ledger.TotalSpent.Add(in.Payment)
	if err != nil {
		return nil, nil, err
	}
	totalAllocated, err := ledger.TotalAllocated.Add(saleAmount)
	if err != nil {
		return nil, nil, err
	}
	newInvestor := !ledger.HasInvestor(in.Caller)
	if newInvestor && len(ledger.Investors) >= cfg.MaxInvestors {
		return nil, nil, ErrInvestorCapReached
	}
	ev, err := newEvent(cfg.ID, EventPurchased, in.Now, Purchased{
		Investor:      in.Caller,
		PaymentAmount: in.Payment,
		SaleAmount:    saleAmount,
		Timestamp:     in.Now.Unix(),
	})
	if err != nil {
		return nil, nil, err
	}

	acct.Spent = spent
	acct.Entitled = entitled
	acct.UpdatedAt = in.Now
	ledger.TotalSpent = totalSpent
	ledger.TotalAllocated = totalAllocated
	if newInvestor {
		ledger.Investors = append(ledger.Investors, in.Caller)
		ledger.InvestorCount = len(ledger.Investors)
	}
	ledger.UpdatedAt = in.Now

	return &PurchaseReceipt{
		Investor:      in.Caller,
		PaymentAmount: in.Payment,
		SaleAmount:    saleAmount,
		Spent:         spent,
		Entitled:      entitled,
	}, []Event{ev}, nil
}

// Claim releases the vested increment of the caller's entitlement. A zero
// increment is a successful claim.
func (m *Machine) Claim(cfg *SaleConfig, ledger *SaleLedger, acct *InvestorAccount, caller string, now time.Time) (Amount, []Event, error) {
	if err := m.authorize(OpClaim, caller, cfg); err != nil {
		return Zero, nil, err
	}
	if !PhaseAt(cfg, now).Closed() {
		return Zero, nil, ErrFundingStillOpen
	}
	if cfg.Canceled {
		return Zero, nil, ErrSaleCanceled
	}
	if !cfg.Funded {
		return Zero, nil, ErrNotFunded
	}
	if !cfg.ClaimingOpen {
		return Zero, nil, ErrClaimingNotOpen
	}
	if acct == nil {
		return Zero, nil, ErrAccountNotFound
	}
	if !ledger.HasInvestor(caller) {
		return Zero, nil, ErrNotAnInvestor
	}
	if acct.Claimed.Cmp(acct.Entitled) >= 0 {
		return Zero, nil, ErrAlreadyFullyClaimed
	}

	increment, err := claimableFor(cfg, acct, now)
	if err != nil {
		return Zero, nil, err
	}
	claimed, err := acct.Claimed.Add(increment)
	if err != nil {
		return Zero, nil, err
	}
	if claimed.Cmp(acct.Entitled) > 0 {
		return Zero, nil, fmt.Errorf("%w: claimed %s would exceed entitlement %s",
			ErrArithmeticOverflow, claimed, acct.Entitled)
	}
	totalClaimed, err := ledger.TotalClaimed.Add(increment)
	if err != nil {
		return Zero, nil, err
	}
	ev, err := newEvent(cfg.ID, EventClaimed, now, Claimed{Investor: caller, SaleAmount: increment})
	if err != nil {
		return Zero, nil, err
	}

	acct.Claimed = claimed
	acct.UpdatedAt = now
	ledger.TotalClaimed = totalClaimed
	ledger.UpdatedAt = now
	return increment, []Event{ev}, nil
}

// claimableFor runs the vesting schedule for one account. The cliff is
// taken from the re-priced spend rather than the stored entitlement.
func claimableFor(cfg *SaleConfig, acct *InvestorAccount, now time.Time) (Amount, error) {
	basis, err := cfg.Converter().ToSaleAmount(acct.Spent)
	if err != nil {
		return Zero, err
	}
	return Claimable(VestingInput{
		Entitled:      acct.Entitled,
		Claimed:       acct.Claimed,
		CliffBasis:    basis,
		CliffPercent:  cfg.CliffPercent,
		ClaimingStart: cfg.ClaimingStart,
		ClaimingEnd:   cfg.ClaimingEnd,
		Now:           now,
	})
}

// CancelSale marks the sale canceled. Canceling twice has no further effect.
func (m *Machine) CancelSale(cfg *SaleConfig, caller string, now time.Time) ([]Event, error) {
	if err := m.authorize(OpCancelSale, caller, cfg); err != nil {
		return nil, err
	}
	if cfg.Canceled {
		return nil, nil
	}
	ev, err := configChanged(cfg.ID, now, "canceled", false, true)
	if err != nil {
		return nil, err
	}

	cfg.Canceled = true
	cfg.UpdatedAt = now
	return []Event{ev}, nil
}

// Refund returns the caller's spend after cancellation and reports the
// amount to pay back.
func (m *Machine) Refund(cfg *SaleConfig, ledger *SaleLedger, acct *InvestorAccount, caller string, now time.Time) (Amount, error) {
	if err := m.authorize(OpRefund, caller, cfg); err != nil {
		return Zero, err
	}
	if !cfg.Canceled {
		return Zero, ErrNotCanceled
	}
	if acct == nil {
		return Zero, ErrAccountNotFound
	}
	if acct.Refunded {
		return Zero, ErrAlreadyRefunded
	}
	amount := acct.Spent
	if amount.Cmp(heldPayment(cfg, ledger)) > 0 {
		return Zero, ErrRefundExceedsHeld
	}
	totalSpent, err := ledger.TotalSpent.Sub(amount)
	if err != nil {
		return Zero, err
	}
	totalRefunded, err := ledger.TotalRefunded.Add(amount)
	if err != nil {
		return Zero, err
	}

	acct.Spent = Zero
	acct.Refunded = true
	acct.UpdatedAt = now
	ledger.TotalSpent = totalSpent
	ledger.TotalRefunded = totalRefunded
	ledger.UpdatedAt = now
	return amount, nil
}

// heldPayment is the payment asset still held by the sale: everything
// collected minus admin withdrawals and refunds.
func heldPayment(cfg *SaleConfig, ledger *SaleLedger) Amount {
	if ledger.TotalSpent.Cmp(cfg.PaymentWithdrawn) <= 0 {
		return Zero
	}
	held, _ := ledger.TotalSpent.Sub(cfg.PaymentWithdrawn)
	return held
}

// AvailablePayment is the payment asset the admin may still withdraw. Once
// canceled the held payment is reserved for refunds.
func AvailablePayment(cfg *SaleConfig, ledger *SaleLedger) Amount {
	if cfg.Canceled {
		return Zero
	}
	return heldPayment(cfg, ledger)
}

// AvailableUnsold is the sale asset not owed to investors that the admin
// may still withdraw. Once canceled only what was already claimed is
// spoken for.
func AvailableUnsold(cfg *SaleConfig, ledger *SaleLedger) Amount {
	owed := ledger.TotalAllocated
	if cfg.Canceled {
		owed = ledger.TotalClaimed
	}
	reserved, err := cfg.UnsoldWithdrawn.Add(owed)
	if err != nil {
		return Zero
	}
	if cfg.TotalSaleAssetSupplied.Cmp(reserved) <= 0 {
		return Zero
	}
	available, _ := cfg.TotalSaleAssetSupplied.Sub(reserved)
	return available
}

// WithdrawPayment releases collected payment to the admin.
func (m *Machine) WithdrawPayment(cfg *SaleConfig, ledger *SaleLedger, caller string, amount Amount, now time.Time) ([]Event, error) {
	if err := m.authorize(OpWithdrawPayment, caller, cfg); err != nil {
		return nil, err
	}
	if !PhaseAt(cfg, now).Closed() {
		return nil, ErrFundingStillOpen
	}
	if cfg.Canceled {
		return nil, ErrSaleCanceled
	}
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(AvailablePayment(cfg, ledger)) > 0 {
		return nil, ErrWithdrawalExceedsAvailable
	}
	withdrawn, err := cfg.PaymentWithdrawn.Add(amount)
	if err != nil {
		return nil, err
	}
	ev, err := configChanged(cfg.ID, now, "paymentWithdrawn", cfg.PaymentWithdrawn, withdrawn)
	if err != nil {
		return nil, err
	}

	cfg.PaymentWithdrawn = withdrawn
	cfg.UpdatedAt = now
	return []Event{ev}, nil
}

// WithdrawUnsold releases unsold sale asset to the admin.
func (m *Machine) WithdrawUnsold(cfg *SaleConfig, ledger *SaleLedger, caller string, amount Amount, now time.Time) ([]Event, error) {
	if err := m.authorize(OpWithdrawUnsold, caller, cfg); err != nil {
		return nil, err
	}
	if !PhaseAt(cfg, now).Closed() {
		return nil, ErrFundingStillOpen
	}
	if !cfg.Funded {
		return nil, ErrNotFunded
	}
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(AvailableUnsold(cfg, ledger)) > 0 {
		return nil, ErrWithdrawalExceedsAvailable
	}
	withdrawn, err := cfg.UnsoldWithdrawn.Add(amount)
	if err != nil {
		return nil, err
	}
	ev, err := configChanged(cfg.ID, now, "unsoldWithdrawn", cfg.UnsoldWithdrawn, withdrawn)
	if err != nil {
		return nil, err
	}

	cfg.UnsoldWithdrawn = withdrawn
	cfg.UpdatedAt = now
	return []Event{ev}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
