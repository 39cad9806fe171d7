package sale

// Operation names a mutating sale operation for authorization.
type Operation string

const (
	OpCreateSale       Operation = "createSale"
	OpRegisterInvestor Operation = "registerInvestor"
	OpSetCliffPercent  Operation = "setCliffPercent"
	OpSetClaimingEnd   Operation = "setClaimingEndDate"
	OpOpenClaiming     Operation = "openClaiming"
	OpSetAllocation    Operation = "setAllocation"
	OpFundSale         Operation = "fundSale"
	OpPurchase         Operation = "purchase"
	OpClaim            Operation = "claim"
	OpCancelSale       Operation = "cancelSale"
	OpRefund           Operation = "refund"
	OpWithdrawPayment  Operation = "withdrawPaymentAssets"
	OpWithdrawUnsold   Operation = "withdrawUnsoldSaleAssets"
)

// AdminOnly reports whether only the sale admin may run op.
func (op Operation) AdminOnly() bool {
	switch op {
	case OpSetCliffPercent, OpSetClaimingEnd, OpOpenClaiming, OpSetAllocation,
		OpFundSale, OpCancelSale, OpWithdrawPayment, OpWithdrawUnsold:
		return true
	}
	return false
}

// Authorizer decides whether caller may run op against the sale cfg.
// cfg is nil for OpCreateSale.
type Authorizer func(op Operation, caller string, cfg *SaleConfig) error

// DefaultAuthorizer lets the sale admin run admin operations and any
// identified caller run investor operations.
func DefaultAuthorizer(op Operation, caller string, cfg *SaleConfig) error {
	if caller == "" {
		return ErrUnauthorized
	}
	if op.AdminOnly() && (cfg == nil || cfg.Admin != caller) {
		return ErrUnauthorized
	}
	return nil
}
