package sale

// ErrorCode identifies a sale failure independently of its message.
type ErrorCode string

const (
	CodeInvalidWindow              ErrorCode = "INVALID_WINDOW"
	CodeInvalidPrice               ErrorCode = "INVALID_PRICE"
	CodeAlreadyFunded              ErrorCode = "ALREADY_FUNDED"
	CodeUnderAllocated             ErrorCode = "UNDER_ALLOCATED"
	CodePercentageOutOfRange       ErrorCode = "PERCENTAGE_OUT_OF_RANGE"
	CodeClaimingAlreadyOpen        ErrorCode = "CLAIMING_ALREADY_OPEN"
	CodeClaimingNotOpen            ErrorCode = "CLAIMING_NOT_OPEN"
	CodeFundingStillOpen           ErrorCode = "FUNDING_STILL_OPEN"
	CodeFundingNotOpen             ErrorCode = "FUNDING_NOT_OPEN"
	CodeFundingEnded               ErrorCode = "FUNDING_ENDED"
	CodeSaleCanceled               ErrorCode = "SALE_CANCELED"
	CodeNotCanceled                ErrorCode = "NOT_CANCELED"
	CodeInvalidAmount              ErrorCode = "INVALID_AMOUNT"
	CodeAllocationExceeded         ErrorCode = "ALLOCATION_EXCEEDED"
	CodePartialPurchaseNotAllowed  ErrorCode = "PARTIAL_PURCHASE_NOT_ALLOWED"
	CodeInvestorCapReached         ErrorCode = "INVESTOR_CAP_REACHED"
	CodeNotAnInvestor              ErrorCode = "NOT_AN_INVESTOR"
	CodeAlreadyFullyClaimed        ErrorCode = "ALREADY_FULLY_CLAIMED"
	CodeAlreadyRefunded            ErrorCode = "ALREADY_REFUNDED"
	CodeNotFunded                  ErrorCode = "NOT_FUNDED"
	CodeWithdrawalExceedsAvailable ErrorCode = "WITHDRAWAL_EXCEEDS_AVAILABLE"
	CodeRefundExceedsHeld          ErrorCode = "REFUND_EXCEEDS_HELD"
	CodeArithmeticOverflow         ErrorCode = "ARITHMETIC_OVERFLOW"
	CodeArithmeticUnderflow        ErrorCode = "ARITHMETIC_UNDERFLOW"
	CodeDivisionByZero             ErrorCode = "DIVISION_BY_ZERO"
	CodeUnauthorized               ErrorCode = "UNAUTHORIZED"
	CodeSaleNotFound               ErrorCode = "SALE_NOT_FOUND"
	CodeAccountNotFound            ErrorCode = "ACCOUNT_NOT_FOUND"
)

// Error is a sale failure. Values are compared by identity, so wrapped
// sentinels still match with errors.Is.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	ErrInvalidWindow              = newError(CodeInvalidWindow, "funding start must be before funding end")
	ErrInvalidPrice               = newError(CodeInvalidPrice, "price ratio must be positive")
	ErrAlreadyFunded              = newError(CodeAlreadyFunded, "sale is already funded")
	ErrUnderAllocated             = newError(CodeUnderAllocated, "funding amount is below total allocated")
	ErrPercentageOutOfRange       = newError(CodePercentageOutOfRange, "percentage must be between 0 and 100")
	ErrClaimingAlreadyOpen        = newError(CodeClaimingAlreadyOpen, "claiming is already open")
	ErrClaimingNotOpen            = newError(CodeClaimingNotOpen, "claiming is not open")
	ErrFundingStillOpen           = newError(CodeFundingStillOpen, "funding period has not ended")
	ErrFundingNotOpen             = newError(CodeFundingNotOpen, "funding period is not open")
	ErrFundingEnded               = newError(CodeFundingEnded, "funding period has ended")
	ErrSaleCanceled               = newError(CodeSaleCanceled, "sale is canceled")
	ErrNotCanceled                = newError(CodeNotCanceled, "sale is not canceled")
	ErrInvalidAmount              = newError(CodeInvalidAmount, "invalid amount")
	ErrAllocationExceeded         = newError(CodeAllocationExceeded, "purchase exceeds allocation")
	ErrPartialPurchaseNotAllowed  = newError(CodePartialPurchaseNotAllowed, "purchase must take the full allocation")
	ErrInvestorCapReached         = newError(CodeInvestorCapReached, "investor limit reached")
	ErrNotAnInvestor              = newError(CodeNotAnInvestor, "caller is not an investor")
	ErrAlreadyFullyClaimed        = newError(CodeAlreadyFullyClaimed, "entitlement already fully claimed")
	ErrAlreadyRefunded            = newError(CodeAlreadyRefunded, "already refunded")
	ErrNotFunded                  = newError(CodeNotFunded, "sale is not funded")
	ErrWithdrawalExceedsAvailable = newError(CodeWithdrawalExceedsAvailable, "withdrawal exceeds available balance")
	ErrRefundExceedsHeld          = newError(CodeRefundExceedsHeld, "refund exceeds payment held by the sale")
	ErrArithmeticOverflow         = newError(CodeArithmeticOverflow, "arithmetic overflow")
	ErrArithmeticUnderflow        = newError(CodeArithmeticUnderflow, "arithmetic underflow")
	ErrDivisionByZero             = newError(CodeDivisionByZero, "division by zero")
	ErrUnauthorized               = newError(CodeUnauthorized, "caller is not authorized")
	ErrSaleNotFound               = newError(CodeSaleNotFound, "sale not found")
	ErrAccountNotFound            = newError(CodeAccountNotFound, "investor account not found")
)
