package sale

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"token-sale/sale-backend/internal/auth"
)

// Handler handles HTTP requests for sale operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new sale handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers sale routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	sales := router.Group("/sales")
	{
		sales.POST("", h.createSale)
		sales.GET("", h.listSales)
		sales.GET("/:id", h.getTotals)

		// Admin endpoints
		sales.PUT("/:id/cliff", h.setCliffPercent)
		sales.PUT("/:id/claiming-end", h.setClaimingEnd)
		sales.POST("/:id/claiming/open", h.openClaiming)
		sales.PUT("/:id/allocations/:investor", h.setAllocation)
		sales.POST("/:id/fund", h.fundSale)
		sales.POST("/:id/cancel", h.cancelSale)
		sales.POST("/:id/withdraw/payment", h.withdrawPayment)
		sales.POST("/:id/withdraw/unsold", h.withdrawUnsold)

		// Investor endpoints
		sales.POST("/:id/investors", h.registerInvestor)
		sales.POST("/:id/purchase", h.purchase)
		sales.POST("/:id/claim", h.claim)
		sales.POST("/:id/refund", h.refund)

		// Queries
		sales.GET("/:id/investors", h.listInvestors)
		sales.GET("/:id/investors/:investor", h.getInvestor)
		sales.GET("/:id/quote/max-payment", h.quoteMaxPayment)
		sales.GET("/:id/quote/sale-amount", h.quoteSaleAmount)
		sales.GET("/:id/claimable", h.previewClaimable)
	}
}

type amountRequest struct {
	Amount Amount `json:"amount"`
}

type cliffRequest struct {
	Percent *int `json:"percent" binding:"required"`
}

type claimingEndRequest struct {
	ClaimingEnd time.Time `json:"claiming_end" binding:"required"`
}

type openClaimingRequest struct {
	Start *time.Time `json:"start"`
}

type allocationRequest struct {
	Cap Amount `json:"cap"`
}

// =====================================================
// Admin Endpoints
// =====================================================

// createSale handles POST /api/v1/sales
func (h *Handler) createSale(c *gin.Context) {
	var req CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := h.service.CreateSale(c.Request.Context(), auth.Caller(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

// setCliffPercent handles PUT /api/v1/sales/:id/cliff
func (h *Handler) setCliffPercent(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	var req cliffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := h.service.SetCliffPercent(c.Request.Context(), saleID, auth.Caller(c), *req.Percent)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// setClaimingEnd handles PUT /api/v1/sales/:id/claiming-end
func (h *Handler) setClaimingEnd(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	var req claimingEndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := h.service.SetClaimingEnd(c.Request.Context(), saleID, auth.Caller(c), req.ClaimingEnd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// openClaiming handles POST /api/v1/sales/:id/claiming/open. The body is
// optional; without a start time the vesting window starts now.
func (h *Handler) openClaiming(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	var req openClaimingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	cfg, err := h.service.OpenClaiming(c.Request.Context(), saleID, auth.Caller(c), req.Start)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// setAllocation handles PUT /api/v1/sales/:id/allocations/:investor
func (h *Handler) setAllocation(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	var req allocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alloc, err := h.service.SetAllocation(c.Request.Context(), saleID, auth.Caller(c), c.Param("investor"), req.Cap)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alloc)
}

// fundSale handles POST /api/v1/sales/:id/fund
func (h *Handler) fundSale(c *gin.Context) {
	h.withAmount(c, h.service.FundSale)
}

// cancelSale handles POST /api/v1/sales/:id/cancel
func (h *Handler) cancelSale(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	cfg, err := h.service.CancelSale(c.Request.Context(), saleID, auth.Caller(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// withdrawPayment handles POST /api/v1/sales/:id/withdraw/payment
func (h *Handler) withdrawPayment(c *gin.Context) {
	h.withAmount(c, h.service.WithdrawPayment)
}

// withdrawUnsold handles POST /api/v1/sales/:id/withdraw/unsold
func (h *Handler) withdrawUnsold(c *gin.Context) {
	h.withAmount(c, h.service.WithdrawUnsold)
}

// =====================================================
// Investor Endpoints
// =====================================================

// registerInvestor handles POST /api/v1/sales/:id/investors
func (h *Handler) registerInvestor(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	acct, err := h.service.RegisterInvestor(c.Request.Context(), saleID, auth.Caller(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// purchase handles POST /api/v1/sales/:id/purchase
func (h *Handler) purchase(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.service.Purchase(c.Request.Context(), saleID, auth.Caller(c), req.Amount)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// claim handles POST /api/v1/sales/:id/claim
func (h *Handler) claim(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	amount, err := h.service.Claim(c.Request.Context(), saleID, auth.Caller(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claimed": amount})
}

// refund handles POST /api/v1/sales/:id/refund
func (h *Handler) refund(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	amount, err := h.service.Refund(c.Request.Context(), saleID, auth.Caller(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunded": amount})
}

// =====================================================
// Query Endpoints
// =====================================================

// listSales handles GET /api/v1/sales
func (h *Handler) listSales(c *gin.Context) {
	sales, err := h.service.ListSales(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales})
}

// getTotals handles GET /api/v1/sales/:id
func (h *Handler) getTotals(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	snapshot, err := h.service.Totals(c.Request.Context(), saleID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// listInvestors handles GET /api/v1/sales/:id/investors
func (h *Handler) listInvestors(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	investors, err := h.service.ListInvestors(c.Request.Context(), saleID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"investors": investors, "count": len(investors)})
}

// getInvestor handles GET /api/v1/sales/:id/investors/:investor
func (h *Handler) getInvestor(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	investor := c.Param("investor")
	acct, err := h.service.GetAccount(c.Request.Context(), saleID, investor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	isInvestor, err := h.service.IsInvestor(c.Request.Context(), saleID, investor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct, "is_investor": isInvestor})
}

// quoteMaxPayment handles GET /api/v1/sales/:id/quote/max-payment. The
// investor defaults to the caller.
func (h *Handler) quoteMaxPayment(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	quote, err := h.service.QuoteMaxPayment(c.Request.Context(), saleID, h.investorParam(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// quoteSaleAmount handles GET /api/v1/sales/:id/quote/sale-amount?payment=
func (h *Handler) quoteSaleAmount(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	payment, err := ParseAmount(c.Query("payment"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment amount"})
		return
	}
	quote, err := h.service.QuoteSaleAmount(c.Request.Context(), saleID, payment)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// previewClaimable handles GET /api/v1/sales/:id/claimable
func (h *Handler) previewClaimable(c *gin.Context) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	quote, err := h.service.PreviewClaimable(c.Request.Context(), saleID, h.investorParam(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// =====================================================
// Helper Methods
// =====================================================

type amountOperation func(ctx context.Context, saleID uuid.UUID, caller string, amount Amount) (*SaleConfig, error)

// withAmount runs an admin operation that takes an amount body.
func (h *Handler) withAmount(c *gin.Context, op amountOperation) {
	saleID, ok := h.saleID(c)
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := op(c.Request.Context(), saleID, auth.Caller(c), req.Amount)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) saleID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sale ID"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) investorParam(c *gin.Context) string {
	if investor := c.Query("investor"); investor != "" {
		return investor
	}
	return auth.Caller(c)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var saleErr *Error
	if !errors.As(err, &saleErr) {
		h.logger.Error("Sale request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(StatusFor(saleErr.Code), gin.H{"error": err.Error(), "code": saleErr.Code})
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code ErrorCode) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeSaleNotFound, CodeAccountNotFound:
		return http.StatusNotFound
	case CodeInvalidWindow, CodeInvalidPrice, CodePercentageOutOfRange, CodeInvalidAmount:
		return http.StatusBadRequest
	case CodeArithmeticOverflow, CodeArithmeticUnderflow, CodeDivisionByZero:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusConflict
	}
}
