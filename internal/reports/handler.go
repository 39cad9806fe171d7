package reports

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"token-sale/sale-backend/internal/sale"
)

// Handler handles HTTP requests for reporting operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new reports handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers reporting routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/sales/:id/reports")
	{
		reports.GET("/investors", h.getInvestorReport)
		reports.GET("/investors/export", h.exportInvestorReport)
		reports.GET("/snapshots/latest", h.getLatestSnapshot)
	}
}

// getInvestorReport handles GET /api/v1/sales/:id/reports/investors
func (h *Handler) getInvestorReport(c *gin.Context) {
	saleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sale ID"})
		return
	}

	report, err := h.service.InvestorReport(c.Request.Context(), saleID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// exportInvestorReport handles GET /api/v1/sales/:id/reports/investors/export?format=
func (h *Handler) exportInvestorReport(c *gin.Context) {
	saleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sale ID"})
		return
	}
	format, ok := ParseFormat(c.Query("format"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv, xlsx or pdf"})
		return
	}

	result, err := h.service.Export(c.Request.Context(), saleID, format)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+result.FileName)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

// getLatestSnapshot handles GET /api/v1/sales/:id/reports/snapshots/latest
func (h *Handler) getLatestSnapshot(c *gin.Context) {
	saleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sale ID"})
		return
	}

	link, err := h.service.LatestSnapshotURL(c.Request.Context(), saleID, SnapshotURLExpiry)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	if errors.Is(err, ErrStorageDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	var saleErr *sale.Error
	if errors.As(err, &saleErr) {
		c.JSON(sale.StatusFor(saleErr.Code), gin.H{"error": err.Error(), "code": saleErr.Code})
		return
	}
	h.logger.Error("Report request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build report"})
}
