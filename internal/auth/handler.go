package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers auth routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/auth/me", h.Me)
}

// Me returns the identity the request was authenticated as.
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"caller": Caller(c), "role": Role(c)})
}
