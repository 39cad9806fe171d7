package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"token-sale/sale-backend/pkg/security"
)

const (
	callerKey = "caller"
	roleKey   = "caller_role"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*security.Claims, error)
}

// Middleware authenticates the bearer token of each request and stores the
// token subject as the caller identity.
func Middleware(validator TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := validator.Validate(strings.TrimSpace(token))
		if err != nil {
			logger.Debug("Rejected bearer token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(callerKey, claims.Subject)
		c.Set(roleKey, claims.Role)
		c.Next()
	}
}

// Caller returns the authenticated caller identity, or "" when the request
// did not pass through Middleware.
func Caller(c *gin.Context) string {
	return c.GetString(callerKey)
}

// Role returns the role claim of the authenticated caller.
func Role(c *gin.Context) string {
	return c.GetString(roleKey)
}

// SetCaller stores a caller identity on the context.
func SetCaller(c *gin.Context, caller string) {
	c.Set(callerKey, caller)
}
