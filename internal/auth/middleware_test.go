package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"token-sale/sale-backend/pkg/security"
)

func setupRouter(tokens *security.TokenService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api/v1", Middleware(tokens, zap.NewNop()))
	NewHandler().RegisterRoutes(api)
	return router
}

func TestMiddlewareSetsCaller(t *testing.T) {
	tokens := security.NewTokenService("secret", "sale-api", time.Hour)
	router := setupRouter(tokens)

	token, err := tokens.Issue("alice", "admin")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"caller":"alice","role":"admin"}`, w.Body.String())
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	router := setupRouter(security.NewTokenService("secret", "sale-api", time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	router := setupRouter(security.NewTokenService("secret", "sale-api", time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid token")
}
