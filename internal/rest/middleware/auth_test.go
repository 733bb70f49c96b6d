package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

func setupAuthRouter(t *testing.T, auditStore *testutil.InMemoryAuditLogStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.GetDefaultConfig()
	cfg.Auth = config.AuthConfig{
		APIKeyHeader: "x-api-key",
		APIKeys: map[string]config.APIKeyBinding{
			"key-a": {TenantID: "tenant-a", ActorID: "actor-a"},
		},
		JWTSecret: "test-secret",
	}
	log, err := logger.NewLogger(cfg)
	require.NoError(t, err)

	router := gin.New()
	router.Use(AuthMiddleware(cfg, auditStore, log))
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tenant_id": types.GetTenantID(c.Request.Context()),
			"actor_id":  types.GetActorID(c.Request.Context()),
		})
	})
	return router
}

func TestAuthBindsTenantFromAPIKey(t *testing.T) {
	router := setupAuthRouter(t, testutil.NewInMemoryAuditLogStore())

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("x-api-key", "key-a")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tenant-a")
	assert.Contains(t, w.Body.String(), "actor-a")
}

func TestAuthRejectsMissingCredential(t *testing.T) {
	router := setupAuthRouter(t, testutil.NewInMemoryAuditLogStore())

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsUnknownAPIKey(t *testing.T) {
	router := setupAuthRouter(t, testutil.NewInMemoryAuditLogStore())

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("x-api-key", "no-such-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsSpoofedTenantHeader(t *testing.T) {
	auditStore := testutil.NewInMemoryAuditLogStore()
	router := setupAuthRouter(t, auditStore)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("x-api-key", "key-a")
	req.Header.Set(TenantIDHeader, "tenant-b")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)

	entries, err := auditStore.ListByTenant(req.Context(), "tenant-a", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Action, "tenant-b")
}

func TestAuthAllowsMatchingTenantHeader(t *testing.T) {
	router := setupAuthRouter(t, testutil.NewInMemoryAuditLogStore())

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("x-api-key", "key-a")
	req.Header.Set(TenantIDHeader, "tenant-a")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
