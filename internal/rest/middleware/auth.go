package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/auditlog"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/types"
)

// TenantIDHeader is informational only. The effective tenant always comes
// from the credential; a conflicting header is a scope violation.
const TenantIDHeader = "X-Tenant-ID"

type claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// AuthMiddleware authenticates the caller and binds tenant scope to the
// request context. Two credential forms are accepted: a configured API key in
// the key header, or a JWT bearer token carrying the tenant id claim.
func AuthMiddleware(cfg *config.Configuration, auditRepo auditlog.Repository, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, actorID, ok := resolveCredential(cfg, c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ierr.NewErrorResponse(
				ierr.NewError("unauthorized").
					WithHint("Provide a valid API key or bearer token").
					Mark(ierr.ErrPermissionDenied),
			))
			return
		}

		// A tenant header that disagrees with the credential is an attempted
		// cross-tenant access: audit it and refuse
		if claimed := c.GetHeader(TenantIDHeader); claimed != "" && claimed != tenantID {
			recordScopeViolation(c.Request.Context(), auditRepo, log, tenantID, actorID, c.FullPath(), claimed)
			c.AbortWithStatusJSON(http.StatusForbidden, ierr.NewErrorResponse(
				ierr.NewError("tenant scope violation").
					WithHint("The requested tenant does not match the credential").
					Mark(ierr.ErrScopeViolation),
			))
			return
		}

		ctx := c.Request.Context()
		ctx = types.SetTenantID(ctx, tenantID)
		ctx = types.SetActorID(ctx, actorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func resolveCredential(cfg *config.Configuration, c *gin.Context) (tenantID, actorID string, ok bool) {
	if apiKey := c.GetHeader(cfg.Auth.APIKeyHeader); apiKey != "" {
		if binding, found := cfg.Auth.APIKeys[apiKey]; found {
			return binding.TenantID, binding.ActorID, true
		}
		return "", "", false
	}

	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "", false
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.Auth.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", "", false
	}

	tokenClaims, ok := token.Claims.(*claims)
	if !ok || tokenClaims.TenantID == "" {
		return "", "", false
	}
	return tokenClaims.TenantID, tokenClaims.Subject, true
}

func recordScopeViolation(ctx context.Context, auditRepo auditlog.Repository, log *logger.Logger, tenantID, actorID, resource, claimedTenant string) {
	entry := &auditlog.Entry{
		ID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_AUDIT_LOG),
		TenantID:   tenantID,
		Actor:      actorID,
		Resource:   resource,
		Action:     "cross_tenant_access_denied:" + claimedTenant,
		OccurredAt: time.Now().UTC(),
	}
	if err := auditRepo.Record(ctx, entry); err != nil {
		log.Errorw("failed to record scope violation", "error", err)
	}
	log.Warnw("cross tenant access denied",
		"tenant_id", tenantID,
		"claimed_tenant_id", claimedTenant,
		"actor", actorID,
		"resource", resource,
	)
}
