package types

import (
	"context"
	"fmt"
)

// ContextKey is a type for the keys of values stored in the context
type ContextKey string

const (
	CtxRequestID ContextKey = "ctx_request_id"
	CtxTenantID  ContextKey = "ctx_tenant_id"
	CtxActorID   ContextKey = "ctx_actor_id"

	// Default values used by local tooling and tests
	DefaultTenantID = "00000000-0000-0000-0000-000000000000"
	DefaultActorID  = "00000000-0000-0000-0000-000000000000"
)

func GetTenantID(ctx context.Context) string {
	if tenantID, ok := ctx.Value(CtxTenantID).(string); ok {
		return tenantID
	}
	return ""
}

func GetActorID(ctx context.Context) string {
	if actorID, ok := ctx.Value(CtxActorID).(string); ok {
		return actorID
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(CtxRequestID).(string); ok {
		return requestID
	}
	return ""
}

// SetTenantID sets the tenant ID in the context
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, CtxTenantID, tenantID)
}

// SetActorID sets the acting user/API key ID in the context
func SetActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, CtxActorID, actorID)
}

// WithTenant runs fn with an ambient context scoped to tenantID.
// It is the only supported way to establish tenant scope outside of the
// HTTP middleware, e.g. for background jobs iterating over tenants.
func WithTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	if tenantID == "" {
		return fmt.Errorf("tenant id is required to establish tenant scope")
	}
	return fn(SetTenantID(ctx, tenantID))
}

// ValidateTenantContext validates that the required tenant context fields are present.
// Storage implementations call this on every operation against tenant-scoped
// tables; absence of scope is a hard failure, never a default-allow.
func ValidateTenantContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context is nil")
	}

	tenantID := GetTenantID(ctx)
	if tenantID == "" {
		return fmt.Errorf("no tenant context found in context")
	}

	return nil
}
