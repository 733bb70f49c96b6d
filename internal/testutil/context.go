package testutil

import (
	"context"

	"github.com/meterline/meterline/internal/types"
)

// SetupContext returns a context scoped to the default test tenant
func SetupContext() context.Context {
	ctx := context.Background()
	ctx = types.SetTenantID(ctx, types.DefaultTenantID)
	ctx = types.SetActorID(ctx, types.DefaultActorID)
	return ctx
}

// SetupContextForTenant returns a context scoped to a specific tenant
func SetupContextForTenant(tenantID string) context.Context {
	ctx := context.Background()
	ctx = types.SetTenantID(ctx, tenantID)
	ctx = types.SetActorID(ctx, types.DefaultActorID)
	return ctx
}
