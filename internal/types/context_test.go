package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTenantContext(t *testing.T) {
	assert.Error(t, ValidateTenantContext(context.Background()))

	ctx := SetTenantID(context.Background(), "tenant-1")
	assert.NoError(t, ValidateTenantContext(ctx))
	assert.Equal(t, "tenant-1", GetTenantID(ctx))
}

func TestWithTenant(t *testing.T) {
	var seen string
	err := WithTenant(context.Background(), "tenant-2", func(ctx context.Context) error {
		seen = GetTenantID(ctx)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "tenant-2", seen)

	err = WithTenant(context.Background(), "", func(ctx context.Context) error {
		t.Fatal("fn must not run without a tenant id")
		return nil
	})
	assert.Error(t, err)
}

func TestWithTenantDoesNotLeakScope(t *testing.T) {
	outer := SetTenantID(context.Background(), "tenant-a")
	err := WithTenant(outer, "tenant-b", func(ctx context.Context) error {
		assert.Equal(t, "tenant-b", GetTenantID(ctx))
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "tenant-a", GetTenantID(outer))
}
