package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/types"
)

func newTestCache(t *testing.T) Cache {
	t.Helper()
	cfg := config.GetDefaultConfig()
	log, err := logger.NewLogger(cfg)
	require.NoError(t, err)
	return NewInMemoryCache(cfg, log)
}

func TestSetGetDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "k1", "v1", time.Minute)
	got, found := c.Get(ctx, "k1")
	require.True(t, found)
	assert.Equal(t, "v1", got)

	c.Delete(ctx, "k1")
	_, found = c.Get(ctx, "k1")
	assert.False(t, found)
}

func TestGenerateKeyJoinsParams(t *testing.T) {
	key := GenerateKey(PrefixRollup, "tenant-a", "api_calls", types.GranularityHour, int64(1767261600))
	assert.Equal(t, "rollup:v1:tenant-a:api_calls:HOUR:1767261600", key)
}

// Bucket writers invalidate the whole tenant/metric prefix; cached usage
// responses key on the full request range and must fall inside it.
func TestPrefixInvalidationCoversRangeKeys(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	readKey := GenerateKey(PrefixRollup, "tenant-a", "api_calls", types.GranularityHour,
		int64(1767261600), int64(1767265200))
	otherMetric := GenerateKey(PrefixRollup, "tenant-a", "storage_gb", types.GranularityHour,
		int64(1767261600), int64(1767265200))
	otherTenant := GenerateKey(PrefixRollup, "tenant-b", "api_calls", types.GranularityHour,
		int64(1767261600), int64(1767265200))

	c.Set(ctx, readKey, "cached", time.Minute)
	c.Set(ctx, otherMetric, "cached", time.Minute)
	c.Set(ctx, otherTenant, "cached", time.Minute)

	c.DeleteByPrefix(ctx, GenerateKey(PrefixRollup, "tenant-a", "api_calls")+":")

	_, found := c.Get(ctx, readKey)
	assert.False(t, found, "usage response for the mutated tenant/metric must be invalidated")

	_, found = c.Get(ctx, otherMetric)
	assert.True(t, found)
	_, found = c.Get(ctx, otherTenant)
	assert.True(t, found)
}

func TestDisabledCacheIsInert(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Cache.Enabled = false
	log, err := logger.NewLogger(cfg)
	require.NoError(t, err)
	c := NewInMemoryCache(cfg, log)

	ctx := context.Background()
	c.Set(ctx, "k1", "v1", time.Minute)
	_, found := c.Get(ctx, "k1")
	assert.False(t, found)
}
