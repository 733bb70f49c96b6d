package rollup

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/types"
)

// Bucket is a derived, time-windowed aggregate of raw events for one
// tenant/metric. It is a cache of a derivation, recomputable from the raw
// event ledger, never a source of truth.
type Bucket struct {
	TenantID    string                  `db:"tenant_id" json:"tenant_id"`
	MetricName  string                  `db:"metric_name" json:"metric_name"`
	BucketStart time.Time               `db:"bucket_start" json:"bucket_start"`
	Granularity types.BucketGranularity `db:"granularity" json:"granularity"`

	Sum   decimal.Decimal `db:"sum" json:"sum"`
	Count int64           `db:"count" json:"count"`
	Min   decimal.Decimal `db:"min" json:"min"`
	Max   decimal.Decimal `db:"max" json:"max"`

	// SourceWatermark is the latest recorded_at folded into this bucket.
	// Late arrivals are detected against it and retention is gated on it.
	SourceWatermark time.Time `db:"source_watermark" json:"source_watermark"`

	// NeedsBackfill flags the bucket for repair after drift was detected or
	// the incremental fold exceeded its retry ceiling
	NeedsBackfill bool `db:"needs_backfill" json:"needs_backfill"`

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Key identifies one bucket for locking and cache purposes
func (b *Bucket) Key() string {
	return Key(b.TenantID, b.MetricName, b.Granularity, b.BucketStart)
}

// Key builds the canonical bucket key string
func Key(tenantID, metricName string, granularity types.BucketGranularity, bucketStart time.Time) string {
	return tenantID + ":" + metricName + ":" + string(granularity) + ":" + bucketStart.UTC().Format(time.RFC3339)
}

// Avg derives the mean from sum and count
func (b *Bucket) Avg() decimal.Decimal {
	if b.Count == 0 {
		return decimal.Zero
	}
	return b.Sum.Div(decimal.NewFromInt(b.Count))
}

// BucketEnd returns the exclusive end of the bucket window
func (b *Bucket) BucketEnd() time.Time {
	return b.BucketStart.Add(b.Granularity.Duration())
}
