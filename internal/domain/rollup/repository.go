package rollup

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/types"
)

type Repository interface {
	// GetBucket returns one bucket or ErrNotFound
	GetBucket(ctx context.Context, metricName string, granularity types.BucketGranularity, bucketStart time.Time) (*Bucket, error)

	// GetBuckets returns the buckets covering [startTime, endTime) for the
	// tenant in scope, ordered by bucket_start
	GetBuckets(ctx context.Context, params *GetBucketsParams) ([]*Bucket, error)

	// UpsertBucket writes the bucket, replacing any existing row for its key
	UpsertBucket(ctx context.Context, bucket *Bucket) error

	// ReplaceBuckets atomically replaces all buckets for a tenant/metric/
	// granularity range with the given set. Backfill is built on this so a
	// recompute is recompute-then-replace, never recompute-then-add.
	ReplaceBuckets(ctx context.Context, params *ReplaceBucketsParams) error

	// MarkForBackfill flags a bucket for repair
	MarkForBackfill(ctx context.Context, metricName string, granularity types.BucketGranularity, bucketStart time.Time) error

	// ListBackfillCandidates returns flagged buckets for the tenant in scope
	ListBackfillCandidates(ctx context.Context, limit int) ([]*Bucket, error)

	// MinSourceWatermark returns the minimum watermark across all buckets
	// overlapping [startTime, endTime) for all tenants. Retention uses it to
	// enforce aggregate-before-retain; the zero time means some overlapping
	// bucket has never been folded.
	MinSourceWatermark(ctx context.Context, startTime, endTime time.Time) (time.Time, error)
}

type GetBucketsParams struct {
	MetricName  string                  `json:"metric_name" validate:"required"`
	Granularity types.BucketGranularity `json:"granularity" validate:"required"`
	StartTime   time.Time               `json:"start_time" validate:"required"`
	EndTime     time.Time               `json:"end_time" validate:"required"`
}

type ReplaceBucketsParams struct {
	MetricName  string
	Granularity types.BucketGranularity
	StartTime   time.Time
	EndTime     time.Time
	Buckets     []*Bucket
}
