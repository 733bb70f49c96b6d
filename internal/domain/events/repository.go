package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/types"
)

type Repository interface {
	// InsertEvent persists a single event
	InsertEvent(ctx context.Context, event *UsageEvent) error

	// BulkInsertEvents persists a batch of events in one round trip
	BulkInsertEvents(ctx context.Context, events []*UsageEvent) error

	// FindExistingIdempotencyKeys returns the subset of keys that are already
	// recorded for the tenant in scope. Used to answer duplicate acks without
	// inserting twice.
	FindExistingIdempotencyKeys(ctx context.Context, keys []string) (map[string]string, error)

	// GetEvents returns raw events matching the params, newest first
	GetEvents(ctx context.Context, params *GetEventsParams) ([]*UsageEvent, error)

	// GetBucketAggregates folds raw events into per-bucket aggregates for a
	// tenant/metric/time-range directly in the store. Backfill and drift
	// checks are built on this.
	GetBucketAggregates(ctx context.Context, params *BucketAggregateParams) ([]*BucketAggregate, error)

	// ListPartitions returns the time partitions of the raw event table,
	// oldest first
	ListPartitions(ctx context.Context) ([]Partition, error)

	// ExportPartition streams a partition's rows into the writer path used by
	// the retention manager for archival. Returns the number of rows written.
	ExportPartition(ctx context.Context, partition string, dir string) (int64, error)

	// DropPartition detaches and drops a raw-event partition
	DropPartition(ctx context.Context, partition string) error
}

// GetEventsParams filters raw event reads
type GetEventsParams struct {
	MetricName string    `json:"metric_name"`
	StartTime  time.Time `json:"start_time" validate:"required"`
	EndTime    time.Time `json:"end_time" validate:"required"`
	Limit      int       `json:"limit"`
}

// BucketAggregateParams drives a store-side fold of raw events
type BucketAggregateParams struct {
	TenantID    string
	MetricName  string
	Granularity types.BucketGranularity
	StartTime   time.Time
	EndTime     time.Time
	// RecordedBefore bounds the fold by ingestion time so that a recompute is
	// reproducible against a fixed watermark
	RecordedBefore time.Time
}

// BucketAggregate is the store-side fold of one bucket
type BucketAggregate struct {
	BucketStart time.Time       `ch:"bucket_start"`
	Sum         decimal.Decimal `ch:"sum"`
	Count       uint64          `ch:"count"`
	Min         decimal.Decimal `ch:"min"`
	Max         decimal.Decimal `ch:"max"`
	// MaxRecordedAt is the latest ingestion time folded in; becomes the
	// bucket's source watermark
	MaxRecordedAt time.Time `ch:"max_recorded_at"`
}

// Partition describes one time partition of the raw event table
type Partition struct {
	Name     string    `ch:"partition"`
	MinTime  time.Time `ch:"min_time"`
	MaxTime  time.Time `ch:"max_time"`
	Rows     uint64    `ch:"rows"`
	Bytes    uint64    `ch:"bytes"`
	Database string    `ch:"database"`
}
