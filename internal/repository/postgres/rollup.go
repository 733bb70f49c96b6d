package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/domain/rollup"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type RollupRepository struct {
	db     *postgres.DB
	cache  cache.Cache
	logger *logger.Logger
}

func NewRollupRepository(db *postgres.DB, c cache.Cache, logger *logger.Logger) rollup.Repository {
	return &RollupRepository{db: db, cache: c, logger: logger}
}

func requireScope(ctx context.Context) error {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("Operation attempted without an active tenant scope").
			Mark(ierr.ErrScopeViolation)
	}
	return nil
}

func (r *RollupRepository) GetBucket(ctx context.Context, metricName string, granularity types.BucketGranularity, bucketStart time.Time) (*rollup.Bucket, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, metric_name, bucket_start, granularity, sum, count, min, max,
			source_watermark, needs_backfill, updated_at
		FROM rollup_buckets
		WHERE tenant_id = $1 AND metric_name = $2 AND granularity = $3 AND bucket_start = $4
	`

	var b rollup.Bucket
	err := r.db.GetQuerier(ctx).GetContext(ctx, &b, query,
		types.GetTenantID(ctx), metricName, granularity, bucketStart.UTC())
	if err == sql.ErrNoRows {
		return nil, ierr.NewError("rollup bucket not found").
			WithHintf("No %s bucket for metric %s at %s", granularity, metricName, bucketStart.UTC().Format(time.RFC3339)).
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read rollup bucket").
			Mark(ierr.ErrDatabase)
	}
	return &b, nil
}

func (r *RollupRepository) GetBuckets(ctx context.Context, params *rollup.GetBucketsParams) ([]*rollup.Bucket, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, metric_name, bucket_start, granularity, sum, count, min, max,
			source_watermark, needs_backfill, updated_at
		FROM rollup_buckets
		WHERE tenant_id = $1 AND metric_name = $2 AND granularity = $3
			AND bucket_start >= $4 AND bucket_start < $5
		ORDER BY bucket_start
	`

	var buckets []*rollup.Bucket
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &buckets, query,
		types.GetTenantID(ctx), params.MetricName, params.Granularity,
		params.StartTime.UTC(), params.EndTime.UTC())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read rollup buckets").
			Mark(ierr.ErrDatabase)
	}
	return buckets, nil
}

func (r *RollupRepository) UpsertBucket(ctx context.Context, b *rollup.Bucket) error {
	if err := requireScope(ctx); err != nil {
		return err
	}
	if b.TenantID != types.GetTenantID(ctx) {
		return ierr.NewError("bucket tenant does not match tenant in scope").
			WithHint("Rollup buckets can only be written for the caller's own tenant").
			Mark(ierr.ErrScopeViolation)
	}

	query := `
		INSERT INTO rollup_buckets (
			tenant_id, metric_name, bucket_start, granularity, sum, count, min, max,
			source_watermark, needs_backfill, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, metric_name, granularity, bucket_start) DO UPDATE SET
			sum = EXCLUDED.sum,
			count = EXCLUDED.count,
			min = EXCLUDED.min,
			max = EXCLUDED.max,
			source_watermark = EXCLUDED.source_watermark,
			needs_backfill = EXCLUDED.needs_backfill,
			updated_at = EXCLUDED.updated_at
	`

	// Invalidate before the write is acknowledged so readers never hold a
	// stale bucket past the mutation. Cached usage reads key on the request
	// range, so the whole tenant/metric prefix goes.
	r.cache.DeleteByPrefix(ctx, cache.GenerateKey(cache.PrefixRollup, b.TenantID, b.MetricName)+":")

	_, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		b.TenantID, b.MetricName, b.BucketStart.UTC(), b.Granularity,
		b.Sum, b.Count, b.Min, b.Max,
		b.SourceWatermark.UTC(), b.NeedsBackfill, time.Now().UTC())
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to upsert rollup bucket").
			WithReportableDetails(map[string]any{
				"metric_name":  b.MetricName,
				"bucket_start": b.BucketStart,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// ReplaceBuckets swaps the bucket range for the recomputed set inside one
// transaction, which is what makes backfill idempotent.
func (r *RollupRepository) ReplaceBuckets(ctx context.Context, params *rollup.ReplaceBucketsParams) error {
	if err := requireScope(ctx); err != nil {
		return err
	}
	tenantID := types.GetTenantID(ctx)

	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.GetQuerier(ctx)

		_, err := q.ExecContext(ctx, `
			DELETE FROM rollup_buckets
			WHERE tenant_id = $1 AND metric_name = $2 AND granularity = $3
				AND bucket_start >= $4 AND bucket_start < $5
		`, tenantID, params.MetricName, params.Granularity, params.StartTime.UTC(), params.EndTime.UTC())
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to clear rollup bucket range").
				Mark(ierr.ErrDatabase)
		}

		for _, b := range params.Buckets {
			if b.TenantID != tenantID {
				return ierr.NewError("bucket tenant does not match tenant in scope").
					WithHint("Rollup buckets can only be written for the caller's own tenant").
					Mark(ierr.ErrScopeViolation)
			}
			_, err := q.ExecContext(ctx, `
				INSERT INTO rollup_buckets (
					tenant_id, metric_name, bucket_start, granularity, sum, count, min, max,
					source_watermark, needs_backfill, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`, b.TenantID, b.MetricName, b.BucketStart.UTC(), b.Granularity,
				b.Sum, b.Count, b.Min, b.Max,
				b.SourceWatermark.UTC(), false, time.Now().UTC())
			if err != nil {
				return ierr.WithError(err).
					WithHint("Failed to insert recomputed rollup bucket").
					Mark(ierr.ErrDatabase)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.cache.DeleteByPrefix(ctx, cache.GenerateKey(cache.PrefixRollup, tenantID, params.MetricName)+":")
	return nil
}

func (r *RollupRepository) MarkForBackfill(ctx context.Context, metricName string, granularity types.BucketGranularity, bucketStart time.Time) error {
	if err := requireScope(ctx); err != nil {
		return err
	}
	tenantID := types.GetTenantID(ctx)

	// The bucket row may not exist yet when the very first fold failed, so
	// this is an upsert of a zero bucket with the flag raised.
	query := `
		INSERT INTO rollup_buckets (
			tenant_id, metric_name, bucket_start, granularity, sum, count, min, max,
			source_watermark, needs_backfill, updated_at
		) VALUES ($1, $2, $3, $4, 0, 0, 0, 0, 'epoch'::timestamptz, TRUE, $5)
		ON CONFLICT (tenant_id, metric_name, granularity, bucket_start) DO UPDATE SET
			needs_backfill = TRUE,
			updated_at = EXCLUDED.updated_at
	`

	r.cache.DeleteByPrefix(ctx, cache.GenerateKey(cache.PrefixRollup, tenantID, metricName)+":")

	_, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		tenantID, metricName, bucketStart.UTC(), granularity, time.Now().UTC())
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to flag rollup bucket for backfill").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *RollupRepository) ListBackfillCandidates(ctx context.Context, limit int) ([]*rollup.Bucket, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT tenant_id, metric_name, bucket_start, granularity, sum, count, min, max,
			source_watermark, needs_backfill, updated_at
		FROM rollup_buckets
		WHERE tenant_id = $1 AND needs_backfill
		ORDER BY bucket_start
		LIMIT $2
	`

	var buckets []*rollup.Bucket
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &buckets, query, types.GetTenantID(ctx), limit)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list backfill candidates").
			Mark(ierr.ErrDatabase)
	}
	return buckets, nil
}

// MinSourceWatermark is deliberately cross-tenant: retention gates partition
// drops on the slowest watermark across every tenant's buckets overlapping
// the partition's time range.
func (r *RollupRepository) MinSourceWatermark(ctx context.Context, startTime, endTime time.Time) (time.Time, error) {
	query := `
		SELECT MIN(source_watermark)
		FROM rollup_buckets
		WHERE bucket_start < $2
			AND bucket_start + CASE granularity
				WHEN 'MINUTE' THEN interval '1 minute'
				WHEN 'HOUR' THEN interval '1 hour'
				ELSE interval '1 day'
			END > $1
	`

	var watermark sql.NullTime
	err := r.db.GetQuerier(ctx).GetContext(ctx, &watermark, query, startTime.UTC(), endTime.UTC())
	if err != nil {
		return time.Time{}, ierr.WithError(err).
			WithHint("Failed to read minimum source watermark").
			Mark(ierr.ErrDatabase)
	}
	if !watermark.Valid {
		return time.Time{}, nil
	}
	return watermark.Time.UTC(), nil
}
