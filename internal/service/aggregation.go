package service

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc/pool"

	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/domain/rollup"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

const bucketLockStripes = 64

// AggregationService folds raw events into rollup buckets. Buckets are a
// recomputable derivation of the event ledger: the incremental fold keeps them
// current, backfill recomputes them from scratch, and drift checks verify the
// two agree.
type AggregationService interface {
	// ProcessEvent folds one persisted event into every configured granularity
	ProcessEvent(ctx context.Context, event *events.UsageEvent) error

	// Backfill recomputes all buckets for a tenant/metric/granularity range
	// from the raw ledger and atomically replaces the stored set
	Backfill(ctx context.Context, metricName string, granularity types.BucketGranularity, startTime, endTime time.Time) error

	// CheckDrift recomputes a range and compares it against stored buckets.
	// Mismatching buckets are flagged for backfill and the call fails.
	CheckDrift(ctx context.Context, metricName string, granularity types.BucketGranularity, startTime, endTime time.Time) error

	// RepairBackfillCandidates backfills buckets previously flagged for repair
	RepairBackfillCandidates(ctx context.Context, limit int) (int, error)

	// StartConsumer subscribes to ingestion notifications and folds events as
	// they are persisted. Blocks until ctx is cancelled.
	StartConsumer(ctx context.Context) error
}

type aggregationService struct {
	ServiceParams
	locks [bucketLockStripes]sync.Mutex
}

func NewAggregationService(params ServiceParams) AggregationService {
	return &aggregationService{ServiceParams: params}
}

// lockFor returns the stripe guarding a bucket key. Striping keeps the fold
// serialized per bucket without a lock per key.
func (s *aggregationService) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.locks[h.Sum32()%bucketLockStripes]
}

func (s *aggregationService) ProcessEvent(ctx context.Context, event *events.UsageEvent) error {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("Aggregation requires tenant scope").
			Mark(ierr.ErrPermissionDenied)
	}

	for _, granularity := range s.Config.Aggregation.Granularities {
		if err := s.foldEvent(ctx, event, granularity); err != nil {
			return err
		}
	}
	return nil
}

// foldEvent applies one event to one bucket under the bucket's lock, with
// bounded retries against transient store errors. A fold that exhausts its
// retries flags the bucket so a later backfill repairs it; the event itself is
// already safe in the ledger.
func (s *aggregationService) foldEvent(ctx context.Context, event *events.UsageEvent, granularity types.BucketGranularity) error {
	bucketStart := granularity.BucketStart(event.OccurredAt)
	key := rollup.Key(event.TenantID, event.MetricName, granularity, bucketStart)

	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	operation := func() error {
		bucket, err := s.RollupRepo.GetBucket(ctx, event.MetricName, granularity, bucketStart)
		if err != nil {
			if !ierr.IsNotFound(err) {
				return err
			}
			bucket = &rollup.Bucket{
				TenantID:    event.TenantID,
				MetricName:  event.MetricName,
				BucketStart: bucketStart,
				Granularity: granularity,
				Min:         event.Quantity,
				Max:         event.Quantity,
			}
		}

		bucket.Sum = bucket.Sum.Add(event.Quantity)
		bucket.Count++
		if bucket.Count == 1 || event.Quantity.LessThan(bucket.Min) {
			bucket.Min = event.Quantity
		}
		if bucket.Count == 1 || event.Quantity.GreaterThan(bucket.Max) {
			bucket.Max = event.Quantity
		}
		if event.RecordedAt.After(bucket.SourceWatermark) {
			bucket.SourceWatermark = event.RecordedAt
		}
		bucket.UpdatedAt = time.Now().UTC()

		return s.RollupRepo.UpsertBucket(ctx, bucket)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.Config.Aggregation.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		s.Logger.Errorw("incremental fold exhausted retries, flagging bucket for backfill",
			"bucket_key", key,
			"error", err,
		)
		if markErr := s.RollupRepo.MarkForBackfill(ctx, event.MetricName, granularity, bucketStart); markErr != nil {
			s.Logger.Errorw("failed to flag bucket for backfill", "bucket_key", key, "error", markErr)
		}
		return err
	}
	return nil
}

func (s *aggregationService) Backfill(ctx context.Context, metricName string, granularity types.BucketGranularity, startTime, endTime time.Time) error {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("Backfill requires tenant scope").
			Mark(ierr.ErrPermissionDenied)
	}
	if err := granularity.Validate(); err != nil {
		return ierr.WithError(err).
			WithHint("Granularity must be MINUTE, HOUR or DAY").
			Mark(ierr.ErrValidation)
	}

	// Align the range to bucket boundaries so replacement never splits a bucket
	startTime = granularity.BucketStart(startTime)
	endTime = granularity.BucketStart(endTime.Add(granularity.Duration() - time.Nanosecond)).Add(granularity.Duration())

	buckets, err := s.recompute(ctx, metricName, granularity, startTime, endTime)
	if err != nil {
		return err
	}

	if err := s.RollupRepo.ReplaceBuckets(ctx, &rollup.ReplaceBucketsParams{
		MetricName:  metricName,
		Granularity: granularity,
		StartTime:   startTime,
		EndTime:     endTime,
		Buckets:     buckets,
	}); err != nil {
		return err
	}

	s.Logger.Infow("backfill complete",
		"metric_name", metricName,
		"granularity", granularity,
		"start_time", startTime,
		"end_time", endTime,
		"buckets", len(buckets),
	)
	return nil
}

// recompute folds the raw ledger store side into a fresh bucket set. The fold
// is bounded by ingestion time taken at call start so it is reproducible.
func (s *aggregationService) recompute(ctx context.Context, metricName string, granularity types.BucketGranularity, startTime, endTime time.Time) ([]*rollup.Bucket, error) {
	watermark := time.Now().UTC()
	tenantID := types.GetTenantID(ctx)

	aggregates, err := s.EventRepo.GetBucketAggregates(ctx, &events.BucketAggregateParams{
		TenantID:       tenantID,
		MetricName:     metricName,
		Granularity:    granularity,
		StartTime:      startTime,
		EndTime:        endTime,
		RecordedBefore: watermark,
	})
	if err != nil {
		return nil, err
	}

	buckets := make([]*rollup.Bucket, 0, len(aggregates))
	for _, agg := range aggregates {
		buckets = append(buckets, &rollup.Bucket{
			TenantID:        tenantID,
			MetricName:      metricName,
			BucketStart:     agg.BucketStart,
			Granularity:     granularity,
			Sum:             agg.Sum,
			Count:           int64(agg.Count),
			Min:             agg.Min,
			Max:             agg.Max,
			SourceWatermark: agg.MaxRecordedAt,
			UpdatedAt:       time.Now().UTC(),
		})
	}
	return buckets, nil
}

func (s *aggregationService) CheckDrift(ctx context.Context, metricName string, granularity types.BucketGranularity, startTime, endTime time.Time) error {
	recomputed, err := s.recompute(ctx, metricName, granularity, startTime, endTime)
	if err != nil {
		return err
	}

	stored, err := s.RollupRepo.GetBuckets(ctx, &rollup.GetBucketsParams{
		MetricName:  metricName,
		Granularity: granularity,
		StartTime:   startTime,
		EndTime:     endTime,
	})
	if err != nil {
		return err
	}

	storedByStart := make(map[time.Time]*rollup.Bucket, len(stored))
	for _, b := range stored {
		storedByStart[b.BucketStart.UTC()] = b
	}

	var drifted []string
	for _, want := range recomputed {
		got, ok := storedByStart[want.BucketStart.UTC()]
		if !ok || !got.Sum.Equal(want.Sum) || got.Count != want.Count {
			// Only compare up to the stored watermark: events recorded after
			// the last fold are lag, not drift
			if ok && want.SourceWatermark.After(got.SourceWatermark) {
				continue
			}
			drifted = append(drifted, rollup.Key(want.TenantID, metricName, granularity, want.BucketStart))
			if err := s.RollupRepo.MarkForBackfill(ctx, metricName, granularity, want.BucketStart); err != nil {
				s.Logger.Errorw("failed to flag drifted bucket", "bucket_start", want.BucketStart, "error", err)
			}
		}
	}

	if len(drifted) > 0 {
		return ierr.NewError("rollup drift detected").
			WithHint("Drifted buckets were flagged for backfill").
			WithReportableDetails(map[string]any{
				"metric_name": metricName,
				"granularity": granularity,
				"buckets":     drifted,
			}).
			Mark(ierr.ErrAggregationDrift)
	}
	return nil
}

func (s *aggregationService) RepairBackfillCandidates(ctx context.Context, limit int) (int, error) {
	candidates, err := s.RollupRepo.ListBackfillCandidates(ctx, limit)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, bucket := range candidates {
		if err := s.Backfill(ctx, bucket.MetricName, bucket.Granularity, bucket.BucketStart, bucket.BucketEnd()); err != nil {
			s.Logger.Errorw("backfill repair failed",
				"bucket_key", bucket.Key(),
				"error", err,
			)
			continue
		}
		repaired++
	}
	return repaired, nil
}

// StartConsumer drives the incremental fold from ingestion notifications.
// Message handling is parallel across bucket keys and serialized per key by
// the stripe locks.
func (s *aggregationService) StartConsumer(ctx context.Context) error {
	messages, err := s.PubSub.Subscribe(ctx, s.Config.Event.Topic)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to subscribe to ingestion notifications").
			WithReportableDetails(map[string]any{"topic": s.Config.Event.Topic}).
			Mark(ierr.ErrSystem)
	}

	s.Logger.Infow("aggregation consumer started",
		"topic", s.Config.Event.Topic,
		"workers", s.Config.Aggregation.WorkerCount,
	)

	workers := pool.New().WithMaxGoroutines(s.Config.Aggregation.WorkerCount)
	for msg := range messages {
		msg := msg
		workers.Go(func() {
			var event events.UsageEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				s.Logger.Errorw("dropping malformed ingestion notification",
					"message_id", msg.UUID,
					"error", err,
				)
				msg.Ack()
				return
			}

			err := types.WithTenant(ctx, event.TenantID, func(ctx context.Context) error {
				return s.ProcessEvent(ctx, &event)
			})
			if err != nil {
				// The bucket is flagged for backfill by the fold; ack so the
				// notification is not redelivered forever
				s.Logger.Errorw("fold failed for event",
					"event_id", event.ID,
					"error", err,
				)
			}
			msg.Ack()
		})
	}
	workers.Wait()

	s.Logger.Infow("aggregation consumer stopped")
	return nil
}
