package service

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/domain/rollup"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

const flushTimeout = 10 * time.Second

// throttledReason marks acks rejected by an active throttle signal
const throttledReason = "ingestion throttled; retry later"

// EventService is the ingestion and usage-read surface of the event ledger
type EventService interface {
	// IngestEvent accepts one event and acknowledges it
	IngestEvent(ctx context.Context, req *dto.IngestEventRequest) (*dto.IngestEventResponse, error)

	// BulkIngestEvents accepts a batch and acknowledges each event in order
	BulkIngestEvents(ctx context.Context, req *dto.BulkIngestEventsRequest) (*dto.BulkIngestEventsResponse, error)

	// GetUsage returns bucketed usage for a metric. Fresh reads bypass the
	// rollup store and fold raw events directly.
	GetUsage(ctx context.Context, req *dto.GetUsageRequest) (*dto.GetUsageResponse, error)

	// GetRawEvents returns raw events for audit and debugging
	GetRawEvents(ctx context.Context, req *dto.GetEventsRequest) (*dto.GetEventsResponse, error)

	// Flush drains the ingest buffer synchronously
	Flush(ctx context.Context) error

	// Start launches the background flusher
	Start(ctx context.Context)

	// Stop flushes and stops the background flusher
	Stop()
}

type eventService struct {
	ServiceParams
	throttle *ThrottleController

	mu      sync.Mutex
	buffer  []*events.UsageEvent
	pending map[string]string // tenant_id:idempotency_key -> event id, not yet flushed

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewEventService(params ServiceParams, throttle *ThrottleController) EventService {
	return &eventService{
		ServiceParams: params,
		throttle:      throttle,
		pending:       make(map[string]string),
		stopCh:        make(chan struct{}),
	}
}

func (s *eventService) IngestEvent(ctx context.Context, req *dto.IngestEventRequest) (*dto.IngestEventResponse, error) {
	tenantID := types.GetTenantID(ctx)
	if err := types.ValidateTenantContext(ctx); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Ingestion requires an authenticated tenant").
			Mark(ierr.ErrPermissionDenied)
	}

	acks, err := s.processEvents(ctx, tenantID, []*dto.IngestEventRequest{req})
	if err != nil {
		return nil, err
	}
	if acks[0].Status == types.AckRejected && acks[0].Reason == throttledReason {
		return nil, ierr.NewError("ingestion throttled").
			WithHint("A throttle overage signal is active for this metric; retry later").
			WithReportableDetails(map[string]any{
				"metric_name": req.MetricName,
			}).
			Mark(ierr.ErrThrottled)
	}
	return &dto.IngestEventResponse{Ack: acks[0]}, nil
}

func (s *eventService) BulkIngestEvents(ctx context.Context, req *dto.BulkIngestEventsRequest) (*dto.BulkIngestEventsResponse, error) {
	tenantID := types.GetTenantID(ctx)
	if err := types.ValidateTenantContext(ctx); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Ingestion requires an authenticated tenant").
			Mark(ierr.ErrPermissionDenied)
	}

	if err := req.Validate(s.Config.Ingestion.MaxBatchSize); err != nil {
		return nil, err
	}

	acks, err := s.processEvents(ctx, tenantID, req.Events)
	if err != nil {
		return nil, err
	}
	return &dto.BulkIngestEventsResponse{Acks: acks}, nil
}

// processEvents validates, deduplicates and buffers a batch for one tenant,
// producing one ack per event in submission order
func (s *eventService) processEvents(ctx context.Context, tenantID string, reqs []*dto.IngestEventRequest) ([]dto.IngestAck, error) {
	acks := make([]dto.IngestAck, len(reqs))
	candidates := make([]*events.UsageEvent, 0, len(reqs))
	candidateIdx := make([]int, 0, len(reqs))
	now := time.Now().UTC()
	maxSkew := s.Config.Ingestion.MaxFutureSkew()

	for i, req := range reqs {
		if !s.throttle.Allow(tenantID, req.MetricName) {
			acks[i] = dto.IngestAck{EventID: req.EventID, Status: types.AckRejected, Reason: throttledReason}
			continue
		}

		if err := req.Validate(); err != nil {
			acks[i] = dto.IngestAck{EventID: req.EventID, Status: types.AckRejected, Reason: err.Error()}
			continue
		}

		if !req.OccurredAt.IsZero() && req.OccurredAt.UTC().After(now.Add(maxSkew)) {
			acks[i] = dto.IngestAck{
				EventID: req.EventID,
				Status:  types.AckRejected,
				Reason:  "occurred_at is too far in the future",
			}
			continue
		}

		if !req.OccurredAt.IsZero() && req.OccurredAt.UTC().Before(now.Add(-s.Config.Retention.RawEventWindow())) {
			acks[i] = dto.IngestAck{
				EventID: req.EventID,
				Status:  types.AckRejected,
				Reason:  "occurred_at is older than the retention window",
			}
			continue
		}

		if _, err := s.MeterRepo.GetMeterByMetricName(ctx, req.MetricName); err != nil {
			if ierr.IsNotFound(err) {
				acks[i] = dto.IngestAck{
					EventID: req.EventID,
					Status:  types.AckRejected,
					Reason:  "unknown metric: " + req.MetricName,
				}
				continue
			}
			return nil, err
		}

		event := req.ToUsageEvent(tenantID)
		if err := event.Validate(); err != nil {
			acks[i] = dto.IngestAck{EventID: req.EventID, Status: types.AckRejected, Reason: err.Error()}
			continue
		}

		candidates = append(candidates, event)
		candidateIdx = append(candidateIdx, i)
	}

	existing, err := s.lookupDuplicates(ctx, tenantID, candidates)
	if err != nil {
		return nil, err
	}

	accepted := make([]*events.UsageEvent, 0, len(candidates))
	seen := make(map[string]string, len(candidates))
	for j, event := range candidates {
		i := candidateIdx[j]
		if event.IdempotencyKey != "" {
			if storedID, ok := existing[event.IdempotencyKey]; ok {
				acks[i] = dto.IngestAck{EventID: storedID, Status: types.AckDuplicate}
				continue
			}
			if firstID, ok := seen[event.IdempotencyKey]; ok {
				acks[i] = dto.IngestAck{EventID: firstID, Status: types.AckDuplicate}
				continue
			}
			seen[event.IdempotencyKey] = event.ID
		}
		accepted = append(accepted, event)
		acks[i] = dto.IngestAck{EventID: event.ID, Status: types.AckAccepted}
	}

	if err := s.bufferEvents(ctx, accepted); err != nil {
		return nil, err
	}
	return acks, nil
}

// lookupDuplicates resolves idempotency keys against the store and the
// not-yet-flushed buffer
func (s *eventService) lookupDuplicates(ctx context.Context, tenantID string, candidates []*events.UsageEvent) (map[string]string, error) {
	keys := lo.FilterMap(candidates, func(e *events.UsageEvent, _ int) (string, bool) {
		return e.IdempotencyKey, e.IdempotencyKey != ""
	})
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	existing, err := s.EventRepo.FindExistingIdempotencyKeys(ctx, lo.Uniq(keys))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, key := range keys {
		if id, ok := s.pending[tenantID+":"+key]; ok {
			existing[key] = id
		}
	}
	s.mu.Unlock()

	return existing, nil
}

// bufferEvents appends accepted events to the ingest buffer, flushing inline
// once the buffer reaches the configured batch size
func (s *eventService) bufferEvents(ctx context.Context, accepted []*events.UsageEvent) error {
	if len(accepted) == 0 {
		return nil
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, accepted...)
	for _, e := range accepted {
		if e.IdempotencyKey != "" {
			s.pending[e.TenantID+":"+e.IdempotencyKey] = e.ID
		}
	}
	full := len(s.buffer) >= s.Config.Ingestion.MaxBatchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush drains the buffer and persists its contents grouped by tenant. The
// storage layer requires tenant scope on every write, so each group is
// inserted under its own scope.
func (s *eventService) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	byTenant := lo.GroupBy(batch, func(e *events.UsageEvent) string { return e.TenantID })

	var firstErr error
	for tenantID, tenantEvents := range byTenant {
		err := types.WithTenant(ctx, tenantID, func(ctx context.Context) error {
			if err := s.EventRepo.BulkInsertEvents(ctx, tenantEvents); err != nil {
				return err
			}
			for _, e := range tenantEvents {
				if err := s.EventPublisher.Publish(ctx, e); err != nil {
					s.Logger.Errorw("failed to publish ingested event", "event_id", e.ID, "error", err)
				}
			}
			return nil
		})
		if err != nil {
			s.Logger.Errorw("failed to flush ingest buffer",
				"tenant_id", tenantID,
				"events", len(tenantEvents),
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			// Put the failed group back so the next flush retries it
			s.mu.Lock()
			s.buffer = append(s.buffer, tenantEvents...)
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		for _, e := range tenantEvents {
			if e.IdempotencyKey != "" {
				delete(s.pending, tenantID+":"+e.IdempotencyKey)
			}
		}
		s.mu.Unlock()
	}
	return firstErr
}

// Start launches the interval flusher. It runs until Stop or ctx cancellation.
func (s *eventService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.Config.Ingestion.FlushInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
				if err := s.Flush(flushCtx); err != nil {
					s.Logger.Errorw("interval flush failed", "error", err)
				}
				cancel()
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *eventService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := s.Flush(flushCtx); err != nil {
			s.Logger.Errorw("final flush failed", "error", err)
		}
	})
}

func (s *eventService) GetUsage(ctx context.Context, req *dto.GetUsageRequest) (*dto.GetUsageResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := types.ValidateTenantContext(ctx); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Usage reads require an authenticated tenant").
			Mark(ierr.ErrPermissionDenied)
	}

	if req.Fresh {
		return s.getUsageFresh(ctx, req)
	}

	cacheKey := cache.GenerateKey(cache.PrefixRollup,
		types.GetTenantID(ctx), req.MetricName, req.Granularity,
		req.StartTime.UTC().Unix(), req.EndTime.UTC().Unix())
	if cached, ok := s.Cache.Get(ctx, cacheKey); ok {
		if resp, ok := cached.(*dto.GetUsageResponse); ok {
			return resp, nil
		}
	}

	buckets, err := s.RollupRepo.GetBuckets(ctx, &rollup.GetBucketsParams{
		MetricName:  req.MetricName,
		Granularity: req.Granularity,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	})
	if err != nil {
		return nil, err
	}

	resp := dto.FromBuckets(req, buckets)
	s.Cache.Set(ctx, cacheKey, resp, s.Config.Cache.RollupTTL())
	return resp, nil
}

// getUsageFresh folds raw events store side. Billing-grade reads use this
// path so results never lag the rollup fold.
func (s *eventService) getUsageFresh(ctx context.Context, req *dto.GetUsageRequest) (*dto.GetUsageResponse, error) {
	aggregates, err := s.EventRepo.GetBucketAggregates(ctx, &events.BucketAggregateParams{
		TenantID:       types.GetTenantID(ctx),
		MetricName:     req.MetricName,
		Granularity:    req.Granularity,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		RecordedBefore: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	resp := &dto.GetUsageResponse{
		MetricName:  req.MetricName,
		Granularity: req.Granularity,
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
		Buckets:     make([]dto.UsageBucket, 0, len(aggregates)),
	}
	for _, agg := range aggregates {
		bucket := dto.UsageBucket{
			BucketStart: agg.BucketStart,
			BucketEnd:   agg.BucketStart.Add(req.Granularity.Duration()),
			Sum:         agg.Sum,
			Count:       int64(agg.Count),
			Min:         agg.Min,
			Max:         agg.Max,
		}
		if bucket.Count > 0 {
			bucket.Avg = bucket.Sum.Div(decimal.NewFromInt(bucket.Count))
		}
		resp.Buckets = append(resp.Buckets, bucket)
		resp.TotalSum = resp.TotalSum.Add(agg.Sum)
		resp.TotalCount += int64(agg.Count)
	}
	return resp, nil
}

func (s *eventService) GetRawEvents(ctx context.Context, req *dto.GetEventsRequest) (*dto.GetEventsResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	evs, err := s.EventRepo.GetEvents(ctx, &events.GetEventsParams{
		MetricName: req.MetricName,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &dto.GetEventsResponse{Events: evs}, nil
}
