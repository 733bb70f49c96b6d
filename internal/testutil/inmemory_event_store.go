package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/events"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

const partitionLayout = "20060102"

// InMemoryEventStore implements events.Repository for tests. Partitions are
// one UTC day of occurred_at, mirroring the production table layout. Every
// partition operation is appended to Ops so tests can assert ordering.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events []*events.UsageEvent
	Ops    []string
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{}
}

func (s *InMemoryEventStore) requireScope(ctx context.Context) (string, error) {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return "", ierr.WithError(err).Mark(ierr.ErrPermissionDenied)
	}
	return types.GetTenantID(ctx), nil
}

func (s *InMemoryEventStore) InsertEvent(ctx context.Context, event *events.UsageEvent) error {
	return s.BulkInsertEvents(ctx, []*events.UsageEvent{event})
}

func (s *InMemoryEventStore) BulkInsertEvents(ctx context.Context, batch []*events.UsageEvent) error {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range batch {
		if event.TenantID != tenantID {
			return ierr.NewError("event tenant does not match scope").
				Mark(ierr.ErrScopeViolation)
		}
		// Same uniqueness the production table enforces: one row per
		// (tenant_id, idempotency_key)
		if event.IdempotencyKey != "" && s.findByKeyLocked(tenantID, event.IdempotencyKey) != nil {
			continue
		}
		clone := *event
		s.events = append(s.events, &clone)
	}
	return nil
}

func (s *InMemoryEventStore) findByKeyLocked(tenantID, key string) *events.UsageEvent {
	for _, e := range s.events {
		if e.TenantID == tenantID && e.IdempotencyKey == key {
			return e
		}
	}
	return nil
}

func (s *InMemoryEventStore) FindExistingIdempotencyKeys(ctx context.Context, keys []string) (map[string]string, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	existing := make(map[string]string)
	for _, key := range keys {
		if e := s.findByKeyLocked(tenantID, key); e != nil {
			existing[key] = e.ID
		}
	}
	return existing, nil
}

func (s *InMemoryEventStore) GetEvents(ctx context.Context, params *events.GetEventsParams) ([]*events.UsageEvent, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*events.UsageEvent
	for _, e := range s.events {
		if e.TenantID != tenantID {
			continue
		}
		if params.MetricName != "" && e.MetricName != params.MetricName {
			continue
		}
		if e.OccurredAt.Before(params.StartTime) || !e.OccurredAt.Before(params.EndTime) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *InMemoryEventStore) GetBucketAggregates(ctx context.Context, params *events.BucketAggregateParams) ([]*events.BucketAggregate, error) {
	if _, err := s.requireScope(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	byStart := make(map[time.Time]*events.BucketAggregate)
	for _, e := range s.events {
		if e.TenantID != params.TenantID || e.MetricName != params.MetricName {
			continue
		}
		if e.OccurredAt.Before(params.StartTime) || !e.OccurredAt.Before(params.EndTime) {
			continue
		}
		if !params.RecordedBefore.IsZero() && e.RecordedAt.After(params.RecordedBefore) {
			continue
		}

		start := params.Granularity.BucketStart(e.OccurredAt)
		agg, ok := byStart[start]
		if !ok {
			agg = &events.BucketAggregate{
				BucketStart: start,
				Min:         e.Quantity,
				Max:         e.Quantity,
			}
			byStart[start] = agg
		}
		agg.Sum = agg.Sum.Add(e.Quantity)
		agg.Count++
		if e.Quantity.LessThan(agg.Min) {
			agg.Min = e.Quantity
		}
		if e.Quantity.GreaterThan(agg.Max) {
			agg.Max = e.Quantity
		}
		if e.RecordedAt.After(agg.MaxRecordedAt) {
			agg.MaxRecordedAt = e.RecordedAt
		}
	}

	out := make([]*events.BucketAggregate, 0, len(byStart))
	for _, agg := range byStart {
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}

func (s *InMemoryEventStore) ListPartitions(ctx context.Context) ([]events.Partition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byDay := make(map[string]*events.Partition)
	for _, e := range s.events {
		day := e.OccurredAt.UTC().Format(partitionLayout)
		p, ok := byDay[day]
		if !ok {
			p = &events.Partition{
				Name:    day,
				MinTime: e.OccurredAt.UTC(),
				MaxTime: e.OccurredAt.UTC(),
			}
			byDay[day] = p
		}
		if e.OccurredAt.UTC().Before(p.MinTime) {
			p.MinTime = e.OccurredAt.UTC()
		}
		if e.OccurredAt.UTC().After(p.MaxTime) {
			p.MaxTime = e.OccurredAt.UTC()
		}
		p.Rows++
	}

	out := make([]events.Partition, 0, len(byDay))
	for _, p := range byDay {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemoryEventStore) ExportPartition(ctx context.Context, partition string, dir string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows [][]byte
	for _, e := range s.events {
		if e.OccurredAt.UTC().Format(partitionLayout) == partition {
			line, err := json.Marshal(e)
			if err != nil {
				return 0, err
			}
			rows = append(rows, line)
		}
	}

	var payload []byte
	for _, line := range rows {
		payload = append(payload, line...)
		payload = append(payload, '\n')
	}
	if err := os.WriteFile(filepath.Join(dir, "events_"+partition+".jsonl"), payload, 0o644); err != nil {
		return 0, err
	}

	s.Ops = append(s.Ops, "export:"+partition)
	return int64(len(rows)), nil
}

func (s *InMemoryEventStore) DropPartition(ctx context.Context, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, e := range s.events {
		if e.OccurredAt.UTC().Format(partitionLayout) != partition {
			kept = append(kept, e)
		}
	}
	s.events = kept
	s.Ops = append(s.Ops, "drop:"+partition)
	return nil
}

// Count returns the number of stored events across all tenants
func (s *InMemoryEventStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// TotalQuantity sums stored quantities for a tenant/metric
func (s *InMemoryEventStore) TotalQuantity(tenantID, metricName string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, e := range s.events {
		if e.TenantID == tenantID && e.MetricName == metricName {
			total = total.Add(e.Quantity)
		}
	}
	return total
}
