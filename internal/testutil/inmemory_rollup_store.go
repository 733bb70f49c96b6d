package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/rollup"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryRollupStore implements rollup.Repository for tests
type InMemoryRollupStore struct {
	mu      sync.RWMutex
	buckets map[string]*rollup.Bucket

	// FailUpserts makes the next N upserts fail with a database error, for
	// retry and backfill-flagging tests
	FailUpserts int
}

func NewInMemoryRollupStore() *InMemoryRollupStore {
	return &InMemoryRollupStore{buckets: make(map[string]*rollup.Bucket)}
}

func (s *InMemoryRollupStore) requireScope(ctx context.Context) (string, error) {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return "", ierr.WithError(err).Mark(ierr.ErrPermissionDenied)
	}
	return types.GetTenantID(ctx), nil
}

func (s *InMemoryRollupStore) GetBucket(ctx context.Context, metricName string, granularity types.BucketGranularity, bucketStart time.Time) (*rollup.Bucket, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.buckets[rollup.Key(tenantID, metricName, granularity, bucketStart)]
	if !ok {
		return nil, ierr.NewError("bucket not found").Mark(ierr.ErrNotFound)
	}
	clone := *bucket
	return &clone, nil
}

func (s *InMemoryRollupStore) GetBuckets(ctx context.Context, params *rollup.GetBucketsParams) ([]*rollup.Bucket, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rollup.Bucket
	for _, b := range s.buckets {
		if b.TenantID != tenantID || b.MetricName != params.MetricName || b.Granularity != params.Granularity {
			continue
		}
		if b.BucketStart.Before(params.StartTime) || !b.BucketStart.Before(params.EndTime) {
			continue
		}
		clone := *b
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}

func (s *InMemoryRollupStore) UpsertBucket(ctx context.Context, bucket *rollup.Bucket) error {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return err
	}
	if bucket.TenantID != tenantID {
		return ierr.NewError("bucket tenant does not match scope").Mark(ierr.ErrScopeViolation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpserts > 0 {
		s.FailUpserts--
		return ierr.NewError("injected store failure").Mark(ierr.ErrDatabase)
	}
	clone := *bucket
	s.buckets[bucket.Key()] = &clone
	return nil
}

func (s *InMemoryRollupStore) ReplaceBuckets(ctx context.Context, params *rollup.ReplaceBucketsParams) error {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if b.TenantID != tenantID || b.MetricName != params.MetricName || b.Granularity != params.Granularity {
			continue
		}
		if b.BucketStart.Before(params.StartTime) || !b.BucketStart.Before(params.EndTime) {
			continue
		}
		delete(s.buckets, key)
	}
	for _, b := range params.Buckets {
		clone := *b
		s.buckets[b.Key()] = &clone
	}
	return nil
}

func (s *InMemoryRollupStore) MarkForBackfill(ctx context.Context, metricName string, granularity types.BucketGranularity, bucketStart time.Time) error {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := rollup.Key(tenantID, metricName, granularity, bucketStart)
	if b, ok := s.buckets[key]; ok {
		b.NeedsBackfill = true
		return nil
	}
	s.buckets[key] = &rollup.Bucket{
		TenantID:      tenantID,
		MetricName:    metricName,
		BucketStart:   bucketStart,
		Granularity:   granularity,
		NeedsBackfill: true,
		UpdatedAt:     time.Now().UTC(),
	}
	return nil
}

func (s *InMemoryRollupStore) ListBackfillCandidates(ctx context.Context, limit int) ([]*rollup.Bucket, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rollup.Bucket
	for _, b := range s.buckets {
		if b.TenantID == tenantID && b.NeedsBackfill {
			clone := *b
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryRollupStore) MinSourceWatermark(ctx context.Context, startTime, endTime time.Time) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var min time.Time
	found := false
	for _, b := range s.buckets {
		if !b.BucketStart.Before(endTime) || !b.BucketEnd().After(startTime) {
			continue
		}
		if b.SourceWatermark.IsZero() {
			return time.Time{}, nil
		}
		if !found || b.SourceWatermark.Before(min) {
			min = b.SourceWatermark
			found = true
		}
	}
	if !found {
		return time.Time{}, nil
	}
	return min, nil
}
