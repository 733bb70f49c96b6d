package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/meter"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryMeterStore implements meter.Repository for tests
type InMemoryMeterStore struct {
	mu     sync.RWMutex
	meters map[string]*meter.Meter
}

func NewInMemoryMeterStore() *InMemoryMeterStore {
	return &InMemoryMeterStore{meters: make(map[string]*meter.Meter)}
}

func (s *InMemoryMeterStore) requireScope(ctx context.Context) (string, error) {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return "", ierr.WithError(err).Mark(ierr.ErrPermissionDenied)
	}
	return types.GetTenantID(ctx), nil
}

func (s *InMemoryMeterStore) CreateMeter(ctx context.Context, m *meter.Meter) error {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return err
	}
	if m.TenantID != tenantID {
		return ierr.NewError("meter tenant does not match scope").Mark(ierr.ErrScopeViolation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *m
	s.meters[m.ID] = &clone
	return nil
}

func (s *InMemoryMeterStore) GetMeter(ctx context.Context, id string) (*meter.Meter, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meters[id]
	if !ok || m.TenantID != tenantID {
		return nil, ierr.NewError("meter not found").Mark(ierr.ErrNotFound)
	}
	clone := *m
	return &clone, nil
}

func (s *InMemoryMeterStore) GetMeterByMetricName(ctx context.Context, metricName string) (*meter.Meter, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.meters {
		if m.TenantID == tenantID && m.MetricName == metricName && m.Status == types.StatusPublished {
			clone := *m
			return &clone, nil
		}
	}
	return nil, ierr.NewError("unknown metric").
		WithHintf("No published meter registers metric %s", metricName).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryMeterStore) ListMeters(ctx context.Context) ([]*meter.Meter, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*meter.Meter
	for _, m := range s.meters {
		if m.TenantID == tenantID && m.Status == types.StatusPublished {
			clone := *m
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricName < out[j].MetricName })
	return out, nil
}

func (s *InMemoryMeterStore) DisableMeter(ctx context.Context, id string) error {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meters[id]
	if !ok || m.TenantID != tenantID {
		return ierr.NewError("meter not found").Mark(ierr.ErrNotFound)
	}
	m.Status = types.StatusArchived
	m.UpdatedAt = time.Now().UTC()
	return nil
}
