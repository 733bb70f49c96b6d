package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/price"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryPriceStore implements price.Repository for tests
type InMemoryPriceStore struct {
	mu    sync.RWMutex
	rules []*price.PricingRule
}

func NewInMemoryPriceStore() *InMemoryPriceStore {
	return &InMemoryPriceStore{}
}

func (s *InMemoryPriceStore) requireScope(ctx context.Context) (string, error) {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return "", ierr.WithError(err).Mark(ierr.ErrPermissionDenied)
	}
	return types.GetTenantID(ctx), nil
}

func (s *InMemoryPriceStore) CreatePricingRule(ctx context.Context, rule *price.PricingRule) error {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return err
	}
	if rule.TenantID != tenantID {
		return ierr.NewError("rule tenant does not match scope").Mark(ierr.ErrScopeViolation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Version assignment mirrors the production store: next version for the
	// plan/metric pair
	maxVersion := 0
	for _, r := range s.rules {
		if r.TenantID == tenantID && r.PlanID == rule.PlanID && r.MetricName == rule.MetricName && r.Version > maxVersion {
			maxVersion = r.Version
		}
	}
	clone := *rule
	clone.Version = maxVersion + 1
	rule.Version = clone.Version
	s.rules = append(s.rules, &clone)
	return nil
}

func (s *InMemoryPriceStore) GetPricingRule(ctx context.Context, id string) (*price.PricingRule, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rules {
		if r.TenantID == tenantID && r.ID == id {
			clone := *r
			return &clone, nil
		}
	}
	return nil, ierr.NewError("pricing rule not found").Mark(ierr.ErrNotFound)
}

func (s *InMemoryPriceStore) ResolveForPeriod(ctx context.Context, planID string, periodStart, periodEnd time.Time) ([]*price.PricingRule, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	best := make(map[string]*price.PricingRule)
	for _, r := range s.rules {
		if r.TenantID != tenantID || r.PlanID != planID || !r.Covers(periodStart, periodEnd) {
			continue
		}
		if current, ok := best[r.MetricName]; !ok || r.Version > current.Version {
			best[r.MetricName] = r
		}
	}

	out := make([]*price.PricingRule, 0, len(best))
	for _, r := range best {
		clone := *r
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricName < out[j].MetricName })
	return out, nil
}

func (s *InMemoryPriceStore) ListPricingRules(ctx context.Context, planID string) ([]*price.PricingRule, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*price.PricingRule
	for _, r := range s.rules {
		if r.TenantID == tenantID && r.PlanID == planID {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}
