package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/meterline/meterline/internal/domain/subscription"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemorySubscriptionStore implements subscription.Repository for tests
type InMemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*subscription.Subscription
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{subs: make(map[string]*subscription.Subscription)}
}

func (s *InMemorySubscriptionStore) requireScope(ctx context.Context) (string, error) {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return "", ierr.WithError(err).Mark(ierr.ErrPermissionDenied)
	}
	return types.GetTenantID(ctx), nil
}

func (s *InMemorySubscriptionStore) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return err
	}
	if sub.TenantID != tenantID {
		return ierr.NewError("subscription tenant does not match scope").Mark(ierr.ErrScopeViolation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *sub
	s.subs[sub.ID] = &clone
	return nil
}

func (s *InMemorySubscriptionStore) GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok || sub.TenantID != tenantID {
		return nil, ierr.NewError("subscription not found").Mark(ierr.ErrNotFound)
	}
	clone := *sub
	return &clone, nil
}

func (s *InMemorySubscriptionStore) GetActiveSubscription(ctx context.Context) (*subscription.Subscription, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *subscription.Subscription
	for _, sub := range s.subs {
		if sub.TenantID != tenantID {
			continue
		}
		switch sub.SubscriptionStatus {
		case types.SubscriptionStatusTrialing, types.SubscriptionStatusActive, types.SubscriptionStatusPastDue:
		default:
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, ierr.NewError("no active subscription").Mark(ierr.ErrNotFound)
	}
	clone := *latest
	return &clone, nil
}

func (s *InMemorySubscriptionStore) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.subs[sub.ID]
	if !ok || existing.TenantID != tenantID {
		return ierr.NewError("subscription not found").Mark(ierr.ErrNotFound)
	}
	clone := *sub
	s.subs[sub.ID] = &clone
	return nil
}

func (s *InMemorySubscriptionStore) ListTenantIDsWithActiveSubscriptions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, sub := range s.subs {
		if sub.SubscriptionStatus.IsBillable() {
			seen[sub.TenantID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for tenantID := range seen {
		out = append(out, tenantID)
	}
	sort.Strings(out)
	return out, nil
}
