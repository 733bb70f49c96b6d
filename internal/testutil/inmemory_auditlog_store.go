package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/meterline/meterline/internal/domain/auditlog"
)

// InMemoryAuditLogStore implements auditlog.Repository for tests
type InMemoryAuditLogStore struct {
	mu      sync.RWMutex
	entries []*auditlog.Entry
}

func NewInMemoryAuditLogStore() *InMemoryAuditLogStore {
	return &InMemoryAuditLogStore{}
}

func (s *InMemoryAuditLogStore) Record(ctx context.Context, entry *auditlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *entry
	s.entries = append(s.entries, &clone)
	return nil
}

func (s *InMemoryAuditLogStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*auditlog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*auditlog.Entry
	for _, e := range s.entries {
		if e.TenantID == tenantID {
			clone := *e
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
