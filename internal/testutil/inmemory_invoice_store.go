package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/domain/invoice"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// InMemoryInvoiceStore implements invoice.Repository for tests
type InMemoryInvoiceStore struct {
	mu       sync.RWMutex
	invoices map[string]*invoice.Invoice
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{invoices: make(map[string]*invoice.Invoice)}
}

func (s *InMemoryInvoiceStore) requireScope(ctx context.Context) (string, error) {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return "", ierr.WithError(err).Mark(ierr.ErrPermissionDenied)
	}
	return types.GetTenantID(ctx), nil
}

func cloneInvoice(inv *invoice.Invoice) *invoice.Invoice {
	clone := *inv
	clone.LineItems = make([]*invoice.LineItem, len(inv.LineItems))
	for i, item := range inv.LineItems {
		itemClone := *item
		clone.LineItems[i] = &itemClone
	}
	return &clone
}

func (s *InMemoryInvoiceStore) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return err
	}
	if inv.TenantID != tenantID {
		return ierr.NewError("invoice tenant does not match scope").Mark(ierr.ErrScopeViolation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *InMemoryInvoiceStore) GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return nil, ierr.NewError("invoice not found").Mark(ierr.ErrNotFound)
	}
	return cloneInvoice(inv), nil
}

func (s *InMemoryInvoiceStore) GetDraftForPeriod(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*invoice.Invoice, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invoices {
		if inv.TenantID == tenantID &&
			inv.SubscriptionID == subscriptionID &&
			inv.InvoiceStatus == types.InvoiceStatusDraft &&
			inv.PeriodStart.Equal(periodStart) &&
			inv.PeriodEnd.Equal(periodEnd) {
			return cloneInvoice(inv), nil
		}
	}
	return nil, ierr.NewError("draft invoice not found").Mark(ierr.ErrNotFound)
}

func (s *InMemoryInvoiceStore) ReplaceDraft(ctx context.Context, inv *invoice.Invoice) error {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.invoices[inv.ID]
	if !ok || existing.TenantID != tenantID {
		return ierr.NewError("invoice not found").Mark(ierr.ErrNotFound)
	}
	if existing.InvoiceStatus != types.InvoiceStatusDraft {
		return ierr.NewError("invoice is finalized").
			WithHint("Finalized invoices are append-only").
			Mark(ierr.ErrInvalidOperation)
	}
	s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *InMemoryInvoiceStore) UpdateInvoiceStatus(ctx context.Context, id string, from, to string) error {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return ierr.NewError("invoice not found").Mark(ierr.ErrNotFound)
	}
	if string(inv.InvoiceStatus) != from {
		return ierr.NewError("invalid invoice status transition").
			WithHintf("Invoice is %s, expected %s", inv.InvoiceStatus, from).
			Mark(ierr.ErrInvalidOperation)
	}
	inv.InvoiceStatus = types.InvoiceStatus(to)
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryInvoiceStore) ListInvoices(ctx context.Context, limit int) ([]*invoice.Invoice, error) {
	tenantID, err := s.requireScope(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*invoice.Invoice
	for _, inv := range s.invoices {
		if inv.TenantID == tenantID {
			out = append(out, cloneInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
