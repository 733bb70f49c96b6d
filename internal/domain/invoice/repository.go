package invoice

import (
	"context"
	"time"
)

type Repository interface {
	// CreateInvoice persists the invoice and its line items in one transaction
	CreateInvoice(ctx context.Context, inv *Invoice) error

	// GetInvoice returns an invoice with its line items
	GetInvoice(ctx context.Context, id string) (*Invoice, error)

	// GetDraftForPeriod returns the draft invoice for a subscription period
	// if one exists, so a rerun replaces the draft instead of duplicating it
	GetDraftForPeriod(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*Invoice, error)

	// ReplaceDraft atomically swaps an existing draft's line items for the
	// recomputed set
	ReplaceDraft(ctx context.Context, inv *Invoice) error

	// UpdateInvoiceStatus moves the invoice through draft -> open -> paid/void
	UpdateInvoiceStatus(ctx context.Context, id string, from, to string) error

	// ListInvoices returns the tenant's invoices, newest first
	ListInvoices(ctx context.Context, limit int) ([]*Invoice, error)
}
