package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/meterline/meterline/internal/domain/invoice"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type InvoiceRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewInvoiceRepository(db *postgres.DB, logger *logger.Logger) invoice.Repository {
	return &InvoiceRepository{db: db, logger: logger}
}

const invoiceColumns = `id, invoice_number, subscription_id, plan_id, invoice_status,
	period_start, period_end, amount_due,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

func (r *InvoiceRepository) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	if err := requireScope(ctx); err != nil {
		return err
	}
	if err := inv.Validate(); err != nil {
		return err
	}
	if inv.TenantID != types.GetTenantID(ctx) {
		return ierr.NewError("invoice tenant does not match tenant in scope").
			WithHint("Invoices can only be written for the caller's own tenant").
			Mark(ierr.ErrScopeViolation)
	}

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.GetQuerier(ctx)

		_, err := q.ExecContext(ctx, `
			INSERT INTO invoices (`+invoiceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, inv.ID, inv.InvoiceNumber, inv.SubscriptionID, inv.PlanID, inv.InvoiceStatus,
			inv.PeriodStart.UTC(), inv.PeriodEnd.UTC(), inv.AmountDue,
			inv.TenantID, inv.Status, inv.CreatedAt, inv.UpdatedAt, inv.CreatedBy, inv.UpdatedBy)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to create invoice").
				Mark(ierr.ErrDatabase)
		}

		return r.insertLineItems(ctx, inv)
	})
}

func (r *InvoiceRepository) insertLineItems(ctx context.Context, inv *invoice.Invoice) error {
	q := r.db.GetQuerier(ctx)
	for _, li := range inv.LineItems {
		_, err := q.ExecContext(ctx, `
			INSERT INTO invoice_line_items (
				id, invoice_id, metric_name, quantity, included_quantity, billable_quantity,
				unit_price, amount, limit_exceeded,
				pricing_rule_id, pricing_rule_version, bucket_keys,
				tenant_id, status, created_at, updated_at, created_by, updated_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		`, li.ID, inv.ID, li.MetricName, li.Quantity, li.IncludedQuantity, li.BillableQuantity,
			li.UnitPrice, li.Amount, li.LimitExceeded,
			li.PricingRuleID, li.PricingRuleVersion, pq.Array(li.BucketKeys),
			inv.TenantID, li.Status, li.CreatedAt, li.UpdatedAt, li.CreatedBy, li.UpdatedBy)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to create invoice line item").
				WithReportableDetails(map[string]any{"metric_name": li.MetricName}).
				Mark(ierr.ErrDatabase)
		}
	}
	return nil
}

func (r *InvoiceRepository) GetInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}
	tenantID := types.GetTenantID(ctx)

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = $1 AND id = $2`

	var inv invoice.Invoice
	err := r.db.GetQuerier(ctx).GetContext(ctx, &inv, query, tenantID, id)
	if err == sql.ErrNoRows {
		return nil, ierr.NewError("invoice not found").
			WithHintf("No invoice with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read invoice").
			Mark(ierr.ErrDatabase)
	}

	items, err := r.getLineItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.LineItems = items
	return &inv, nil
}

func (r *InvoiceRepository) getLineItems(ctx context.Context, invoiceID string) ([]*invoice.LineItem, error) {
	query := `
		SELECT id, invoice_id, metric_name, quantity, included_quantity, billable_quantity,
			unit_price, amount, limit_exceeded,
			pricing_rule_id, pricing_rule_version, bucket_keys,
			tenant_id, status, created_at, updated_at, created_by, updated_by
		FROM invoice_line_items
		WHERE tenant_id = $1 AND invoice_id = $2
		ORDER BY metric_name
	`

	rows, err := r.db.GetQuerier(ctx).QueryContext(ctx, query, types.GetTenantID(ctx), invoiceID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read invoice line items").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var items []*invoice.LineItem
	for rows.Next() {
		var li invoice.LineItem
		err := rows.Scan(
			&li.ID, &li.InvoiceID, &li.MetricName, &li.Quantity, &li.IncludedQuantity, &li.BillableQuantity,
			&li.UnitPrice, &li.Amount, &li.LimitExceeded,
			&li.PricingRuleID, &li.PricingRuleVersion, pq.Array(&li.BucketKeys),
			&li.TenantID, &li.Status, &li.CreatedAt, &li.UpdatedAt, &li.CreatedBy, &li.UpdatedBy,
		)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan invoice line item").
				Mark(ierr.ErrDatabase)
		}
		items = append(items, &li)
	}
	return items, nil
}

func (r *InvoiceRepository) GetDraftForPeriod(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*invoice.Invoice, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + invoiceColumns + ` FROM invoices
		WHERE tenant_id = $1 AND subscription_id = $2 AND invoice_status = $3
			AND period_start = $4 AND period_end = $5
		LIMIT 1
	`

	var inv invoice.Invoice
	err := r.db.GetQuerier(ctx).GetContext(ctx, &inv, query,
		types.GetTenantID(ctx), subscriptionID, types.InvoiceStatusDraft,
		periodStart.UTC(), periodEnd.UTC())
	if err == sql.ErrNoRows {
		return nil, ierr.NewError("draft invoice not found").
			WithHint("No draft invoice exists for this period").
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read draft invoice").
			Mark(ierr.ErrDatabase)
	}

	items, err := r.getLineItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.LineItems = items
	return &inv, nil
}

// ReplaceDraft swaps the draft's line items for a recomputed set. Finalized
// invoices are immutable and rejected here.
func (r *InvoiceRepository) ReplaceDraft(ctx context.Context, inv *invoice.Invoice) error {
	if err := requireScope(ctx); err != nil {
		return err
	}
	if inv.IsFinalized() {
		return ierr.NewError("invoice is finalized").
			WithHint("Finalized invoices cannot be recomputed; void and reissue instead").
			Mark(ierr.ErrInvalidOperation)
	}

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.GetQuerier(ctx)

		_, err := q.ExecContext(ctx, `
			DELETE FROM invoice_line_items WHERE tenant_id = $1 AND invoice_id = $2
		`, inv.TenantID, inv.ID)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to clear draft line items").
				Mark(ierr.ErrDatabase)
		}

		res, err := q.ExecContext(ctx, `
			UPDATE invoices SET amount_due = $1, updated_at = $2, updated_by = $3
			WHERE tenant_id = $4 AND id = $5 AND invoice_status = $6
		`, inv.AmountDue, time.Now().UTC(), types.GetActorID(ctx),
			inv.TenantID, inv.ID, types.InvoiceStatusDraft)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to update draft invoice").
				Mark(ierr.ErrDatabase)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ierr.NewError("draft invoice not found").
				WithHintf("No draft invoice with id %s", inv.ID).
				Mark(ierr.ErrNotFound)
		}

		return r.insertLineItems(ctx, inv)
	})
}

func (r *InvoiceRepository) UpdateInvoiceStatus(ctx context.Context, id string, from, to string) error {
	if err := requireScope(ctx); err != nil {
		return err
	}

	query := `
		UPDATE invoices SET invoice_status = $1, updated_at = $2, updated_by = $3
		WHERE tenant_id = $4 AND id = $5 AND invoice_status = $6
	`
	res, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		to, time.Now().UTC(), types.GetActorID(ctx),
		types.GetTenantID(ctx), id, from)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update invoice status").
			Mark(ierr.ErrDatabase)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ierr.NewError("invoice status transition rejected").
			WithHintf("Invoice %s is not in status %s", id, from).
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}

func (r *InvoiceRepository) ListInvoices(ctx context.Context, limit int) ([]*invoice.Invoice, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + invoiceColumns + ` FROM invoices
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var invoices []*invoice.Invoice
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &invoices, query, types.GetTenantID(ctx), limit)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoices").
			Mark(ierr.ErrDatabase)
	}
	return invoices, nil
}
