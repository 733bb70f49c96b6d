package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/invoice"
	ierr "github.com/meterline/meterline/internal/errors"
)

// BillingRunRequest triggers draft invoice computation for a billing period.
// With no tenant ids given, the run covers every tenant with a billable
// subscription.
type BillingRunRequest struct {
	PeriodStart time.Time `json:"period_start" validate:"required"`
	PeriodEnd   time.Time `json:"period_end" validate:"required"`
	TenantIDs   []string  `json:"tenant_ids,omitempty"`
}

func (r *BillingRunRequest) Validate() error {
	if !r.PeriodEnd.After(r.PeriodStart) {
		return ierr.NewError("period_end must be after period_start").
			WithHint("The billing period is empty").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// TenantBillingResult is the per-tenant outcome of a billing run. Failures are
// isolated: one tenant's error never aborts the others.
type TenantBillingResult struct {
	TenantID  string          `json:"tenant_id"`
	InvoiceID string          `json:"invoice_id,omitempty"`
	AmountDue decimal.Decimal `json:"amount_due"`
	Error     string          `json:"error,omitempty"`
}

// BillingRunResponse summarizes a billing run
type BillingRunResponse struct {
	PeriodStart time.Time             `json:"period_start"`
	PeriodEnd   time.Time             `json:"period_end"`
	Succeeded   int                   `json:"succeeded"`
	Failed      int                   `json:"failed"`
	Results     []TenantBillingResult `json:"results"`
}

type InvoiceResponse struct {
	*invoice.Invoice
}

type ListInvoicesResponse struct {
	Invoices []*invoice.Invoice `json:"invoices"`
}

// UpdateInvoiceStatusRequest moves an invoice through its lifecycle
type UpdateInvoiceStatusRequest struct {
	Status string `json:"status" validate:"required"`
}
