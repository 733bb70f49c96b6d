package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Invoice is the output of a billing run. It is append-only once it leaves
// draft: finalized invoices are never edited, only voided.
type Invoice struct {
	ID string `db:"id" json:"id"`

	// InvoiceNumber is the short human-facing identifier
	InvoiceNumber string `db:"invoice_number" json:"invoice_number"`

	SubscriptionID string `db:"subscription_id" json:"subscription_id"`
	PlanID         string `db:"plan_id" json:"plan_id"`

	InvoiceStatus types.InvoiceStatus `db:"invoice_status" json:"invoice_status"`

	PeriodStart time.Time `db:"period_start" json:"period_start"`
	PeriodEnd   time.Time `db:"period_end" json:"period_end"`

	AmountDue decimal.Decimal `db:"amount_due" json:"amount_due"`

	LineItems []*LineItem `json:"line_items"`

	types.BaseModel
}

// LineItem is one charged metric on an invoice. Its provenance (the buckets
// folded and the rule version applied) is persisted alongside the amount so
// the charge can be reproduced byte for byte in an audit.
type LineItem struct {
	ID        string `db:"id" json:"id"`
	InvoiceID string `db:"invoice_id" json:"invoice_id"`

	MetricName string `db:"metric_name" json:"metric_name"`

	Quantity         decimal.Decimal `db:"quantity" json:"quantity"`
	IncludedQuantity decimal.Decimal `db:"included_quantity" json:"included_quantity"`
	BillableQuantity decimal.Decimal `db:"billable_quantity" json:"billable_quantity"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`

	// LimitExceeded is raised instead of a charge when the rule's overage
	// policy is block and usage passed the included quantity
	LimitExceeded bool `db:"limit_exceeded" json:"limit_exceeded"`

	// Provenance
	PricingRuleID      string   `db:"pricing_rule_id" json:"pricing_rule_id"`
	PricingRuleVersion int      `db:"pricing_rule_version" json:"pricing_rule_version"`
	BucketKeys         []string `db:"bucket_keys" json:"bucket_keys"`

	types.BaseModel
}

// Validate validates the invoice
func (i *Invoice) Validate() error {
	if i.SubscriptionID == "" {
		return ierr.NewError("subscription_id is required").
			WithHint("An invoice must reference a subscription").
			Mark(ierr.ErrValidation)
	}
	if !i.InvoiceStatus.Validate() {
		return ierr.NewError("invalid invoice status").
			WithHintf("Status %s is not recognized", i.InvoiceStatus).
			Mark(ierr.ErrValidation)
	}
	if !i.PeriodEnd.After(i.PeriodStart) {
		return ierr.NewError("period end must be after period start").
			WithHint("The invoice period is empty").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsFinalized reports whether the invoice has left draft
func (i *Invoice) IsFinalized() bool {
	return i.InvoiceStatus != types.InvoiceStatusDraft
}

// NewInvoice creates a draft invoice with defaults
func NewInvoice(subscriptionID, planID, tenantID, createdBy string, periodStart, periodEnd time.Time) *Invoice {
	now := time.Now().UTC()
	return &Invoice{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		InvoiceNumber:  types.GenerateShortIDWithPrefix(types.SHORT_ID_PREFIX_INVOICE),
		SubscriptionID: subscriptionID,
		PlanID:         planID,
		InvoiceStatus:  types.InvoiceStatusDraft,
		PeriodStart:    periodStart.UTC(),
		PeriodEnd:      periodEnd.UTC(),
		AmountDue:      decimal.Zero,
		BaseModel: types.BaseModel{
			TenantID:  tenantID,
			Status:    types.StatusPublished,
			CreatedAt: now,
			UpdatedAt: now,
			CreatedBy: createdBy,
			UpdatedBy: createdBy,
		},
	}
}
