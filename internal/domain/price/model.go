package price

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// PricingRule is a versioned, plan-scoped pricing configuration. Rules are
// immutable once published; a change creates a new version so that past
// invoices remain reproducible.
type PricingRule struct {
	ID string `db:"id" json:"id"`

	PlanID     string `db:"plan_id" json:"plan_id"`
	MetricName string `db:"metric_name" json:"metric_name"`

	// Version increments per (plan_id, metric_name); the highest version whose
	// effective range covers a period wins for that period
	Version int `db:"version" json:"version"`

	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	IncludedQuantity decimal.Decimal `db:"included_quantity" json:"included_quantity"`

	OveragePolicy types.OveragePolicy `db:"overage_policy" json:"overage_policy"`

	EffectiveFrom time.Time  `db:"effective_from" json:"effective_from"`
	EffectiveTo   *time.Time `db:"effective_to" json:"effective_to,omitempty"`

	types.BaseModel
}

// Covers reports whether the rule's effective range covers [start, end)
func (r *PricingRule) Covers(start, end time.Time) bool {
	if r.EffectiveFrom.After(start) {
		return false
	}
	if r.EffectiveTo != nil && r.EffectiveTo.Before(end) {
		return false
	}
	return true
}

// Validate validates the rule configuration
func (r *PricingRule) Validate() error {
	if r.PlanID == "" || r.MetricName == "" {
		return ierr.NewError("plan_id and metric_name are required").
			WithHint("Pricing rules must reference a plan and a metric").
			Mark(ierr.ErrValidation)
	}
	if r.UnitPrice.IsNegative() || r.IncludedQuantity.IsNegative() {
		return ierr.NewError("unit_price and included_quantity must be non-negative").
			WithHint("Negative prices or included quantities are not allowed").
			Mark(ierr.ErrValidation)
	}
	if !r.OveragePolicy.Validate() {
		return ierr.NewError("invalid overage policy").
			WithHintf("Overage policy must be one of %s, %s, %s",
				types.OverageBlock, types.OverageBill, types.OverageThrottle).
			Mark(ierr.ErrValidation)
	}
	if r.EffectiveTo != nil && !r.EffectiveTo.After(r.EffectiveFrom) {
		return ierr.NewError("effective_to must be after effective_from").
			WithHint("The effective range is empty").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// NewPricingRule creates a rule with defaults
func NewPricingRule(planID, metricName string, tenantID, createdBy string) *PricingRule {
	now := time.Now().UTC()
	return &PricingRule{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PRICING_RULE),
		PlanID:        planID,
		MetricName:    metricName,
		Version:       1,
		OveragePolicy: types.OverageBill,
		EffectiveFrom: now,
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
