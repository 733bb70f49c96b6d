package subscription

import (
	"time"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// Subscription binds a tenant to a plan for a billing period. It decides
// which pricing rule versions apply to which invoice.
type Subscription struct {
	ID string `db:"id" json:"id"`

	PlanID string `db:"plan_id" json:"plan_id"`

	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	CurrentPeriodStart time.Time `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd   time.Time `db:"current_period_end" json:"current_period_end"`

	types.BaseModel
}

// Validate validates the subscription
func (s *Subscription) Validate() error {
	if s.PlanID == "" {
		return ierr.NewError("plan_id is required").
			WithHint("A subscription must reference a plan").
			Mark(ierr.ErrValidation)
	}
	if !s.SubscriptionStatus.Validate() {
		return ierr.NewError("invalid subscription status").
			WithHintf("Status %s is not recognized", s.SubscriptionStatus).
			Mark(ierr.ErrValidation)
	}
	if !s.CurrentPeriodEnd.After(s.CurrentPeriodStart) {
		return ierr.NewError("current period end must be after start").
			WithHint("The billing period is empty").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// NewSubscription creates a subscription with defaults
func NewSubscription(planID, tenantID, createdBy string, periodStart, periodEnd time.Time) *Subscription {
	now := time.Now().UTC()
	return &Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		PlanID:             planID,
		SubscriptionStatus: types.SubscriptionStatusActive,
		CurrentPeriodStart: periodStart.UTC(),
		CurrentPeriodEnd:   periodEnd.UTC(),
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
