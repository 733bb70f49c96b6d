package dto

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/domain/subscription"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

type CreateSubscriptionRequest struct {
	PlanID             string                   `json:"plan_id" validate:"required"`
	SubscriptionStatus types.SubscriptionStatus `json:"subscription_status"`
	CurrentPeriodStart time.Time                `json:"current_period_start" validate:"required"`
	CurrentPeriodEnd   time.Time                `json:"current_period_end" validate:"required"`
}

func (r *CreateSubscriptionRequest) Validate() error {
	if !r.CurrentPeriodEnd.After(r.CurrentPeriodStart) {
		return ierr.NewError("current_period_end must be after current_period_start").
			WithHint("The subscription period is empty").
			Mark(ierr.ErrValidation)
	}
	if r.SubscriptionStatus != "" && !r.SubscriptionStatus.Validate() {
		return ierr.NewError("invalid subscription status").
			WithHintf("Status %s is not recognized", r.SubscriptionStatus).
			Mark(ierr.ErrValidation)
	}
	return nil
}

func (r *CreateSubscriptionRequest) ToSubscription(ctx context.Context) *subscription.Subscription {
	sub := subscription.NewSubscription(
		r.PlanID,
		types.GetTenantID(ctx),
		types.GetActorID(ctx),
		r.CurrentPeriodStart,
		r.CurrentPeriodEnd,
	)
	if r.SubscriptionStatus != "" {
		sub.SubscriptionStatus = r.SubscriptionStatus
	}
	return sub
}

type SubscriptionResponse struct {
	*subscription.Subscription
}
