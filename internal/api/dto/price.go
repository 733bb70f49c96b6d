package dto

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/price"
	"github.com/meterline/meterline/internal/types"
)

type CreatePricingRuleRequest struct {
	PlanID           string              `json:"plan_id" validate:"required"`
	MetricName       string              `json:"metric_name" validate:"required"`
	UnitPrice        decimal.Decimal     `json:"unit_price"`
	IncludedQuantity decimal.Decimal     `json:"included_quantity"`
	OveragePolicy    types.OveragePolicy `json:"overage_policy" validate:"required"`
	EffectiveFrom    time.Time           `json:"effective_from"`
	EffectiveTo      *time.Time          `json:"effective_to,omitempty"`
}

func (r *CreatePricingRuleRequest) ToPricingRule(ctx context.Context) *price.PricingRule {
	rule := price.NewPricingRule(r.PlanID, r.MetricName, types.GetTenantID(ctx), types.GetActorID(ctx))
	rule.UnitPrice = r.UnitPrice
	rule.IncludedQuantity = r.IncludedQuantity
	rule.OveragePolicy = r.OveragePolicy
	if !r.EffectiveFrom.IsZero() {
		rule.EffectiveFrom = r.EffectiveFrom.UTC()
	}
	if r.EffectiveTo != nil {
		to := r.EffectiveTo.UTC()
		rule.EffectiveTo = &to
	}
	return rule
}

type PricingRuleResponse struct {
	*price.PricingRule
}

type ListPricingRulesResponse struct {
	PricingRules []*price.PricingRule `json:"pricing_rules"`
}
