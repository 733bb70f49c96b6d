package price

import (
	"context"
	"time"
)

type Repository interface {
	// CreatePricingRule publishes a new rule version
	CreatePricingRule(ctx context.Context, rule *PricingRule) error

	// GetPricingRule returns a rule by id
	GetPricingRule(ctx context.Context, id string) (*PricingRule, error)

	// ResolveForPeriod returns, per metric, the highest rule version whose
	// effective range covers [periodStart, periodEnd) for the plan. This is
	// never the "current" version so past invoices stay reproducible.
	ResolveForPeriod(ctx context.Context, planID string, periodStart, periodEnd time.Time) ([]*PricingRule, error)

	// ListPricingRules returns all versions for a plan, newest first
	ListPricingRules(ctx context.Context, planID string) ([]*PricingRule, error)
}
