package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/domain/price"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type PriceRepository struct {
	db     *postgres.DB
	cache  cache.Cache
	logger *logger.Logger
}

func NewPriceRepository(db *postgres.DB, c cache.Cache, logger *logger.Logger) price.Repository {
	return &PriceRepository{db: db, cache: c, logger: logger}
}

const priceColumns = `id, plan_id, metric_name, version, unit_price, included_quantity,
	overage_policy, effective_from, effective_to,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

// CreatePricingRule publishes a new rule version. The version number is
// assigned here, under the insert, so concurrent publishes cannot reuse one.
func (r *PriceRepository) CreatePricingRule(ctx context.Context, rule *price.PricingRule) error {
	if err := requireScope(ctx); err != nil {
		return err
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.TenantID != types.GetTenantID(ctx) {
		return ierr.NewError("pricing rule tenant does not match tenant in scope").
			WithHint("Pricing rules can only be written for the caller's own tenant").
			Mark(ierr.ErrScopeViolation)
	}

	r.cache.DeleteByPrefix(ctx, cache.GenerateKey(cache.PrefixPricingRule, rule.TenantID, rule.PlanID)+":")

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.GetQuerier(ctx)

		var version int
		err := q.GetContext(ctx, &version, `
			SELECT COALESCE(MAX(version), 0) + 1 FROM pricing_rules
			WHERE tenant_id = $1 AND plan_id = $2 AND metric_name = $3
		`, rule.TenantID, rule.PlanID, rule.MetricName)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to assign pricing rule version").
				Mark(ierr.ErrDatabase)
		}
		rule.Version = version

		_, err = q.ExecContext(ctx, `
			INSERT INTO pricing_rules (`+priceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, rule.ID, rule.PlanID, rule.MetricName, rule.Version,
			rule.UnitPrice, rule.IncludedQuantity, rule.OveragePolicy,
			rule.EffectiveFrom.UTC(), nullableTime(rule.EffectiveTo),
			rule.TenantID, rule.Status, rule.CreatedAt, rule.UpdatedAt, rule.CreatedBy, rule.UpdatedBy)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to create pricing rule").
				WithReportableDetails(map[string]any{
					"plan_id":     rule.PlanID,
					"metric_name": rule.MetricName,
				}).
				Mark(ierr.ErrDatabase)
		}
		return nil
	})
}

func (r *PriceRepository) GetPricingRule(ctx context.Context, id string) (*price.PricingRule, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + priceColumns + ` FROM pricing_rules WHERE tenant_id = $1 AND id = $2`

	var rule price.PricingRule
	err := r.db.GetQuerier(ctx).GetContext(ctx, &rule, query, types.GetTenantID(ctx), id)
	if err == sql.ErrNoRows {
		return nil, ierr.NewError("pricing rule not found").
			WithHintf("No pricing rule with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read pricing rule").
			Mark(ierr.ErrDatabase)
	}
	return &rule, nil
}

// ResolveForPeriod returns, per metric, the highest version whose effective
// range covers the whole period. Resolution is by period, never "latest", so
// recomputing an old invoice picks the same rules it was first built from.
func (r *PriceRepository) ResolveForPeriod(ctx context.Context, planID string, periodStart, periodEnd time.Time) ([]*price.PricingRule, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT DISTINCT ON (metric_name) ` + priceColumns + `
		FROM pricing_rules
		WHERE tenant_id = $1 AND plan_id = $2 AND status = $3
			AND effective_from <= $4
			AND (effective_to IS NULL OR effective_to >= $5)
		ORDER BY metric_name, version DESC
	`

	var rules []*price.PricingRule
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &rules, query,
		types.GetTenantID(ctx), planID, types.StatusPublished,
		periodStart.UTC(), periodEnd.UTC())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to resolve pricing rules for period").
			Mark(ierr.ErrDatabase)
	}
	return rules, nil
}

func (r *PriceRepository) ListPricingRules(ctx context.Context, planID string) ([]*price.PricingRule, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + priceColumns + ` FROM pricing_rules
		WHERE tenant_id = $1 AND plan_id = $2
		ORDER BY metric_name, version DESC
	`

	var rules []*price.PricingRule
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &rules, query, types.GetTenantID(ctx), planID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list pricing rules").
			Mark(ierr.ErrDatabase)
	}
	return rules, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
