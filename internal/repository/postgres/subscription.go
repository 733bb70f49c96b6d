package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/domain/subscription"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type SubscriptionRepository struct {
	db     *postgres.DB
	cache  cache.Cache
	logger *logger.Logger
}

func NewSubscriptionRepository(db *postgres.DB, c cache.Cache, logger *logger.Logger) subscription.Repository {
	return &SubscriptionRepository{db: db, cache: c, logger: logger}
}

const subscriptionColumns = `id, plan_id, subscription_status, current_period_start, current_period_end,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

func (r *SubscriptionRepository) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if err := requireScope(ctx); err != nil {
		return err
	}
	if err := sub.Validate(); err != nil {
		return err
	}
	if sub.TenantID != types.GetTenantID(ctx) {
		return ierr.NewError("subscription tenant does not match tenant in scope").
			WithHint("Subscriptions can only be written for the caller's own tenant").
			Mark(ierr.ErrScopeViolation)
	}

	r.cache.Delete(ctx, cache.GenerateKey(cache.PrefixSubscription, sub.TenantID, "active"))

	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		sub.ID, sub.PlanID, sub.SubscriptionStatus,
		sub.CurrentPeriodStart.UTC(), sub.CurrentPeriodEnd.UTC(),
		sub.TenantID, sub.Status, sub.CreatedAt, sub.UpdatedAt, sub.CreatedBy, sub.UpdatedBy)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *SubscriptionRepository) GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE tenant_id = $1 AND id = $2`

	var sub subscription.Subscription
	err := r.db.GetQuerier(ctx).GetContext(ctx, &sub, query, types.GetTenantID(ctx), id)
	if err == sql.ErrNoRows {
		return nil, ierr.NewError("subscription not found").
			WithHintf("No subscription with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read subscription").
			Mark(ierr.ErrDatabase)
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetActiveSubscription(ctx context.Context) (*subscription.Subscription, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE tenant_id = $1 AND status = $2
			AND subscription_status IN ($3, $4, $5)
		ORDER BY created_at DESC
		LIMIT 1
	`

	var sub subscription.Subscription
	err := r.db.GetQuerier(ctx).GetContext(ctx, &sub, query,
		types.GetTenantID(ctx), types.StatusPublished,
		types.SubscriptionStatusTrialing, types.SubscriptionStatusActive, types.SubscriptionStatusPastDue)
	if err == sql.ErrNoRows {
		return nil, ierr.NewError("no active subscription").
			WithHint("The tenant has no active subscription").
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read active subscription").
			Mark(ierr.ErrDatabase)
	}
	return &sub, nil
}

func (r *SubscriptionRepository) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if err := requireScope(ctx); err != nil {
		return err
	}
	if err := sub.Validate(); err != nil {
		return err
	}
	if sub.TenantID != types.GetTenantID(ctx) {
		return ierr.NewError("subscription tenant does not match tenant in scope").
			WithHint("Subscriptions can only be written for the caller's own tenant").
			Mark(ierr.ErrScopeViolation)
	}

	r.cache.Delete(ctx, cache.GenerateKey(cache.PrefixSubscription, sub.TenantID, "active"))

	query := `
		UPDATE subscriptions SET
			plan_id = $1,
			subscription_status = $2,
			current_period_start = $3,
			current_period_end = $4,
			updated_at = $5,
			updated_by = $6
		WHERE tenant_id = $7 AND id = $8
	`
	res, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		sub.PlanID, sub.SubscriptionStatus,
		sub.CurrentPeriodStart.UTC(), sub.CurrentPeriodEnd.UTC(),
		time.Now().UTC(), types.GetActorID(ctx),
		sub.TenantID, sub.ID)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ierr.NewError("subscription not found").
			WithHintf("No subscription with id %s", sub.ID).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

// ListTenantIDsWithActiveSubscriptions is one of the few deliberately
// cross-tenant reads; the billing run iterates it and re-enters tenant scope
// per id.
func (r *SubscriptionRepository) ListTenantIDsWithActiveSubscriptions(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT tenant_id FROM subscriptions
		WHERE status = $1 AND subscription_status IN ($2, $3)
		ORDER BY tenant_id
	`

	var tenantIDs []string
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &tenantIDs, query,
		types.StatusPublished, types.SubscriptionStatusActive, types.SubscriptionStatusPastDue)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list tenants with active subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return tenantIDs, nil
}
