package subscription

import "context"

type Repository interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	// GetActiveSubscription returns the tenant's billable subscription
	GetActiveSubscription(ctx context.Context) (*Subscription, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	// ListTenantIDsWithActiveSubscriptions lists tenants eligible for a
	// billing run. This is one of the few deliberately cross-tenant reads and
	// returns ids only.
	ListTenantIDsWithActiveSubscriptions(ctx context.Context) ([]string, error)
}
