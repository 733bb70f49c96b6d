package auditlog

import "context"

type Repository interface {
	// Record appends an entry. Implementations must not require tenant scope:
	// scope violations are exactly the case being recorded.
	Record(ctx context.Context, entry *Entry) error

	// ListByTenant returns entries targeting the given tenant, newest first
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Entry, error)
}
