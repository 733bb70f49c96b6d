package auditlog

import (
	"time"

	"github.com/meterline/meterline/internal/types"
)

// Entry records a denied cross-tenant access attempt. The table is
// append-only; entries are never updated or deleted.
type Entry struct {
	ID string `db:"id" json:"id"`

	// TenantID is the tenant whose data was targeted
	TenantID string `db:"tenant_id" json:"tenant_id"`

	// Actor is the caller identity that made the attempt
	Actor string `db:"actor" json:"actor"`

	// Resource names what was targeted, ex "rollup:api_calls"
	Resource string `db:"resource" json:"resource"`

	// Action is the attempted operation, ex "read", "write"
	Action string `db:"action" json:"action"`

	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

// NewEntry creates an audit entry with defaults
func NewEntry(tenantID, actor, resource, action string) *Entry {
	return &Entry{
		ID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_AUDIT_LOG),
		TenantID:   tenantID,
		Actor:      actor,
		Resource:   resource,
		Action:     action,
		OccurredAt: time.Now().UTC(),
	}
}
