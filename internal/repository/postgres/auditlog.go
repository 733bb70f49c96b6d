package postgres

import (
	"context"

	"github.com/meterline/meterline/internal/domain/auditlog"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
)

type AuditLogRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewAuditLogRepository(db *postgres.DB, logger *logger.Logger) auditlog.Repository {
	return &AuditLogRepository{db: db, logger: logger}
}

// Record appends an entry. No tenant scope is required here: the entries
// being recorded are exactly the calls that failed the scope check.
func (r *AuditLogRepository) Record(ctx context.Context, entry *auditlog.Entry) error {
	query := `
		INSERT INTO scope_audit_log (id, tenant_id, actor, resource, action, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		entry.ID, entry.TenantID, entry.Actor, entry.Resource, entry.Action, entry.OccurredAt.UTC())
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to record audit entry").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *AuditLogRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*auditlog.Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, actor, resource, action, occurred_at
		FROM scope_audit_log
		WHERE tenant_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	var entries []*auditlog.Entry
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &entries, query, tenantID, limit)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list audit entries").
			Mark(ierr.ErrDatabase)
	}
	return entries, nil
}
