package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/domain/meter"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type MeterRepository struct {
	db     *postgres.DB
	cache  cache.Cache
	logger *logger.Logger
}

func NewMeterRepository(db *postgres.DB, c cache.Cache, logger *logger.Logger) meter.Repository {
	return &MeterRepository{db: db, cache: c, logger: logger}
}

const meterColumns = `id, metric_name, name, unit, tenant_id, status, created_at, updated_at, created_by, updated_by`

func (r *MeterRepository) CreateMeter(ctx context.Context, m *meter.Meter) error {
	if err := requireScope(ctx); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return ierr.WithError(err).
			WithHint("Meter configuration is invalid").
			Mark(ierr.ErrValidation)
	}

	query := `
		INSERT INTO meters (` + meterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	r.cache.Delete(ctx, cache.GenerateKey(cache.PrefixMeter, m.TenantID, m.MetricName))

	_, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		m.ID, m.MetricName, m.Name, m.Unit,
		m.TenantID, m.Status, m.CreatedAt, m.UpdatedAt, m.CreatedBy, m.UpdatedBy)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create meter").
			WithReportableDetails(map[string]any{"metric_name": m.MetricName}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *MeterRepository) GetMeter(ctx context.Context, id string) (*meter.Meter, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + meterColumns + ` FROM meters WHERE tenant_id = $1 AND id = $2`

	var m meter.Meter
	err := r.db.GetQuerier(ctx).GetContext(ctx, &m, query, types.GetTenantID(ctx), id)
	if err == sql.ErrNoRows {
		return nil, ierr.NewError("meter not found").
			WithHintf("No meter with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read meter").
			Mark(ierr.ErrDatabase)
	}
	return &m, nil
}

func (r *MeterRepository) GetMeterByMetricName(ctx context.Context, metricName string) (*meter.Meter, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + meterColumns + ` FROM meters
		WHERE tenant_id = $1 AND metric_name = $2 AND status = $3
	`

	var m meter.Meter
	err := r.db.GetQuerier(ctx).GetContext(ctx, &m, query,
		types.GetTenantID(ctx), metricName, types.StatusPublished)
	if err == sql.ErrNoRows {
		return nil, ierr.NewError("unknown metric").
			WithHintf("No published meter registered for metric %s", metricName).
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read meter").
			Mark(ierr.ErrDatabase)
	}
	return &m, nil
}

func (r *MeterRepository) ListMeters(ctx context.Context) ([]*meter.Meter, error) {
	if err := requireScope(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + meterColumns + ` FROM meters
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at DESC
	`

	var meters []*meter.Meter
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &meters, query,
		types.GetTenantID(ctx), types.StatusPublished)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list meters").
			Mark(ierr.ErrDatabase)
	}
	return meters, nil
}

func (r *MeterRepository) DisableMeter(ctx context.Context, id string) error {
	if err := requireScope(ctx); err != nil {
		return err
	}
	tenantID := types.GetTenantID(ctx)

	m, err := r.GetMeter(ctx, id)
	if err != nil {
		return err
	}

	r.cache.Delete(ctx, cache.GenerateKey(cache.PrefixMeter, tenantID, m.MetricName))

	query := `
		UPDATE meters SET status = $1, updated_at = $2, updated_by = $3
		WHERE tenant_id = $4 AND id = $5
	`
	_, err = r.db.GetQuerier(ctx).ExecContext(ctx, query,
		types.StatusArchived, time.Now().UTC(), types.GetActorID(ctx), tenantID, id)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to disable meter").
			Mark(ierr.ErrDatabase)
	}
	return nil
}
