package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"github.com/meterline/meterline/internal/clickhouse"
	"github.com/meterline/meterline/internal/domain/events"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/types"
)

const insertBatchSize = 100

type EventRepository struct {
	store  *clickhouse.ClickHouseStore
	logger *logger.Logger
}

func NewEventRepository(store *clickhouse.ClickHouseStore, logger *logger.Logger) events.Repository {
	return &EventRepository{store: store, logger: logger}
}

// scopeEvent pins the event to the tenant in scope. An event carrying a
// different tenant id is a scope violation, not a correctable input.
func scopeEvent(ctx context.Context, event *events.UsageEvent) error {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("Operation attempted without an active tenant scope").
			Mark(ierr.ErrScopeViolation)
	}
	tenantID := types.GetTenantID(ctx)
	if event.TenantID == "" {
		event.TenantID = tenantID
	}
	if event.TenantID != tenantID {
		return ierr.NewError("event tenant does not match tenant in scope").
			WithHint("Events can only be written into the caller's own tenant").
			WithReportableDetails(map[string]any{
				"event_id": event.ID,
			}).
			Mark(ierr.ErrScopeViolation)
	}
	return nil
}

func (r *EventRepository) InsertEvent(ctx context.Context, event *events.UsageEvent) error {
	if err := scopeEvent(ctx, event); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO events (
			id, tenant_id, metric_name, quantity, unit, source, occurred_at, recorded_at, idempotency_key
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?
		)
	`

	err := r.store.GetConn().Exec(ctx, query,
		event.ID,
		event.TenantID,
		event.MetricName,
		event.Quantity,
		event.Unit,
		event.Source,
		event.OccurredAt,
		event.RecordedAt,
		event.IdempotencyKey,
	)

	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to insert event").
			WithReportableDetails(map[string]any{
				"event_id":    event.ID,
				"metric_name": event.MetricName,
			}).
			Mark(ierr.ErrDatabase)
	}

	return nil
}

// BulkInsertEvents inserts multiple events in a bulk operation for better performance
func (r *EventRepository) BulkInsertEvents(ctx context.Context, evts []*events.UsageEvent) error {
	if len(evts) == 0 {
		return nil
	}
	if err := types.ValidateTenantContext(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("Operation attempted without an active tenant scope").
			Mark(ierr.ErrScopeViolation)
	}

	for _, batch := range lo.Chunk(evts, insertBatchSize) {
		stmt, err := r.store.GetConn().PrepareBatch(ctx, `
			INSERT INTO events (
				id, tenant_id, metric_name, quantity, unit, source, occurred_at, recorded_at, idempotency_key
			)
		`)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to prepare batch for events").
				Mark(ierr.ErrDatabase)
		}

		for _, event := range batch {
			if err := scopeEvent(ctx, event); err != nil {
				return err
			}
			if err := event.Validate(); err != nil {
				return err
			}

			err = stmt.Append(
				event.ID,
				event.TenantID,
				event.MetricName,
				event.Quantity,
				event.Unit,
				event.Source,
				event.OccurredAt,
				event.RecordedAt,
				event.IdempotencyKey,
			)
			if err != nil {
				return ierr.WithError(err).
					WithHint("Failed to append event to batch").
					WithReportableDetails(map[string]any{
						"event_id": event.ID,
					}).
					Mark(ierr.ErrDatabase)
			}
		}

		if err := stmt.Send(); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to execute batch insert for events").
				WithReportableDetails(map[string]any{
					"event_count": len(batch),
				}).
				Mark(ierr.ErrDatabase)
		}
	}

	return nil
}

// FindExistingIdempotencyKeys returns key -> stored event id for keys already
// recorded under the tenant in scope. Uniqueness of (tenant_id,
// idempotency_key) is enforced here at the storage layer rather than by any
// in-process state, so it survives restarts and multiple ingestion workers.
func (r *EventRepository) FindExistingIdempotencyKeys(ctx context.Context, keys []string) (map[string]string, error) {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Operation attempted without an active tenant scope").
			Mark(ierr.ErrScopeViolation)
	}
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	query := `
		SELECT idempotency_key, any(id) AS id
		FROM events FINAL
		WHERE tenant_id = ? AND idempotency_key IN (?)
		GROUP BY idempotency_key
	`

	rows, err := r.store.GetConn().Query(ctx, query, types.GetTenantID(ctx), keys)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to look up idempotency keys").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	existing := make(map[string]string, len(keys))
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan idempotency key row").
				Mark(ierr.ErrDatabase)
		}
		existing[key] = id
	}

	return existing, nil
}

func (r *EventRepository) GetEvents(ctx context.Context, params *events.GetEventsParams) ([]*events.UsageEvent, error) {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Operation attempted without an active tenant scope").
			Mark(ierr.ErrScopeViolation)
	}

	query := `
		SELECT id, tenant_id, metric_name, quantity, unit, source, occurred_at, recorded_at, idempotency_key
		FROM events
		WHERE tenant_id = ? AND occurred_at >= ? AND occurred_at < ?
	`
	args := []interface{}{types.GetTenantID(ctx), params.StartTime.UTC(), params.EndTime.UTC()}

	if params.MetricName != "" {
		query += " AND metric_name = ?"
		args = append(args, params.MetricName)
	}

	query += " ORDER BY occurred_at DESC, id DESC"

	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", params.Limit)
	}

	var result []*events.UsageEvent
	if err := r.store.GetConn().Select(ctx, &result, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query events").
			Mark(ierr.ErrDatabase)
	}

	return result, nil
}

// bucketExpr maps a granularity onto the matching ClickHouse truncation
func bucketExpr(granularity types.BucketGranularity) string {
	switch granularity {
	case types.GranularityMinute:
		return "toStartOfMinute(occurred_at)"
	case types.GranularityDay:
		return "toStartOfDay(occurred_at)"
	default:
		return "toStartOfHour(occurred_at)"
	}
}

// GetBucketAggregates folds raw events into per-bucket aggregates inside the
// store. The fold is bounded by recorded_at so recomputes against a fixed
// watermark are reproducible.
func (r *EventRepository) GetBucketAggregates(ctx context.Context, params *events.BucketAggregateParams) ([]*events.BucketAggregate, error) {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Operation attempted without an active tenant scope").
			Mark(ierr.ErrScopeViolation)
	}
	tenantID := types.GetTenantID(ctx)
	if params.TenantID != "" && params.TenantID != tenantID {
		return nil, ierr.NewError("aggregate tenant does not match tenant in scope").
			WithHint("Aggregates can only be computed for the caller's own tenant").
			Mark(ierr.ErrScopeViolation)
	}

	query := fmt.Sprintf(`
		SELECT
			%s AS bucket_start,
			sum(quantity) AS sum,
			count() AS count,
			min(quantity) AS min,
			max(quantity) AS max,
			max(recorded_at) AS max_recorded_at
		FROM events FINAL
		WHERE tenant_id = ?
			AND metric_name = ?
			AND occurred_at >= ?
			AND occurred_at < ?
			AND recorded_at <= ?
		GROUP BY bucket_start
		ORDER BY bucket_start
	`, bucketExpr(params.Granularity))

	recordedBefore := params.RecordedBefore
	if recordedBefore.IsZero() {
		recordedBefore = time.Now().UTC()
	}

	var result []*events.BucketAggregate
	err := r.store.GetConn().Select(ctx, &result, query,
		tenantID,
		params.MetricName,
		params.StartTime.UTC(),
		params.EndTime.UTC(),
		recordedBefore.UTC(),
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to aggregate events").
			WithReportableDetails(map[string]any{
				"metric_name": params.MetricName,
				"granularity": params.Granularity,
			}).
			Mark(ierr.ErrDatabase)
	}

	return result, nil
}

// ListPartitions lists the daily partitions of the raw event table, oldest
// first. Retention decisions are made per partition so a drop is a cheap
// metadata operation instead of a row-by-row delete.
func (r *EventRepository) ListPartitions(ctx context.Context) ([]events.Partition, error) {
	query := `
		SELECT
			partition,
			min(min_time) AS min_time,
			max(max_time) AS max_time,
			sum(rows) AS rows,
			sum(bytes_on_disk) AS bytes,
			any(database) AS database
		FROM system.parts
		WHERE database = currentDatabase() AND table = 'events' AND active
		GROUP BY partition
		ORDER BY partition
	`

	var result []events.Partition
	if err := r.store.GetConn().Select(ctx, &result, query); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list event partitions").
			Mark(ierr.ErrDatabase)
	}

	return result, nil
}

// ExportPartition copies a partition's rows into a JSONL file under dir
// before the partition is dropped. The write goes to a temp file first and is
// renamed into place, so a cancelled run never leaves a half-written archive
// behind as the real one.
func (r *EventRepository) ExportPartition(ctx context.Context, partition string, dir string) (int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to create archive directory").
			Mark(ierr.ErrSystem)
	}

	query := `
		SELECT id, tenant_id, metric_name, quantity, unit, source, occurred_at, recorded_at, idempotency_key
		FROM events
		WHERE toYYYYMMDD(occurred_at) = ?
		ORDER BY tenant_id, occurred_at
	`

	var rows []*events.UsageEvent
	if err := r.store.GetConn().Select(ctx, &rows, query, partition); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to read partition for archival").
			WithReportableDetails(map[string]any{"partition": partition}).
			Mark(ierr.ErrDatabase)
	}

	tmpPath := filepath.Join(dir, "events_"+partition+".jsonl.tmp")
	finalPath := filepath.Join(dir, "events_"+partition+".jsonl")

	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to create archive file").
			Mark(ierr.ErrSystem)
	}

	enc := json.NewEncoder(f)
	var written int64
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return 0, err
		}
		if err := enc.Encode(row); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return 0, ierr.WithError(err).
				WithHint("Failed to write archive row").
				Mark(ierr.ErrSystem)
		}
		written++
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, ierr.WithError(err).
			WithHint("Failed to finalize archive file").
			Mark(ierr.ErrSystem)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to move archive file into place").
			Mark(ierr.ErrSystem)
	}

	r.logger.Infow("archived event partition", "partition", partition, "rows", written, "path", finalPath)
	return written, nil
}

// DropPartition drops one raw-event partition
func (r *EventRepository) DropPartition(ctx context.Context, partition string) error {
	query := fmt.Sprintf("ALTER TABLE events DROP PARTITION '%s'", partition)
	if err := r.store.GetConn().Exec(ctx, query); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to drop event partition").
			WithReportableDetails(map[string]any{"partition": partition}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}
