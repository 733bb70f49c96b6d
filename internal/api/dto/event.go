package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/events"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// IngestEventRequest is one usage event submission. The tenant id is never
// part of the payload; it comes from the caller's credential.
type IngestEventRequest struct {
	EventID        string          `json:"event_id"`
	MetricName     string          `json:"metric_name" validate:"required"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	Source         string          `json:"source"`
	OccurredAt     time.Time       `json:"occurred_at"`
	IdempotencyKey string          `json:"idempotency_key"`
}

func (r *IngestEventRequest) Validate() error {
	if r.MetricName == "" {
		return ierr.NewError("metric_name is required").
			WithHint("Each event must name the metric it counts against").
			Mark(ierr.ErrValidation)
	}
	if r.Quantity.IsNegative() {
		return ierr.NewError("quantity must be non-negative").
			WithHint("Usage quantity cannot be negative; issue a compensating event instead").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ToUsageEvent converts the request to a domain event scoped to the tenant in
// the ambient context
func (r *IngestEventRequest) ToUsageEvent(tenantID string) *events.UsageEvent {
	return events.NewUsageEvent(
		tenantID,
		r.MetricName,
		r.Quantity,
		r.Unit,
		r.OccurredAt,
		r.EventID,
		r.IdempotencyKey,
		r.Source,
	)
}

// IngestAck is the per-event outcome of an ingestion call. Duplicate acks are
// success acks: the event was already persisted by an earlier submission.
type IngestAck struct {
	EventID string                `json:"event_id"`
	Status  types.IngestAckStatus `json:"status"`
	// Reason is set only for rejected events
	Reason string `json:"reason,omitempty"`
}

// IngestEventResponse acknowledges a single-event submission
type IngestEventResponse struct {
	Ack IngestAck `json:"ack"`
}

// BulkIngestEventsRequest submits a batch of events in one call
type BulkIngestEventsRequest struct {
	Events []*IngestEventRequest `json:"events" validate:"required,min=1"`
}

func (r *BulkIngestEventsRequest) Validate(maxBatchSize int) error {
	if len(r.Events) == 0 {
		return ierr.NewError("events batch is empty").
			WithHint("Submit at least one event").
			Mark(ierr.ErrValidation)
	}
	if len(r.Events) > maxBatchSize {
		return ierr.NewError("events batch too large").
			WithHintf("Batch size is capped at %d events", maxBatchSize).
			WithReportableDetails(map[string]any{
				"batch_size": len(r.Events),
				"max":        maxBatchSize,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// BulkIngestEventsResponse acknowledges each event of a batch in order
type BulkIngestEventsResponse struct {
	Acks []IngestAck `json:"acks"`
}

// GetEventsRequest filters raw event reads
type GetEventsRequest struct {
	MetricName string    `json:"metric_name" form:"metric_name"`
	StartTime  time.Time `json:"start_time" form:"start_time" validate:"required"`
	EndTime    time.Time `json:"end_time" form:"end_time" validate:"required"`
	Limit      int       `json:"limit" form:"limit"`
}

func (r *GetEventsRequest) Validate() error {
	if !r.EndTime.After(r.StartTime) {
		return ierr.NewError("end_time must be after start_time").
			WithHint("The requested time range is empty").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// GetEventsResponse returns raw events, newest first
type GetEventsResponse struct {
	Events []*events.UsageEvent `json:"events"`
}
