package events

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
	"github.com/meterline/meterline/internal/validator"
)

// UsageEvent is an immutable usage fact. Once persisted it is never mutated;
// corrections are issued as compensating events.
type UsageEvent struct {
	// Unique identifier for the event
	ID string `json:"id" ch:"id" validate:"required"`

	// Tenant identifier, always derived from the caller credential
	TenantID string `json:"tenant_id" ch:"tenant_id" validate:"required"`

	// MetricName identifies which meter this event counts against
	MetricName string `json:"metric_name" ch:"metric_name" validate:"required"`

	// Quantity is the non-negative amount of usage
	Quantity decimal.Decimal `json:"quantity" ch:"quantity"`

	// Unit is the unit the quantity is expressed in, ex "requests", "gb_hours"
	Unit string `json:"unit" ch:"unit"`

	// Source of the event, ex "sdk", "gateway"
	Source string `json:"source" ch:"source"`

	// OccurredAt is the event time as reported by the producer
	OccurredAt time.Time `json:"occurred_at" ch:"occurred_at,timezone('UTC')" validate:"required"`

	// RecordedAt is the ingestion time, set server side
	RecordedAt time.Time `json:"recorded_at" ch:"recorded_at,timezone('UTC')"`

	// IdempotencyKey makes retried submissions safe under at-least-once
	// delivery. Uniqueness is per tenant and enforced by the storage layer.
	IdempotencyKey string `json:"idempotency_key,omitempty" ch:"idempotency_key"`
}

// NewUsageEvent creates a new event with defaults
func NewUsageEvent(
	tenantID, metricName string,
	quantity decimal.Decimal,
	unit string,
	occurredAt time.Time,
	eventID, idempotencyKey, source string,
) *UsageEvent {
	if eventID == "" {
		eventID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_EVENT)
	}

	now := time.Now().UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	} else {
		occurredAt = occurredAt.UTC()
	}

	return &UsageEvent{
		ID:             eventID,
		TenantID:       tenantID,
		MetricName:     metricName,
		Quantity:       quantity,
		Unit:           unit,
		Source:         source,
		OccurredAt:     occurredAt,
		RecordedAt:     now,
		IdempotencyKey: idempotencyKey,
	}
}

// Validate validates the event
func (e *UsageEvent) Validate() error {
	if e.Quantity.IsNegative() {
		return ierr.NewError("quantity must be non-negative").
			WithHint("Usage quantity cannot be negative; issue a compensating event instead").
			WithReportableDetails(map[string]any{
				"event_id": e.ID,
				"quantity": e.Quantity.String(),
			}).
			Mark(ierr.ErrValidation)
	}

	return validator.ValidateRequest(e)
}
