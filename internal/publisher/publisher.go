package publisher

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/events"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/pubsub"
	"github.com/meterline/meterline/internal/types"
)

// EventPublisher notifies downstream consumers that events have been persisted.
// The aggregation engine subscribes to these notifications to fold new events
// into rollup buckets.
type EventPublisher interface {
	Publish(ctx context.Context, event *events.UsageEvent) error
}

type eventPublisher struct {
	pubsub pubsub.Publisher
	topic  string
	logger *logger.Logger
}

func NewEventPublisher(cfg *config.Configuration, ps pubsub.Publisher, log *logger.Logger) EventPublisher {
	return &eventPublisher{
		pubsub: ps,
		topic:  cfg.Event.Topic,
		logger: log,
	}
}

func (p *eventPublisher) Publish(ctx context.Context, event *events.UsageEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to serialize event for publishing").
			WithReportableDetails(map[string]any{"event_id": event.ID}).
			Mark(ierr.ErrSystem)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("tenant_id", event.TenantID)
	msg.Metadata.Set("metric_name", event.MetricName)
	if requestID := types.GetRequestID(ctx); requestID != "" {
		msg.Metadata.Set("request_id", requestID)
	}

	if err := p.pubsub.Publish(ctx, p.topic, msg); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to publish event notification").
			WithReportableDetails(map[string]any{
				"event_id": event.ID,
				"topic":    p.topic,
			}).
			Mark(ierr.ErrSystem)
	}

	p.logger.Debugw("published event notification",
		"event_id", event.ID,
		"tenant_id", event.TenantID,
		"topic", p.topic,
	)
	return nil
}
