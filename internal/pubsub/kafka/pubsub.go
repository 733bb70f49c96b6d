package kafka

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	wkafka "github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/pubsub"
)

// PubSub implements both Publisher and Subscriber interfaces over kafka
type PubSub struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *logger.Logger
}

// NewPubSub creates a new kafka-based pubsub
func NewPubSub(cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	wmLogger := watermill.NewStdLogger(false, false)

	publisher, err := wkafka.NewPublisher(
		wkafka.PublisherConfig{
			Brokers:   cfg.Kafka.Brokers,
			Marshaler: wkafka.DefaultMarshaler{},
		},
		wmLogger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := wkafka.NewSubscriber(
		wkafka.SubscriberConfig{
			Brokers:       cfg.Kafka.Brokers,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
			Unmarshaler:   wkafka.DefaultMarshaler{},
		},
		wmLogger,
	)
	if err != nil {
		return nil, err
	}

	return &PubSub{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     log,
	}, nil
}

// Publish publishes a message
func (p *PubSub) Publish(ctx context.Context, topic string, msg *message.Message) error {
	return p.publisher.Publish(topic, msg)
}

// Subscribe starts consuming messages
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.subscriber.Subscribe(ctx, topic)
}

// Close closes the pubsub
func (p *PubSub) Close() error {
	if err := p.publisher.Close(); err != nil {
		p.logger.Errorw("failed to close kafka publisher", "error", err)
	}
	return p.subscriber.Close()
}
