package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// Topics published by the storefront.
const (
	TopicOrdersPlaced      = "orders.placed"
	TopicOrdersStatus      = "orders.status"
	TopicOrdersCancelled   = "orders.cancelled"
	TopicPaymentsCompleted = "payments.completed"
	TopicPaymentsFailed    = "payments.failed"
	TopicRefundsRequested  = "refunds.requested"
	TopicRefundsProcessed  = "refunds.processed"
	TopicRefundsCompleted  = "refunds.completed"
	TopicEmail             = "notifications.email"
)

// Metadata keys set on every published message.
const (
	MetadataKey       = "partition_key"
	MetadataEventType = "event_type"
)

// Publisher defines an interface for publishing events to a message broker.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key string, event any) error
}

// Subscriber defines an interface for subscribing to a message topic.
// Consume blocks until ctx is cancelled.
type Subscriber interface {
	Consume(ctx context.Context, topic string, handler func(ctx context.Context, payload []byte) error) error
}

// Broker adapts a watermill publisher/subscriber pair to Publisher and Subscriber.
type Broker struct {
	pub message.Publisher
	sub message.Subscriber
}

// NewBroker wraps a watermill publisher and subscriber. sub may be nil for
// publish-only processes.
func NewBroker(pub message.Publisher, sub message.Subscriber) *Broker {
	return &Broker{pub: pub, sub: sub}
}

// NewInMemoryBroker creates a Broker on watermill's gochannel pub/sub.
// Messages are dropped when nobody subscribes to their topic.
func NewInMemoryBroker(logger *slog.Logger) *Broker {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NewSlogLogger(logger))
	return NewBroker(pubSub, pubSub)
}

func (b *Broker) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	var payload []byte
	switch v := event.(type) {
	case []byte:
		payload = v
	case json.RawMessage:
		payload = v
	default:
		var err error
		if payload, err = json.Marshal(event); err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataKey, key)
	if e, ok := event.(interface{ EventType() string }); ok {
		msg.Metadata.Set(MetadataEventType, e.EventType())
	}

	if err := b.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *Broker) Consume(ctx context.Context, topic string, handler func(ctx context.Context, payload []byte) error) error {
	if b.sub == nil {
		return fmt.Errorf("broker has no subscriber")
	}
	messages, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Consumer shutting down", "topic", topic)
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := handler(ctx, msg.Payload); err != nil {
				slog.ErrorContext(ctx, "Error handling message", "topic", topic, "message_id", msg.UUID, "err", err)
			}
			msg.Ack()
		}
	}
}

// Close closes the underlying publisher and subscriber.
func (b *Broker) Close() error {
	if err := b.pub.Close(); err != nil {
		return err
	}
	if b.sub == nil {
		return nil
	}
	// gochannel is both sides of the same pub/sub
	if same, ok := b.pub.(message.Subscriber); ok && same == b.sub {
		return nil
	}
	return b.sub.Close()
}
