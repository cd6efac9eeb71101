package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

// Dispatcher delivers committed outbox messages. Every message is handled on
// its own: a failure is logged and recorded on the row, never returned.
type Dispatcher struct {
	store     repository.Store
	publisher messaging.Publisher
	lease     time.Duration
	logger    *slog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(store repository.Store, publisher messaging.Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		lease:     time.Minute,
		logger:    logger,
	}
}

// Dispatch delivers msgs one by one.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []entity.OutboxMessage) {
	for _, m := range msgs {
		d.deliver(ctx, m)
	}
}

// deliver reports whether the message was sent.
func (d *Dispatcher) deliver(ctx context.Context, m entity.OutboxMessage) bool {
	now := time.Now().UTC()
	claimed, err := d.store.Outbox().Claim(ctx, m.ID, now, now.Add(d.lease))
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to claim outbox message", "outbox_id", m.ID, "err", err)
		return false
	}
	if !claimed {
		return false
	}

	if err := d.send(ctx, m); err != nil {
		d.logger.ErrorContext(ctx, "Side effect delivery failed",
			"outbox_id", m.ID, "kind", m.Kind, "order_id", m.AggregateID, "err", err)
		if markErr := d.store.Outbox().MarkFailed(ctx, m.ID, err.Error()); markErr != nil {
			d.logger.ErrorContext(ctx, "Failed to record delivery failure", "outbox_id", m.ID, "err", markErr)
		}
		return false
	}

	if err := d.store.Outbox().MarkSent(ctx, m.ID); err != nil {
		d.logger.ErrorContext(ctx, "Failed to mark outbox message sent", "outbox_id", m.ID, "err", err)
	}
	return true
}

func (d *Dispatcher) send(ctx context.Context, m entity.OutboxMessage) error {
	switch m.Kind {
	case entity.OutboxEmail:
		return d.publisher.PublishEvent(ctx, messaging.TopicEmail, m.AggregateID, m.Payload)
	case entity.OutboxEvent:
		return d.publisher.PublishEvent(ctx, m.Topic, m.AggregateID, m.Payload)
	case entity.OutboxNotification:
		var n entity.Notification
		if err := json.Unmarshal(m.Payload, &n); err != nil {
			return fmt.Errorf("failed to decode notification: %w", err)
		}
		n.CreatedAt = time.Now().UTC()
		return d.store.Notifications().Create(ctx, &n)
	}
	return fmt.Errorf("unknown outbox kind %q", m.Kind)
}
