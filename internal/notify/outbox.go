// Package notify delivers the side effects of order transitions: emails,
// in-app notifications and domain events. Intents are recorded in the
// outbox inside the transition's transaction and delivered after commit.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

// Batch collects the side-effect intents of one unit of work.
type Batch struct {
	aggregateID string
	msgs        []entity.OutboxMessage
	err         error
}

// NewBatch starts a batch for the given order.
func NewBatch(orderID string) *Batch {
	return &Batch{aggregateID: orderID}
}

func (b *Batch) add(kind entity.OutboxKind, topic string, v any) {
	if b.err != nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("failed to marshal %s intent: %w", kind, err)
		return
	}
	b.msgs = append(b.msgs, entity.OutboxMessage{
		ID:          uuid.NewString(),
		Kind:        kind,
		Topic:       topic,
		AggregateID: b.aggregateID,
		Payload:     payload,
		Status:      entity.OutboxPending,
		CreatedAt:   time.Now().UTC(),
	})
}

// Email queues an email. Messages without a recipient are dropped.
func (b *Batch) Email(e entity.Email) *Batch {
	if e.To != "" {
		b.add(entity.OutboxEmail, messaging.TopicEmail, e)
	}
	return b
}

// Notify queues an in-app notification.
func (b *Batch) Notify(userID string, typ entity.NotificationType, title, message string) *Batch {
	b.add(entity.OutboxNotification, "", entity.Notification{
		ID:      uuid.NewString(),
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		OrderID: b.aggregateID,
	})
	return b
}

// Event queues a domain event for topic.
func (b *Batch) Event(topic string, e entity.Event) *Batch {
	b.add(entity.OutboxEvent, topic, e)
	return b
}

// Save writes the batch to the outbox. Call it inside the transaction.
func (b *Batch) Save(ctx context.Context, outbox repository.OutboxRepository) error {
	if b.err != nil {
		return b.err
	}
	for i := range b.msgs {
		if err := outbox.Add(ctx, &b.msgs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Messages returns what Save wrote, for dispatch after commit.
func (b *Batch) Messages() []entity.OutboxMessage {
	return b.msgs
}
