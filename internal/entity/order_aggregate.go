package entity

import (
	"fmt"
	"time"
)

// TimelineEntry is one step of an order's status history as shown to users.
type TimelineEntry struct {
	Version       int           `json:"version"`
	Event         string        `json:"event"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	Note          string        `json:"note,omitempty"`
	At            time.Time     `json:"at"`
}

// OrderTimeline rebuilds an order's status history by replaying its events.
type OrderTimeline struct {
	AggregateBase
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	RefundStatus  RefundStatus    `json:"refundStatus,omitempty"`
	Entries       []TimelineEntry `json:"entries"`
}

// NewOrderTimeline creates an empty timeline for the given order.
func NewOrderTimeline(orderID string) *OrderTimeline {
	return &OrderTimeline{
		AggregateBase: AggregateBase{ID: orderID},
		Entries:       []TimelineEntry{},
	}
}

// ApplyEvent mutates the timeline state based on the event.
func (t *OrderTimeline) ApplyEvent(e Event) error {
	var (
		note string
		at   time.Time
	)
	switch e := e.(type) {
	case OrderPlacedEvent:
		t.Status = OrderPending
		t.PaymentStatus = PaymentPending
		note = fmt.Sprintf("order %s placed", e.OrderNumber)
		at = e.PlacedAt
	case PaymentCompletedEvent:
		t.Status = OrderProcessing
		t.PaymentStatus = PaymentCompleted
		note = "payment received via " + e.Source
		at = e.CompletedAt
	case PaymentFailedEvent:
		t.PaymentStatus = PaymentFailed
		note = e.Reason
		at = e.FailedAt
	case OrderStatusChangedEvent:
		t.Status = e.To
		if e.TrackingNumber != "" {
			note = "tracking " + e.TrackingNumber
		}
		at = e.ChangedAt
	case OrderCancelledEvent:
		t.Status = OrderCancelled
		note = e.Reason
		at = e.CancelledAt
	case RefundRequestedEvent:
		t.RefundStatus = RefundPending
		note = e.Reason
		at = e.RequestedAt
	case RefundApprovedEvent:
		t.RefundStatus = RefundApproved
		t.Status = OrderCancelled
		t.PaymentStatus = PaymentRefunded
		note = e.Notes
		at = e.ProcessedAt
	case RefundRejectedEvent:
		t.RefundStatus = RefundRejected
		note = e.Notes
		at = e.ProcessedAt
	case RefundCompletedEvent:
		t.RefundStatus = RefundCompleted
		at = e.CompletedAt
	default:
		return fmt.Errorf("unknown event type for OrderTimeline: %s", e.EventType())
	}

	t.Version++
	t.Entries = append(t.Entries, TimelineEntry{
		Version:       t.Version,
		Event:         e.EventType(),
		Status:        t.Status,
		PaymentStatus: t.PaymentStatus,
		Note:          note,
		At:            at,
	})
	return nil
}

// Rehydrate rebuilds the timeline from a list of records.
func (t *OrderTimeline) Rehydrate(records []EventStoreRecord) error {
	for _, rec := range records {
		e, err := DecodeEvent(rec)
		if err != nil {
			return err
		}
		if err := t.ApplyEvent(e); err != nil {
			return fmt.Errorf("failed to apply event from stream: %w", err)
		}
	}
	return nil
}
