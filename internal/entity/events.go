package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Stream type recorded for every order history entry.
const StreamOrder = "order"

// OrderPlacedEvent is recorded when a PENDING order is created.
type OrderPlacedEvent struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	UserID      string          `json:"userId"`
	Items       []OrderItem     `json:"items"`
	Total       decimal.Decimal `json:"total"`
	PlacedAt    time.Time       `json:"placedAt"`
}

func (e OrderPlacedEvent) EventType() string { return "OrderPlaced" }

// PaymentCompletedEvent is recorded by the completion transition, whichever path
// (client confirmation or webhook) got there first.
type PaymentCompletedEvent struct {
	OrderID          string          `json:"orderId"`
	OrderNumber      string          `json:"orderNumber"`
	UserID           string          `json:"userId"`
	GatewayOrderID   string          `json:"gatewayOrderId"`
	GatewayPaymentID string          `json:"gatewayPaymentId"`
	Amount           decimal.Decimal `json:"amount"`
	Source           string          `json:"source"`
	CompletedAt      time.Time       `json:"completedAt"`
}

func (e PaymentCompletedEvent) EventType() string { return "PaymentCompleted" }

// PaymentFailedEvent is recorded when the gateway reports a failed payment.
type PaymentFailedEvent struct {
	OrderID        string    `json:"orderId"`
	UserID         string    `json:"userId"`
	GatewayOrderID string    `json:"gatewayOrderId"`
	Reason         string    `json:"reason,omitempty"`
	FailedAt       time.Time `json:"failedAt"`
}

func (e PaymentFailedEvent) EventType() string { return "PaymentFailed" }

// OrderStatusChangedEvent is recorded on every admin fulfilment step.
type OrderStatusChangedEvent struct {
	OrderID        string      `json:"orderId"`
	UserID         string      `json:"userId"`
	From           OrderStatus `json:"from"`
	To             OrderStatus `json:"to"`
	TrackingNumber string      `json:"trackingNumber,omitempty"`
	Actor          Actor       `json:"actor"`
	ChangedAt      time.Time   `json:"changedAt"`
}

func (e OrderStatusChangedEvent) EventType() string { return "OrderStatusChanged" }

// OrderCancelledEvent is recorded when a customer or admin cancels an order.
type OrderCancelledEvent struct {
	OrderID     string      `json:"orderId"`
	UserID      string      `json:"userId"`
	From        OrderStatus `json:"from"`
	Reason      string      `json:"reason,omitempty"`
	Actor       Actor       `json:"actor"`
	CancelledAt time.Time   `json:"cancelledAt"`
}

func (e OrderCancelledEvent) EventType() string { return "OrderCancelled" }

// RefundRequestedEvent is recorded when a customer or admin opens a refund.
// UserID is the order owner; RequestedBy is whoever asked.
type RefundRequestedEvent struct {
	RefundID    string          `json:"refundId"`
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
	RequestedBy string          `json:"requestedBy"`
	Actor       Actor           `json:"actor"`
	RequestedAt time.Time       `json:"requestedAt"`
}

func (e RefundRequestedEvent) EventType() string { return "RefundRequested" }

// RefundApprovedEvent moves the order to REFUNDED/CANCELLED.
type RefundApprovedEvent struct {
	RefundID    string    `json:"refundId"`
	OrderID     string    `json:"orderId"`
	UserID      string    `json:"userId"`
	ProcessedBy string    `json:"processedBy"`
	Notes       string    `json:"notes,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
}

func (e RefundApprovedEvent) EventType() string { return "RefundApproved" }

// RefundRejectedEvent leaves the order untouched.
type RefundRejectedEvent struct {
	RefundID    string    `json:"refundId"`
	OrderID     string    `json:"orderId"`
	UserID      string    `json:"userId"`
	ProcessedBy string    `json:"processedBy"`
	Notes       string    `json:"notes,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
}

func (e RefundRejectedEvent) EventType() string { return "RefundRejected" }

// RefundCompletedEvent is recorded once the money has been returned.
type RefundCompletedEvent struct {
	RefundID    string    `json:"refundId"`
	OrderID     string    `json:"orderId"`
	UserID      string    `json:"userId"`
	CompletedAt time.Time `json:"completedAt"`
}

func (e RefundCompletedEvent) EventType() string { return "RefundCompleted" }

// DecodeEvent turns a stored record back into its typed event.
func DecodeEvent(rec EventStoreRecord) (Event, error) {
	var (
		e   Event
		err error
	)
	switch rec.EventType {
	case "OrderPlaced":
		var v OrderPlacedEvent
		err = json.Unmarshal(rec.Payload, &v)
		e = v
	case "PaymentCompleted":
		var v PaymentCompletedEvent
		err = json.Unmarshal(rec.Payload, &v)
		e = v
	case "PaymentFailed":
		var v PaymentFailedEvent
		err = json.Unmarshal(rec.Payload, &v)
		e = v
	case "OrderStatusChanged":
		var v OrderStatusChangedEvent
		err = json.Unmarshal(rec.Payload, &v)
		e = v
	case "OrderCancelled":
		var v OrderCancelledEvent
		err = json.Unmarshal(rec.Payload, &v)
		e = v
	case "RefundRequested":
		var v RefundRequestedEvent
		err = json.Unmarshal(rec.Payload, &v)
		e = v
	case "RefundApproved":
		var v RefundApprovedEvent
		err = json.Unmarshal(rec.Payload, &v)
		e = v
	case "RefundRejected":
		var v RefundRejectedEvent
		err = json.Unmarshal(rec.Payload, &v)
		e = v
	case "RefundCompleted":
		var v RefundCompletedEvent
		err = json.Unmarshal(rec.Payload, &v)
		e = v
	default:
		return nil, fmt.Errorf("unknown event type in stream: %s", rec.EventType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", rec.EventType, err)
	}
	return e, nil
}
