package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the store. Stock is the stock ledger entry.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"imageUrl"`
	Category    string          `json:"category"`
	Stock       int             `json:"stock"`
	Active      bool            `json:"active"`
}

// Address is a saved customer address. Orders never reference it directly,
// they carry a ShippingAddress copy.
type Address struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Snapshot copies the address into the shape stored on an order.
func (a Address) Snapshot() ShippingAddress {
	return ShippingAddress{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// ShippingAddress is the denormalized address copy owned by an order.
type ShippingAddress struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// OrderItem is a line item within an order. Price is frozen at creation.
type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Weight    string          `json:"weight,omitempty"`
}

// LineTotal returns price × quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order represents a customer order.
type Order struct {
	ID                 string          `json:"id"`
	OrderNumber        string          `json:"orderNumber"`
	UserID             string          `json:"userId"`
	CustomerEmail      string          `json:"customerEmail"`
	Items              []OrderItem     `json:"items"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	ShippingCost       decimal.Decimal `json:"shippingCost"`
	Tax                decimal.Decimal `json:"tax"`
	Total              decimal.Decimal `json:"total"`
	Status             OrderStatus     `json:"status"`
	PaymentStatus      PaymentStatus   `json:"paymentStatus"`
	ShippingAddress    ShippingAddress `json:"shippingAddress"`
	TrackingNumber     string          `json:"trackingNumber,omitempty"`
	CancellationReason string          `json:"cancellationReason,omitempty"`
	DeliveredAt        *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// PaymentIntent tracks the gateway-side transaction for exactly one order.
type PaymentIntent struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"orderId"`
	GatewayOrderID   string          `json:"gatewayOrderId"`
	GatewayPaymentID string          `json:"gatewayPaymentId,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           IntentStatus    `json:"status"`
	Method           string          `json:"method,omitempty"`
	Signature        string          `json:"-"`
	FailureReason    string          `json:"failureReason,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// AmountMinor is the amount in integer minor units, as the gateway expects it.
func (p PaymentIntent) AmountMinor() int64 {
	return ToMinor(p.Amount)
}

// Refund is the single refund/return request allowed per order.
type Refund struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
	Status      RefundStatus    `json:"status"`
	Notes       string          `json:"notes,omitempty"`
	ProcessedBy string          `json:"processedBy,omitempty"`
	RequestedAt time.Time       `json:"requestedAt"`
	ProcessedAt *time.Time      `json:"processedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Notification is a fire-and-forget, user-visible record.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	OrderID   string           `json:"orderId,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Email is an outbound email handed to the mail queue.
type Email struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Subject  string            `json:"subject"`
	Data     map[string]string `json:"data,omitempty"`
}

// OutboxMessage is a side-effect intent recorded inside a transaction and
// delivered after commit.
type OutboxMessage struct {
	ID          string     `json:"id"`
	Kind        OutboxKind `json:"kind"`
	Topic       string     `json:"topic"`
	AggregateID string     `json:"aggregateId"`
	Payload     []byte     `json:"payload"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"lastError,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// OutboxKind says how an outbox message is delivered.
type OutboxKind string

const (
	OutboxEmail        OutboxKind = "email"
	OutboxNotification OutboxKind = "notification"
	OutboxEvent        OutboxKind = "event"
)

// Outbox message states.
const (
	OutboxPending = "PENDING"
	OutboxSent    = "SENT"
	OutboxFailed  = "FAILED"
)

// --- Commands ---

// PlaceOrderLine is one requested line of a PlaceOrder command.
type PlaceOrderLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Weight    string `json:"weight,omitempty"`
}

// PlaceOrder is a command to create a new order.
type PlaceOrder struct {
	UserID            string           `json:"userId"`
	CustomerEmail     string           `json:"customerEmail"`
	Items             []PlaceOrderLine `json:"items"`
	ShippingAddressID string           `json:"shippingAddressId"`
}
