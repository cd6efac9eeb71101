package repository

import (
	"context"
	"errors"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// Store groups the repositories and runs units of work.
type Store interface {
	Products() ProductRepository
	Addresses() AddressRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Refunds() RefundRepository
	Notifications() NotificationRepository
	Outbox() OutboxRepository
	Events() EventStore

	// WithTx runs fn inside one database transaction. The Store passed to fn
	// is bound to that transaction; fn returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

// ProductRepository handles persistence for Products and their stock.
type ProductRepository interface {
	FindAll(ctx context.Context) ([]entity.Product, error)
	Get(ctx context.Context, id string) (*entity.Product, error)
	// DecrementStock subtracts qty only if enough stock is left. It reports
	// false when the guard rejected the update.
	DecrementStock(ctx context.Context, id string, qty int) (bool, error)
	// Seed inserts initial products if none exist.
	Seed(ctx context.Context, products []entity.Product) error
}

// AddressRepository reads saved customer addresses.
type AddressRepository interface {
	Get(ctx context.Context, id string) (*entity.Address, error)
	Create(ctx context.Context, a *entity.Address) error
}

// OrderChanges carries the optional columns written with a status transition.
type OrderChanges struct {
	TrackingNumber     string
	CancellationReason string
	DeliveredAt        *time.Time
}

// OrderRepository handles persistence for Orders. Every mutation is a
// conditional update that reports whether it matched.
type OrderRepository interface {
	Create(ctx context.Context, o *entity.Order) error
	NumberExists(ctx context.Context, number string) (bool, error)
	Get(ctx context.Context, id string) (*entity.Order, error)
	FindByUser(ctx context.Context, userID string) ([]entity.Order, error)

	// Lock holds the order row until the transaction ends, so units of work
	// on one order run one after another. A missing row is not an error.
	Lock(ctx context.Context, id string) error
	TransitionStatus(ctx context.Context, id string, from []entity.OrderStatus, to entity.OrderStatus, changes OrderChanges) (bool, error)
	// MarkPaid moves paymentStatus PENDING to COMPLETED and advances the
	// status along the system edge to PROCESSING. Orders in a terminal
	// status are left alone and reported as false.
	MarkPaid(ctx context.Context, id string) (bool, error)
	// SetPaymentStatus rejects moves the payment table does not allow.
	SetPaymentStatus(ctx context.Context, id string, from, to entity.PaymentStatus) (bool, error)
	// MarkRefunded moves paymentStatus COMPLETED to REFUNDED and cancels the order.
	MarkRefunded(ctx context.Context, id, reason string) (bool, error)
}

// IntentCompletion is what the gateway tells us about a captured payment.
type IntentCompletion struct {
	GatewayPaymentID string
	Signature        string
	Method           string
}

// PaymentRepository handles persistence for payment intents.
type PaymentRepository interface {
	Create(ctx context.Context, p *entity.PaymentIntent) error
	GetByOrderID(ctx context.Context, orderID string) (*entity.PaymentIntent, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*entity.PaymentIntent, error)
	GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*entity.PaymentIntent, error)
	// Complete applies PENDING -> COMPLETED. False means it was not PENDING.
	Complete(ctx context.Context, gatewayOrderID string, c IntentCompletion) (bool, error)
	// Fail applies PENDING -> FAILED. False means it was not PENDING.
	Fail(ctx context.Context, gatewayOrderID, paymentID, reason string) (bool, error)
}

// RefundChanges carries the columns written with a refund transition.
type RefundChanges struct {
	ProcessedBy string
	Notes       string
	ProcessedAt *time.Time
	CompletedAt *time.Time
}

// RefundRepository handles persistence for refunds.
type RefundRepository interface {
	// Create returns ErrDuplicate when the order already has a refund.
	Create(ctx context.Context, r *entity.Refund) error
	Get(ctx context.Context, id string) (*entity.Refund, error)
	GetByOrderID(ctx context.Context, orderID string) (*entity.Refund, error)
	// Transition rejects moves the refund table does not allow.
	Transition(ctx context.Context, id string, from, to entity.RefundStatus, changes RefundChanges) (bool, error)
	// ClaimPayout marks an APPROVED refund as being paid out. False means
	// another claim newer than staleBefore holds it or it is not APPROVED.
	ClaimPayout(ctx context.Context, id string, at, staleBefore time.Time) (bool, error)
	// ReleasePayout drops the claim after a failed payout.
	ReleasePayout(ctx context.Context, id string) error
}

// NotificationRepository stores in-app notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *entity.Notification) error
	FindByUser(ctx context.Context, userID string, limit int) ([]entity.Notification, error)
}

// OutboxRepository stores side-effect intents until they are delivered.
type OutboxRepository interface {
	Add(ctx context.Context, m *entity.OutboxMessage) error
	Get(ctx context.Context, id string) (*entity.OutboxMessage, error)
	// Claim leases a pending or failed message until leaseUntil. False means
	// another worker holds it or it was already sent.
	Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause string) error
	// FindDue lists undelivered messages created before cutoff whose lease
	// has expired and that still have attempts left.
	FindDue(ctx context.Context, now, cutoff time.Time, maxAttempts, limit int) ([]entity.OutboxMessage, error)
}

// EventStore handles appending and loading events for an order's history stream.
type EventStore interface {
	// SaveEvents appends events after expectedVersion. A negative
	// expectedVersion appends at the current head of the stream.
	SaveEvents(ctx context.Context, streamID string, streamType string, expectedVersion int, events []entity.Event) error
	LoadEvents(ctx context.Context, streamID string) ([]entity.EventStoreRecord, error)
}
