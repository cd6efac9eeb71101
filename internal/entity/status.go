package entity

// OrderStatus is the fulfilment axis of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderShipped    OrderStatus = "SHIPPED"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// PaymentStatus is the payment axis of an order, independent of OrderStatus.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// IntentStatus is the state of a payment intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "PENDING"
	IntentCompleted IntentStatus = "COMPLETED"
	IntentFailed    IntentStatus = "FAILED"
)

// RefundStatus is the state of a refund request.
type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundApproved  RefundStatus = "APPROVED"
	RefundRejected  RefundStatus = "REJECTED"
	RefundCompleted RefundStatus = "COMPLETED"
)

// RefundAction is an admin decision on a pending refund.
type RefundAction string

const (
	RefundApprove RefundAction = "APPROVE"
	RefundReject  RefundAction = "REJECT"
)

// NotificationType classifies in-app notifications.
type NotificationType string

const (
	NotifyOrderPlaced     NotificationType = "ORDER_PLACED"
	NotifyPaymentSuccess  NotificationType = "PAYMENT_SUCCESS"
	NotifyPaymentFailed   NotificationType = "PAYMENT_FAILED"
	NotifyOrderStatus     NotificationType = "ORDER_STATUS"
	NotifyOrderCancelled  NotificationType = "ORDER_CANCELLED"
	NotifyRefundRequested NotificationType = "REFUND_REQUESTED"
	NotifyRefundApproved  NotificationType = "REFUND_APPROVED"
	NotifyRefundRejected  NotificationType = "REFUND_REJECTED"
	NotifyRefundCompleted NotificationType = "REFUND_COMPLETED"
)

// Actor says who drives a transition. Some edges are only open to admins.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorAdmin    Actor = "admin"
	ActorSystem   Actor = "system"
)

var orderStatuses = []OrderStatus{OrderPending, OrderProcessing, OrderConfirmed, OrderShipped, OrderDelivered, OrderCancelled}

type orderEdge struct {
	from OrderStatus
	to   OrderStatus
}

// orderTransitions lists every permitted order status edge and the actors
// allowed to take it.
var orderTransitions = map[orderEdge][]Actor{
	{OrderPending, OrderProcessing}:   {ActorSystem},
	{OrderProcessing, OrderConfirmed}: {ActorAdmin},
	{OrderConfirmed, OrderShipped}:    {ActorAdmin},
	{OrderShipped, OrderDelivered}:    {ActorAdmin},

	{OrderPending, OrderCancelled}:    {ActorCustomer, ActorAdmin, ActorSystem},
	{OrderProcessing, OrderCancelled}: {ActorCustomer, ActorAdmin, ActorSystem},
	{OrderConfirmed, OrderCancelled}:  {ActorCustomer, ActorAdmin, ActorSystem},
	{OrderShipped, OrderCancelled}:    {ActorAdmin},
}

// IsTerminal reports whether no further fulfilment transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	for _, known := range orderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// TerminalStatuses lists the statuses an order never leaves.
func TerminalStatuses() []OrderStatus {
	var out []OrderStatus
	for _, s := range orderStatuses {
		if s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// CanTransition reports whether actor may move an order from one status to another.
func CanTransition(from, to OrderStatus, actor Actor) bool {
	for _, a := range orderTransitions[orderEdge{from, to}] {
		if a == actor {
			return true
		}
	}
	return false
}

// SourcesFor returns every status from which actor may move an order to `to`.
// The payment repository uses it to advance a paid order.
func SourcesFor(to OrderStatus, actor Actor) []OrderStatus {
	var out []OrderStatus
	for _, from := range orderStatuses {
		if CanTransition(from, to, actor) {
			out = append(out, from)
		}
	}
	return out
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentCompleted, PaymentFailed},
	PaymentCompleted: {PaymentRefunded},
}

// CanTransitionPayment reports whether the payment axis may move between states.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundPending:  {RefundApproved, RefundRejected},
	RefundApproved: {RefundCompleted},
}

// IsTerminal reports whether the refund can no longer change.
func (s RefundStatus) IsTerminal() bool {
	return s != "" && len(refundTransitions[s]) == 0
}

// CanTransitionRefund reports whether a refund may move between states.
func CanTransitionRefund(from, to RefundStatus) bool {
	for _, s := range refundTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Target returns the refund status an admin action leads to.
func (a RefundAction) Target() (RefundStatus, bool) {
	switch a {
	case RefundApprove:
		return RefundApproved, true
	case RefundReject:
		return RefundRejected, true
	}
	return "", false
}
