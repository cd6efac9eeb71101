package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  OrderStatus
		to    OrderStatus
		actor Actor
		want  bool
	}{
		{"payment moves pending to processing", OrderPending, OrderProcessing, ActorSystem, true},
		{"customer cannot mark processing", OrderPending, OrderProcessing, ActorCustomer, false},
		{"admin confirms", OrderProcessing, OrderConfirmed, ActorAdmin, true},
		{"admin ships", OrderConfirmed, OrderShipped, ActorAdmin, true},
		{"admin delivers", OrderShipped, OrderDelivered, ActorAdmin, true},
		{"no skipping to shipped", OrderProcessing, OrderShipped, ActorAdmin, false},
		{"customer cancels pending", OrderPending, OrderCancelled, ActorCustomer, true},
		{"customer cancels confirmed", OrderConfirmed, OrderCancelled, ActorCustomer, true},
		{"customer cannot cancel shipped", OrderShipped, OrderCancelled, ActorCustomer, false},
		{"admin cancels shipped", OrderShipped, OrderCancelled, ActorAdmin, true},
		{"delivered is terminal", OrderDelivered, OrderCancelled, ActorAdmin, false},
		{"cancelled is terminal", OrderCancelled, OrderPending, ActorAdmin, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to, tt.actor))
		})
	}
}

func TestSourcesFor(t *testing.T) {
	assert.ElementsMatch(t,
		[]OrderStatus{OrderPending, OrderProcessing, OrderConfirmed},
		SourcesFor(OrderCancelled, ActorCustomer))
	assert.ElementsMatch(t,
		[]OrderStatus{OrderPending, OrderProcessing, OrderConfirmed, OrderShipped},
		SourcesFor(OrderCancelled, ActorAdmin))
	assert.Empty(t, SourcesFor(OrderPending, ActorAdmin))
	assert.Equal(t, []OrderStatus{OrderPending}, SourcesFor(OrderProcessing, ActorSystem))
}

func TestTerminalStatuses(t *testing.T) {
	assert.ElementsMatch(t, []OrderStatus{OrderDelivered, OrderCancelled}, TerminalStatuses())

	assert.False(t, RefundPending.IsTerminal())
	assert.False(t, RefundApproved.IsTerminal())
	assert.True(t, RefundRejected.IsTerminal())
	assert.True(t, RefundCompleted.IsTerminal())
}

func TestPaymentAndRefundTransitions(t *testing.T) {
	assert.True(t, CanTransitionPayment(PaymentPending, PaymentCompleted))
	assert.True(t, CanTransitionPayment(PaymentPending, PaymentFailed))
	assert.True(t, CanTransitionPayment(PaymentCompleted, PaymentRefunded))
	assert.False(t, CanTransitionPayment(PaymentFailed, PaymentCompleted))
	assert.False(t, CanTransitionPayment(PaymentPending, PaymentRefunded))

	assert.True(t, CanTransitionRefund(RefundPending, RefundApproved))
	assert.True(t, CanTransitionRefund(RefundPending, RefundRejected))
	assert.True(t, CanTransitionRefund(RefundApproved, RefundCompleted))
	assert.False(t, CanTransitionRefund(RefundRejected, RefundApproved))
	assert.False(t, CanTransitionRefund(RefundPending, RefundCompleted))
}

func TestRefundActionTarget(t *testing.T) {
	s, ok := RefundApprove.Target()
	assert.True(t, ok)
	assert.Equal(t, RefundApproved, s)

	s, ok = RefundReject.Target()
	assert.True(t, ok)
	assert.Equal(t, RefundRejected, s)

	_, ok = RefundAction("MAYBE").Target()
	assert.False(t, ok)
}
