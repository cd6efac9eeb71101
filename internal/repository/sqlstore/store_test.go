package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(ctx, db, DriverSQLite))
	s := NewStore(db)
	require.NoError(t, Seed(ctx, s))
	return s
}

func newOrder(userID string) *entity.Order {
	ts := time.Now().UTC().Truncate(time.Second)
	return &entity.Order{
		ID:            uuid.NewString(),
		OrderNumber:   "ORD-20260301-" + uuid.NewString()[:6],
		UserID:        userID,
		CustomerEmail: "demo@example.com",
		Items: []entity.OrderItem{
			{ProductID: "prod-001", Name: "Assam Breakfast Tea", Price: decimal.RequireFromString("349.00"), Quantity: 2},
		},
		Subtotal:        decimal.RequireFromString("698.00"),
		ShippingCost:    decimal.NewFromInt(50),
		Tax:             decimal.Zero,
		Total:           decimal.RequireFromString("748.00"),
		Status:          entity.OrderPending,
		PaymentStatus:   entity.PaymentPending,
		ShippingAddress: entity.ShippingAddress{FullName: "Demo", City: "Bengaluru"},
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
}

func TestProductStockGuard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.Products().DecrementStock(ctx, "prod-004", 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Products().DecrementStock(ctx, "prod-004", 10)
	require.NoError(t, err)
	assert.False(t, ok, "only 5 left")

	p, err := s.Products().Get(ctx, "prod-004")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
	assert.True(t, decimal.RequireFromString("2499").Equal(p.Price))
	assert.True(t, p.Active)

	_, err = s.Products().Get(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOrderRoundTripAndTransitions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	o := newOrder(DemoUserID)
	require.NoError(t, s.Orders().Create(ctx, o))

	got, err := s.Orders().Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)
	assert.True(t, o.Total.Equal(got.Total))
	assert.Equal(t, "Bengaluru", got.ShippingAddress.City)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.Nil(t, got.DeliveredAt)
	assert.WithinDuration(t, o.CreatedAt, got.CreatedAt, time.Second)

	exists, err := s.Orders().NumberExists(ctx, o.OrderNumber)
	require.NoError(t, err)
	assert.True(t, exists)

	dup := newOrder(DemoUserID)
	dup.OrderNumber = o.OrderNumber
	assert.ErrorIs(t, s.Orders().Create(ctx, dup), repository.ErrDuplicate)

	ok, err := s.Orders().MarkPaid(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Orders().MarkPaid(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second payment must not match")

	ok, err = s.Orders().TransitionStatus(ctx, o.ID, []entity.OrderStatus{entity.OrderPending}, entity.OrderCancelled, repository.OrderChanges{})
	require.NoError(t, err)
	assert.False(t, ok, "order is PROCESSING now")

	delivered := time.Now().UTC()
	ok, err = s.Orders().TransitionStatus(ctx, o.ID, []entity.OrderStatus{entity.OrderProcessing}, entity.OrderShipped,
		repository.OrderChanges{TrackingNumber: "TRK-1", DeliveredAt: &delivered})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = s.Orders().Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderShipped, got.Status)
	assert.Equal(t, entity.PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, "TRK-1", got.TrackingNumber)
	require.NotNil(t, got.DeliveredAt)

	ok, err = s.Orders().MarkRefunded(ctx, o.ID, "refund approved")
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = s.Orders().Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderCancelled, got.Status)
	assert.Equal(t, entity.PaymentRefunded, got.PaymentStatus)
	assert.Equal(t, "refund approved", got.CancellationReason)
}

func TestMarkPaidLeavesClosedOrders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	o := newOrder(DemoUserID)
	require.NoError(t, s.Orders().Create(ctx, o))
	require.NoError(t, s.Orders().Lock(ctx, o.ID))
	require.NoError(t, s.Orders().Lock(ctx, "missing"))

	ok, err := s.Orders().TransitionStatus(ctx, o.ID, []entity.OrderStatus{entity.OrderPending}, entity.OrderCancelled,
		repository.OrderChanges{CancellationReason: "changed my mind"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Orders().MarkPaid(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Orders().Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderCancelled, got.Status)
	assert.Equal(t, entity.PaymentPending, got.PaymentStatus)
}

func TestTransitionTablesGuardUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	o := newOrder(DemoUserID)
	require.NoError(t, s.Orders().Create(ctx, o))

	_, err := s.Orders().SetPaymentStatus(ctx, o.ID, entity.PaymentFailed, entity.PaymentCompleted)
	assert.Error(t, err)
	ok, err := s.Orders().SetPaymentStatus(ctx, o.ID, entity.PaymentPending, entity.PaymentFailed)
	require.NoError(t, err)
	assert.True(t, ok)

	rf := &entity.Refund{ID: uuid.NewString(), OrderID: o.ID, UserID: DemoUserID, Amount: o.Total,
		Reason: "damaged", Status: entity.RefundPending, RequestedAt: time.Now().UTC()}
	require.NoError(t, s.Refunds().Create(ctx, rf))
	_, err = s.Refunds().Transition(ctx, rf.ID, entity.RefundPending, entity.RefundCompleted, repository.RefundChanges{})
	assert.Error(t, err)
}

func TestRefundPayoutClaim(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	o := newOrder(DemoUserID)
	require.NoError(t, s.Orders().Create(ctx, o))
	rf := &entity.Refund{ID: uuid.NewString(), OrderID: o.ID, UserID: DemoUserID, Amount: o.Total,
		Reason: "damaged", Status: entity.RefundPending, RequestedAt: time.Now().UTC()}
	require.NoError(t, s.Refunds().Create(ctx, rf))

	now := time.Now().UTC()
	ok, err := s.Refunds().ClaimPayout(ctx, rf.ID, now, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "pending refunds cannot be paid out")

	ok, err = s.Refunds().Transition(ctx, rf.ID, entity.RefundPending, entity.RefundApproved, repository.RefundChanges{})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Refunds().ClaimPayout(ctx, rf.ID, now, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Refunds().ClaimPayout(ctx, rf.ID, now.Add(time.Second), now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "claim is held")

	later := now.Add(10 * time.Minute)
	ok, err = s.Refunds().ClaimPayout(ctx, rf.ID, later, later.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "stale claim is taken over")

	require.NoError(t, s.Refunds().ReleasePayout(ctx, rf.ID))
	ok, err = s.Refunds().ClaimPayout(ctx, rf.ID, later, later.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPaymentIntentGuards(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	o := newOrder(DemoUserID)
	require.NoError(t, s.Orders().Create(ctx, o))

	ts := time.Now().UTC()
	intent := &entity.PaymentIntent{
		ID: uuid.NewString(), OrderID: o.ID, GatewayOrderID: "order_gw1",
		Amount: o.Total, Currency: "INR", Status: entity.IntentPending, CreatedAt: ts, UpdatedAt: ts,
	}
	require.NoError(t, s.Payments().Create(ctx, intent))

	second := *intent
	second.ID = uuid.NewString()
	second.GatewayOrderID = "order_gw2"
	assert.ErrorIs(t, s.Payments().Create(ctx, &second), repository.ErrDuplicate, "one intent per order")

	ok, err := s.Payments().Complete(ctx, "order_gw1", repository.IntentCompletion{GatewayPaymentID: "pay_1", Signature: "sig", Method: "card"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Payments().Complete(ctx, "order_gw1", repository.IntentCompletion{GatewayPaymentID: "pay_2"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Payments().Fail(ctx, "order_gw1", "", "declined")
	require.NoError(t, err)
	assert.False(t, ok, "completed intents do not fail")

	got, err := s.Payments().GetByGatewayPaymentID(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, entity.IntentCompleted, got.Status)
	assert.Equal(t, "card", got.Method)
	assert.Equal(t, int64(74800), got.AmountMinor())
}

func TestRefundUniquePerOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	o := newOrder(DemoUserID)
	require.NoError(t, s.Orders().Create(ctx, o))

	rf := &entity.Refund{ID: uuid.NewString(), OrderID: o.ID, UserID: DemoUserID, Amount: o.Total,
		Reason: "damaged", Status: entity.RefundPending, RequestedAt: time.Now().UTC()}
	require.NoError(t, s.Refunds().Create(ctx, rf))

	again := *rf
	again.ID = uuid.NewString()
	assert.ErrorIs(t, s.Refunds().Create(ctx, &again), repository.ErrDuplicate)

	processed := time.Now().UTC()
	ok, err := s.Refunds().Transition(ctx, rf.ID, entity.RefundPending, entity.RefundApproved,
		repository.RefundChanges{ProcessedBy: "admin-1", Notes: "ok", ProcessedAt: &processed})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Refunds().Transition(ctx, rf.ID, entity.RefundPending, entity.RefundRejected, repository.RefundChanges{})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Refunds().GetByOrderID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RefundApproved, got.Status)
	assert.Equal(t, "admin-1", got.ProcessedBy)
	require.NotNil(t, got.ProcessedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx repository.Store) error {
		ok, err := tx.Products().DecrementStock(ctx, "prod-001", 1)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := s.Products().Get(ctx, "prod-001")
	require.NoError(t, err)
	assert.Equal(t, 50, p.Stock)
}

func TestEventStoreVersions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	events := []entity.Event{
		entity.OrderPlacedEvent{OrderID: "o-1", OrderNumber: "ORD-1"},
		entity.PaymentCompletedEvent{OrderID: "o-1", Source: "client"},
	}
	require.NoError(t, s.Events().SaveEvents(ctx, "o-1", entity.StreamOrder, 0, events))
	require.NoError(t, s.Events().SaveEvents(ctx, "o-1", entity.StreamOrder, -1, []entity.Event{
		entity.OrderStatusChangedEvent{OrderID: "o-1", From: entity.OrderProcessing, To: entity.OrderConfirmed},
	}))
	assert.Error(t, s.Events().SaveEvents(ctx, "o-1", entity.StreamOrder, 1, events), "stale expected version")

	records, err := s.Events().LoadEvents(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 3, records[2].Version)
	assert.Equal(t, "OrderStatusChanged", records[2].EventType)

	tl := entity.NewOrderTimeline("o-1")
	require.NoError(t, tl.Rehydrate(records))
	assert.Equal(t, entity.OrderConfirmed, tl.Status)
}

func TestOutboxClaimLease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	created := time.Now().UTC().Add(-time.Minute)

	m := &entity.OutboxMessage{ID: uuid.NewString(), Kind: entity.OutboxEvent, Topic: "orders.placed",
		AggregateID: "o-1", Payload: []byte(`{"orderId":"o-1"}`), CreatedAt: created}
	require.NoError(t, s.Outbox().Add(ctx, m))

	at := time.Now().UTC()
	ok, err := s.Outbox().Claim(ctx, m.ID, at, at.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Outbox().Claim(ctx, m.ID, at, at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "lease is held")

	due, err := s.Outbox().FindDue(ctx, at, at, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, s.Outbox().MarkFailed(ctx, m.ID, "broker down"))
	due, err = s.Outbox().FindDue(ctx, at, at, 5, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "broker down", due[0].LastError)
	assert.JSONEq(t, `{"orderId":"o-1"}`, string(due[0].Payload))

	due, err = s.Outbox().FindDue(ctx, at, at, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "attempts exhausted")

	require.NoError(t, s.Outbox().MarkSent(ctx, m.ID))
	got, err := s.Outbox().Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OutboxSent, got.Status)
}
