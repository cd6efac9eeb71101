package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/apperr"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
)

func (f *fixture) paidOrder(t *testing.T) *entity.Order {
	t.Helper()
	order := f.placeOrder(t, "prod-001", 2)
	f.confirm(t, order)
	return f.order(t, order.ID)
}

func TestRefundLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)

	refund, err := f.refunds.RequestRefund(ctx, customerCaller, order.ID, "arrived damaged")
	require.NoError(t, err)
	assert.Equal(t, entity.RefundPending, refund.Status)
	assert.True(t, refund.Amount.Equal(order.Total))
	assert.Equal(t, 1, f.pub.count("refunds.requested"))

	_, err = f.refunds.RequestRefund(ctx, customerCaller, order.ID, "again")
	assertCode(t, err, apperr.CodeDuplicateRefund)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	approved, err := f.refunds.ProcessRefund(ctx, "admin-1", refund.ID, entity.RefundApprove, "ok")
	require.NoError(t, err)
	assert.Equal(t, entity.RefundApproved, approved.Status)
	assert.Equal(t, "admin-1", approved.ProcessedBy)
	require.NotNil(t, approved.ProcessedAt)

	got := f.order(t, order.ID)
	assert.Equal(t, entity.OrderCancelled, got.Status)
	assert.Equal(t, entity.PaymentRefunded, got.PaymentStatus)

	_, err = f.refunds.ProcessRefund(ctx, "admin-2", refund.ID, entity.RefundReject, "")
	assertCode(t, err, apperr.CodeAlreadyProcessed)

	completed, err := f.refunds.CompleteRefund(ctx, "admin-1", refund.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RefundCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	assert.Equal(t, []int64{74800}, f.gw.refunds)

	_, err = f.refunds.CompleteRefund(ctx, "admin-1", refund.ID)
	assertCode(t, err, apperr.CodeAlreadyProcessed)

	assert.Equal(t, 1, f.countNotifications(t, customer, entity.NotifyRefundRequested))
	assert.Equal(t, 1, f.countNotifications(t, customer, entity.NotifyRefundApproved))
	assert.Equal(t, 1, f.countNotifications(t, customer, entity.NotifyRefundCompleted))

	timeline, err := f.orders.History(ctx, customerCaller, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RefundCompleted, timeline.RefundStatus)
	assert.Equal(t, entity.PaymentRefunded, timeline.PaymentStatus)
}

func TestRejectedRefundLeavesOrderAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)

	refund, err := f.refunds.RequestRefund(ctx, customerCaller, order.ID, "no longer needed")
	require.NoError(t, err)
	rejected, err := f.refunds.ProcessRefund(ctx, "admin-1", refund.ID, entity.RefundReject, "opened item")
	require.NoError(t, err)
	assert.Equal(t, entity.RefundRejected, rejected.Status)
	assert.Equal(t, "opened item", rejected.Notes)

	got := f.order(t, order.ID)
	assert.Equal(t, entity.OrderProcessing, got.Status)
	assert.Equal(t, entity.PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, 1, f.countNotifications(t, customer, entity.NotifyRefundRejected))

	_, err = f.refunds.CompleteRefund(ctx, "admin-1", refund.ID)
	assertCode(t, err, apperr.CodeAlreadyProcessed)
	assert.Empty(t, f.gw.refunds)
}

func TestRefundPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unpaid := f.placeOrder(t, "prod-001", 1)

	_, err := f.refunds.RequestRefund(ctx, customerCaller, unpaid.ID, "")
	assertCode(t, err, apperr.CodeValidation)

	_, err = f.refunds.RequestRefund(ctx, Caller{UserID: "user-other"}, unpaid.ID, "mine")
	assertCode(t, err, apperr.CodeNotFound)

	_, err = f.refunds.RequestRefund(ctx, customerCaller, unpaid.ID, "never paid")
	assertCode(t, err, apperr.CodeInvalidState)

	_, err = f.refunds.ProcessRefund(ctx, "admin-1", "missing", entity.RefundApprove, "")
	assertCode(t, err, apperr.CodeNotFound)

	_, err = f.refunds.ProcessRefund(ctx, "admin-1", "missing", entity.RefundAction("MAYBE"), "")
	assertCode(t, err, apperr.CodeValidation)
}

func TestReturnWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)
	for _, to := range []entity.OrderStatus{entity.OrderConfirmed, entity.OrderShipped, entity.OrderDelivered} {
		_, err := f.orders.UpdateStatus(ctx, "admin-1", order.ID, to, "TRK9")
		require.NoError(t, err)
	}

	f.refunds.clock = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }
	_, err := f.refunds.RequestRefund(ctx, customerCaller, order.ID, "late")
	assertCode(t, err, apperr.CodeReturnWindowExpired)
	assert.Contains(t, err.Error(), "30 days")

	f.refunds.clock = func() time.Time { return time.Now().UTC().Add(29 * 24 * time.Hour) }
	refund, err := f.refunds.RequestRefund(ctx, customerCaller, order.ID, "in time")
	require.NoError(t, err)
	assert.Equal(t, entity.RefundPending, refund.Status)
}

func TestCompleteRefundGatewayFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)
	refund, err := f.refunds.RequestRefund(ctx, customerCaller, order.ID, "damaged")
	require.NoError(t, err)
	_, err = f.refunds.ProcessRefund(ctx, "admin-1", refund.ID, entity.RefundApprove, "")
	require.NoError(t, err)

	f.gw.refundErr = errors.New("gateway timeout")
	_, err = f.refunds.CompleteRefund(ctx, "admin-1", refund.ID)
	assertCode(t, err, apperr.CodeGatewayUnavailable)
	assert.Equal(t, apperr.KindDependency, apperr.KindOf(err))

	still, err := f.store.Refunds().Get(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RefundApproved, still.Status)

	f.gw.refundErr = nil
	completed, err := f.refunds.CompleteRefund(ctx, "admin-1", refund.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RefundCompleted, completed.Status)
	assert.Equal(t, []string{refund.ID}, f.gw.keys)
}

func TestConcurrentCompleteRefundPaysOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)
	refund, err := f.refunds.RequestRefund(ctx, customerCaller, order.ID, "damaged")
	require.NoError(t, err)
	_, err = f.refunds.ProcessRefund(ctx, "admin-1", refund.ID, entity.RefundApprove, "")
	require.NoError(t, err)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.refunds.CompleteRefund(ctx, fmt.Sprintf("admin-%d", i), refund.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assertCode(t, err, apperr.CodeAlreadyProcessed)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, []int64{74800}, f.gw.refunds)
	assert.Equal(t, []string{refund.ID}, f.gw.keys)
	assert.Equal(t, 1, f.countNotifications(t, customer, entity.NotifyRefundCompleted))
}

func TestAdminRequestsRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)

	refund, err := f.refunds.RequestRefund(ctx, Caller{UserID: "admin-1", Admin: true}, order.ID, "courier lost it")
	require.NoError(t, err)
	assert.Equal(t, customer, refund.UserID)
	assert.Equal(t, entity.RefundPending, refund.Status)
	assert.Equal(t, 1, f.countNotifications(t, customer, entity.NotifyRefundRequested))

	records, err := f.store.Events().LoadEvents(ctx, order.ID)
	require.NoError(t, err)
	var requested *entity.RefundRequestedEvent
	for _, rec := range records {
		if rec.EventType != "RefundRequested" {
			continue
		}
		ev, err := entity.DecodeEvent(rec)
		require.NoError(t, err)
		e := ev.(entity.RefundRequestedEvent)
		requested = &e
	}
	require.NotNil(t, requested)
	assert.Equal(t, customer, requested.UserID)
	assert.Equal(t, "admin-1", requested.RequestedBy)
	assert.Equal(t, entity.ActorAdmin, requested.Actor)
}

func TestConcurrentTransitionsKeepHistoryOrdered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)

	var (
		wg                   sync.WaitGroup
		refundErr, statusErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, refundErr = f.refunds.RequestRefund(ctx, customerCaller, order.ID, "wrong size")
	}()
	go func() {
		defer wg.Done()
		_, statusErr = f.orders.UpdateStatus(ctx, "admin-1", order.ID, entity.OrderConfirmed, "")
	}()
	wg.Wait()
	require.NoError(t, refundErr)
	require.NoError(t, statusErr)

	records, err := f.store.Events().LoadEvents(ctx, order.ID)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Version, "event %s", rec.EventType)
	}
	assert.Equal(t, 1, f.countEvents(t, order.ID, "RefundRequested"))
	assert.Equal(t, 1, f.countEvents(t, order.ID, "OrderStatusChanged"))
}

func TestRefundProcessedWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.paidOrder(t)
	intent, err := f.store.Payments().GetByOrderID(ctx, order.ID)
	require.NoError(t, err)

	refund, err := f.refunds.RequestRefund(ctx, customerCaller, order.ID, "damaged")
	require.NoError(t, err)

	body := []byte(fmt.Sprintf(`{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_9","payment_id":%q}}}}`,
		intent.GatewayPaymentID))

	// still PENDING: acknowledged, nothing to complete
	require.NoError(t, f.payments.HandleWebhook(ctx, body, signWebhook(body), "evt_r1"))
	got, err := f.store.Refunds().Get(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RefundPending, got.Status)

	_, err = f.refunds.ProcessRefund(ctx, "admin-1", refund.ID, entity.RefundApprove, "")
	require.NoError(t, err)
	require.NoError(t, f.payments.HandleWebhook(ctx, body, signWebhook(body), "evt_r2"))

	got, err = f.store.Refunds().Get(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RefundCompleted, got.Status)
	assert.Empty(t, f.gw.refunds, "webhook completion does not call the gateway")
}
