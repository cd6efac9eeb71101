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
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/cache"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/gateway"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

func webhookBody(event, gatewayOrderID, paymentID string) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"method":"card","error_description":"card declined"}}}}`,
		event, paymentID, gatewayOrderID))
}

func signWebhook(body []byte) string {
	return gateway.Sign(testWebhookSecret, body)
}

func TestCreateIntentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, "prod-001", 2)

	first := f.intent(t, order)
	assert.Equal(t, int64(74800), first.Amount)
	assert.Equal(t, "INR", first.Currency)
	assert.Equal(t, "key_id", first.KeyID)

	second := f.intent(t, order)
	assert.Equal(t, first.GatewayOrderID, second.GatewayOrderID)
	assert.Equal(t, 1, f.gw.created)
}

func TestCreateIntentRejectsForeignAndPaidOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "prod-001", 1)

	_, err := f.payments.CreateIntent(ctx, "user-other", order.ID)
	assertCode(t, err, apperr.CodeNotFound)

	f.confirm(t, order)
	_, err = f.payments.CreateIntent(ctx, customer, order.ID)
	assertCode(t, err, apperr.CodeInvalidState)
}

func TestConfirmCompletesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "prod-001", 2)
	in := f.intent(t, order)
	req := confirmRequest(in.GatewayOrderID, "pay_1")

	res, err := f.payments.Confirm(ctx, customer, req)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, entity.OrderProcessing, res.Status)
	assert.Equal(t, entity.PaymentCompleted, res.PaymentStatus)
	assert.Equal(t, 48, f.stock(t, "prod-001"))

	res, err = f.payments.Confirm(ctx, customer, req)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 48, f.stock(t, "prod-001"))
	assert.Equal(t, 1, f.countEvents(t, order.ID, "PaymentCompleted"))
	assert.Equal(t, 1, f.countNotifications(t, customer, entity.NotifyPaymentSuccess))
	assert.Equal(t, 1, f.pub.count("payments.completed"))

	intent, err := f.store.Payments().GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IntentCompleted, intent.Status)
	assert.Equal(t, "pay_1", intent.GatewayPaymentID)
	assert.Equal(t, "upi", intent.Method)
}

func TestConfirmRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "prod-001", 1)
	in := f.intent(t, order)

	_, err := f.payments.Confirm(ctx, customer, ConfirmRequest{GatewayOrderID: in.GatewayOrderID})
	assertCode(t, err, apperr.CodeValidation)

	bad := confirmRequest(in.GatewayOrderID, "pay_1")
	bad.Signature = gateway.Sign("wrong", gateway.PaymentMessage(in.GatewayOrderID, "pay_1"))
	_, err = f.payments.Confirm(ctx, customer, bad)
	assertCode(t, err, apperr.CodeSignatureMismatch)

	_, err = f.payments.Confirm(ctx, customer, confirmRequest("order_gw_missing", "pay_1"))
	assertCode(t, err, apperr.CodeNotFound)

	_, err = f.payments.Confirm(ctx, "user-other", confirmRequest(in.GatewayOrderID, "pay_1"))
	assertCode(t, err, apperr.CodeForbidden)

	assert.Equal(t, entity.PaymentPending, f.order(t, order.ID).PaymentStatus)
	assert.Equal(t, 50, f.stock(t, "prod-001"))
}

func TestWebhookThenConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "prod-001", 2)
	in := f.intent(t, order)

	body := webhookBody(EventPaymentCaptured, in.GatewayOrderID, "pay_1")
	require.NoError(t, f.payments.HandleWebhook(ctx, body, signWebhook(body), "evt_1"))
	assert.Equal(t, 48, f.stock(t, "prod-001"))
	assert.Equal(t, entity.OrderProcessing, f.order(t, order.ID).Status)

	res, err := f.payments.Confirm(ctx, customer, confirmRequest(in.GatewayOrderID, "pay_1"))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 48, f.stock(t, "prod-001"))
	assert.Equal(t, 1, f.countEvents(t, order.ID, "PaymentCompleted"))
}

func TestConfirmThenWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "prod-001", 3)
	res := f.confirm(t, order)
	require.True(t, res.Applied)

	intent, err := f.store.Payments().GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	body := webhookBody(EventPaymentCaptured, intent.GatewayOrderID, intent.GatewayPaymentID)
	require.NoError(t, f.payments.HandleWebhook(ctx, body, signWebhook(body), "evt_1"))

	assert.Equal(t, 47, f.stock(t, "prod-001"))
	assert.Equal(t, 1, f.countNotifications(t, customer, entity.NotifyPaymentSuccess))
}

func TestConcurrentDuplicateWebhooks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "prod-001", 2)
	in := f.intent(t, order)
	body := webhookBody(EventPaymentCaptured, in.GatewayOrderID, "pay_1")
	sig := signWebhook(body)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// distinct delivery ids so only the database guard deduplicates
			errs[i] = f.payments.HandleWebhook(ctx, body, sig, fmt.Sprintf("evt_%d", i))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 48, f.stock(t, "prod-001"))
	assert.Equal(t, 1, f.countEvents(t, order.ID, "PaymentCompleted"))
	assert.Equal(t, 1, f.countNotifications(t, customer, entity.NotifyPaymentSuccess))
}

func TestWebhookBadSignatureMutatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "prod-001", 2)
	in := f.intent(t, order)
	body := webhookBody(EventPaymentCaptured, in.GatewayOrderID, "pay_1")

	err := f.payments.HandleWebhook(ctx, body, gateway.Sign("not-the-secret", body), "evt_1")
	assertCode(t, err, apperr.CodeSignatureMismatch)
	err = f.payments.HandleWebhook(ctx, body, "", "evt_1")
	assertCode(t, err, apperr.CodeSignatureMismatch)

	intent, err := f.store.Payments().GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IntentPending, intent.Status)
	assert.Equal(t, entity.OrderPending, f.order(t, order.ID).Status)
	assert.Equal(t, 50, f.stock(t, "prod-001"))
}

func TestWebhookAcknowledgesMalformedAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, body := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"payload":{}}`),
		[]byte(`{"event":"payment.captured","payload":"nope"}`),
		[]byte(`{"event":"payment.captured","payload":{}}`),
		[]byte(`{"event":"order.paid","payload":{}}`),
		webhookBody(EventPaymentCaptured, "order_gw_unknown", "pay_1"),
	} {
		assert.NoError(t, f.payments.HandleWebhook(ctx, body, signWebhook(body), ""), string(body))
	}
}

func TestPaymentFailedWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "prod-001", 1)
	in := f.intent(t, order)

	body := webhookBody(EventPaymentFailed, in.GatewayOrderID, "pay_1")
	require.NoError(t, f.payments.HandleWebhook(ctx, body, signWebhook(body), "evt_1"))
	require.NoError(t, f.payments.HandleWebhook(ctx, body, signWebhook(body), "evt_2"))

	intent, err := f.store.Payments().GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IntentFailed, intent.Status)
	assert.Equal(t, "card declined", intent.FailureReason)
	assert.Equal(t, entity.PaymentFailed, f.order(t, order.ID).PaymentStatus)
	assert.Equal(t, 1, f.countNotifications(t, customer, entity.NotifyPaymentFailed))

	// a late capture does not resurrect a failed intent
	captured := webhookBody(EventPaymentCaptured, in.GatewayOrderID, "pay_2")
	require.NoError(t, f.payments.HandleWebhook(ctx, captured, signWebhook(captured), "evt_3"))
	assert.Equal(t, entity.PaymentFailed, f.order(t, order.ID).PaymentStatus)
	assert.Equal(t, 50, f.stock(t, "prod-001"))
}

func TestPaymentFailedAfterCompletionIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "prod-001", 1)
	f.confirm(t, order)

	intent, err := f.store.Payments().GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	body := webhookBody(EventPaymentFailed, intent.GatewayOrderID, "pay_x")
	require.NoError(t, f.payments.HandleWebhook(ctx, body, signWebhook(body), "evt_1"))

	got := f.order(t, order.ID)
	assert.Equal(t, entity.PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, entity.OrderProcessing, got.Status)
}

func TestCompletionAbortsWhenStockRunsOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.placeOrder(t, "prod-004", 10)
	second := f.placeOrder(t, "prod-004", 10)

	f.confirm(t, first)
	assert.Equal(t, 5, f.stock(t, "prod-004"))

	in := f.intent(t, second)
	_, err := f.payments.Confirm(ctx, customer, confirmRequest(in.GatewayOrderID, "pay_2"))
	assertCode(t, err, apperr.CodePaymentProcessingFailed)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	intent, err := f.store.Payments().GetByOrderID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IntentPending, intent.Status)
	got := f.order(t, second.ID)
	assert.Equal(t, entity.OrderPending, got.Status)
	assert.Equal(t, entity.PaymentPending, got.PaymentStatus)
	assert.Equal(t, 5, f.stock(t, "prod-004"))
	assert.Equal(t, 0, f.countEvents(t, second.ID, "PaymentCompleted"))
}

func TestCancelledOrderIgnoresLateCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "prod-001", 2)
	in := f.intent(t, order)

	_, err := f.orders.CancelOrder(ctx, customerCaller, order.ID, "found it cheaper")
	require.NoError(t, err)

	intent, err := f.store.Payments().GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IntentFailed, intent.Status)
	assert.Equal(t, "order cancelled", intent.FailureReason)

	_, err = f.payments.CreateIntent(ctx, customer, order.ID)
	assertCode(t, err, apperr.CodeInvalidState)

	body := webhookBody(EventPaymentCaptured, in.GatewayOrderID, "pay_late")
	require.NoError(t, f.payments.HandleWebhook(ctx, body, signWebhook(body), "evt_late"))

	res, err := f.payments.Confirm(ctx, customer, confirmRequest(in.GatewayOrderID, "pay_late"))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, entity.OrderCancelled, res.Status)

	got := f.order(t, order.ID)
	assert.Equal(t, entity.OrderCancelled, got.Status)
	assert.Equal(t, entity.PaymentPending, got.PaymentStatus)
	assert.Equal(t, 50, f.stock(t, "prod-001"))
	assert.Equal(t, 0, f.countNotifications(t, customer, entity.NotifyPaymentSuccess))
	assert.Equal(t, 0, f.countEvents(t, order.ID, "PaymentCompleted"))
}

func TestCompletionSkipsOrderClosedMeanwhile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "prod-001", 1)
	in := f.intent(t, order)

	// closed behind the service's back, so the intent is still PENDING
	ok, err := f.store.Orders().TransitionStatus(ctx, order.ID, []entity.OrderStatus{entity.OrderPending},
		entity.OrderCancelled, repository.OrderChanges{CancellationReason: "fraud check"})
	require.NoError(t, err)
	require.True(t, ok)

	body := webhookBody(EventPaymentCaptured, in.GatewayOrderID, "pay_1")
	require.NoError(t, f.payments.HandleWebhook(ctx, body, signWebhook(body), "evt_1"))

	intent, err := f.store.Payments().GetByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IntentPending, intent.Status)
	got := f.order(t, order.ID)
	assert.Equal(t, entity.OrderCancelled, got.Status)
	assert.Equal(t, entity.PaymentPending, got.PaymentStatus)
	assert.Equal(t, 50, f.stock(t, "prod-001"))
	assert.Equal(t, 0, f.countNotifications(t, customer, entity.NotifyPaymentSuccess))
}

func TestNotifierFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "prod-001", 1)
	f.pub.mu.Lock()
	f.pub.fail = errors.New("broker down")
	f.pub.mu.Unlock()

	res := f.confirm(t, order)
	assert.True(t, res.Applied)
	assert.Equal(t, entity.PaymentCompleted, f.order(t, order.ID).PaymentStatus)
	assert.Equal(t, 49, f.stock(t, "prod-001"))
	// notifications are stored directly, only broker deliveries failed
	assert.Equal(t, 1, f.countNotifications(t, customer, entity.NotifyPaymentSuccess))

	due, err := f.store.Outbox().FindDue(ctx, time.Now().Add(2*time.Minute), time.Now().Add(time.Hour), 10, 100)
	require.NoError(t, err)
	require.NotEmpty(t, due)
	for _, m := range due {
		assert.Equal(t, entity.OutboxFailed, m.Status)
		assert.Equal(t, "broker down", m.LastError)
	}
}

func TestCacheDeduplicator(t *testing.T) {
	ctx := context.Background()
	d := NewCacheDeduplicator(cache.NewMemoryCache("storefront-test"), time.Hour)

	seen, err := d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Remember(ctx, "evt_1"))
	seen, err = d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
}
