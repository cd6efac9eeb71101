package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/apperr"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/gateway"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/notify"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

// Completion sources recorded on PaymentCompleted.
const (
	SourceClient  = "client"
	SourceWebhook = "webhook"
)

// PaymentConfig holds the gateway credentials the service signs and verifies with.
type PaymentConfig struct {
	Currency      string
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// IntentResponse is what the browser needs to open the gateway checkout.
type IntentResponse struct {
	OrderID        string `json:"orderId"`
	OrderNumber    string `json:"orderNumber"`
	GatewayOrderID string `json:"gatewayOrderId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"keyId"`
}

// ConfirmRequest is the gateway checkout result posted back by the browser.
type ConfirmRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
	Method           string `json:"method,omitempty"`
}

// ConfirmResult reports the order state after a confirmation. Applied is
// false when the payment had already been recorded.
type ConfirmResult struct {
	OrderID       string               `json:"orderId"`
	Status        entity.OrderStatus   `json:"status"`
	PaymentStatus entity.PaymentStatus `json:"paymentStatus"`
	Applied       bool                 `json:"applied"`
}

// PaymentService reconciles gateway payments with orders. Client
// confirmations and webhooks converge on one completion transition.
type PaymentService struct {
	store   repository.Store
	uow     unitOfWork
	gateway gateway.Client
	refunds *RefundService
	dedup   WebhookDeduplicator
	cfg     PaymentConfig
	logger  *slog.Logger
	clock   func() time.Time
}

func NewPaymentService(store repository.Store, dispatcher Dispatcher, gw gateway.Client, refunds *RefundService,
	dedup WebhookDeduplicator, cfg PaymentConfig, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		store:   store,
		uow:     unitOfWork{store: store, dispatcher: dispatcher},
		gateway: gw,
		refunds: refunds,
		dedup:   dedup,
		cfg:     cfg,
		logger:  logger,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateIntent opens a gateway order for an unpaid PENDING order. There is at
// most one intent per order; asking again returns the existing PENDING one.
func (s *PaymentService) CreateIntent(ctx context.Context, userID, orderID string) (_ *IntentResponse, err error) {
	ctx, span := startSpan(ctx, "PaymentService.CreateIntent")
	defer func() { endSpan(span, err) }()

	if orderID == "" {
		return nil, apperr.Validation("orderId is required")
	}
	order, err := s.store.Orders().Get(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && order.UserID != userID) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if order.Status != entity.OrderPending || order.PaymentStatus != entity.PaymentPending {
		return nil, apperr.InvalidState("order %s is %s with payment %s", order.OrderNumber, order.Status, order.PaymentStatus)
	}

	existing, err := s.store.Payments().GetByOrderID(ctx, orderID)
	switch {
	case err == nil:
		if existing.Status != entity.IntentPending {
			return nil, apperr.InvalidState("payment for order %s is already %s", order.OrderNumber, existing.Status)
		}
		return s.intentResponse(order, existing), nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to load payment intent: %w", err)
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		Amount:   entity.ToMinor(order.Total),
		Currency: s.cfg.Currency,
		Receipt:  order.OrderNumber,
	})
	if err != nil {
		return nil, apperr.Dependency(err, "payment gateway rejected the order")
	}

	now := s.clock()
	intent := &entity.PaymentIntent{
		ID:             uuid.NewString(),
		OrderID:        order.ID,
		GatewayOrderID: gwOrder.ID,
		Amount:         order.Total,
		Currency:       s.cfg.Currency,
		Status:         entity.IntentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Payments().Create(ctx, intent); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to save payment intent: %w", err)
		}
		// a concurrent request won; hand out its intent
		if intent, err = s.store.Payments().GetByOrderID(ctx, orderID); err != nil {
			return nil, fmt.Errorf("failed to load payment intent: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "payment intent created", "order_id", order.ID, "gateway_order_id", intent.GatewayOrderID)
	return s.intentResponse(order, intent), nil
}

func (s *PaymentService) intentResponse(order *entity.Order, intent *entity.PaymentIntent) *IntentResponse {
	return &IntentResponse{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		GatewayOrderID: intent.GatewayOrderID,
		Amount:         intent.AmountMinor(),
		Currency:       intent.Currency,
		KeyID:          s.cfg.KeyID,
	}
}

// Confirm verifies the checkout signature and completes the payment unless
// the webhook already did.
func (s *PaymentService) Confirm(ctx context.Context, userID string, req ConfirmRequest) (_ *ConfirmResult, err error) {
	ctx, span := startSpan(ctx, "PaymentService.Confirm")
	defer func() { endSpan(span, err) }()

	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		return nil, apperr.Validation("gatewayOrderId, gatewayPaymentId and signature are required")
	}
	if !gateway.VerifyPayment(s.cfg.KeySecret, req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		s.logger.WarnContext(ctx, "payment signature mismatch", "gateway_order_id", req.GatewayOrderID, "user_id", userID)
		return nil, apperr.SignatureMismatch()
	}

	intent, err := s.store.Payments().GetByGatewayOrderID(ctx, req.GatewayOrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("payment %s not found", req.GatewayOrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment intent: %w", err)
	}
	order, err := s.store.Orders().Get(ctx, intent.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order.UserID != userID {
		return nil, apperr.Forbidden("payment %s belongs to another user", req.GatewayOrderID)
	}

	applied, err := s.complete(ctx, intent, order, repository.IntentCompletion{
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
		Method:           req.Method,
	}, SourceClient)
	if err != nil {
		return nil, err
	}

	if order, err = s.store.Orders().Get(ctx, intent.OrderID); err != nil {
		return nil, fmt.Errorf("failed to reload order: %w", err)
	}
	return &ConfirmResult{OrderID: order.ID, Status: order.Status, PaymentStatus: order.PaymentStatus, Applied: applied}, nil
}

// complete is the single completion transition shared by the client and
// webhook paths. It reports false when the intent was no longer PENDING.
func (s *PaymentService) complete(ctx context.Context, intent *entity.PaymentIntent, order *entity.Order,
	c repository.IntentCompletion, source string) (bool, error) {
	ctx, span := startSpan(ctx, "PaymentService.complete")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("payment.source", source))

	now := s.clock()
	err := s.uow.run(ctx, order.ID, func(tx repository.Store, b *notify.Batch) error {
		ok, err := tx.Payments().Complete(ctx, intent.GatewayOrderID, c)
		if err != nil {
			return fmt.Errorf("failed to complete intent: %w", err)
		}
		if !ok {
			return errNoop
		}

		if ok, err = tx.Orders().MarkPaid(ctx, order.ID); err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		if !ok {
			return errOrderClosed
		}

		for _, item := range order.Items {
			ok, err := tx.Products().DecrementStock(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return fmt.Errorf("failed to decrement stock for %s: %w", item.ProductID, err)
			}
			if !ok {
				return fmt.Errorf("insufficient stock for %s", item.Name)
			}
		}

		completed := entity.PaymentCompletedEvent{
			OrderID:          order.ID,
			OrderNumber:      order.OrderNumber,
			UserID:           order.UserID,
			GatewayOrderID:   intent.GatewayOrderID,
			GatewayPaymentID: c.GatewayPaymentID,
			Amount:           intent.Amount,
			Source:           source,
			CompletedAt:      now,
		}
		if err := appendHistory(ctx, tx, order.ID, completed); err != nil {
			return err
		}
		b.Event(messaging.TopicPaymentsCompleted, completed).
			Notify(order.UserID, entity.NotifyPaymentSuccess, "Payment received",
				fmt.Sprintf("We received your payment for order %s.", order.OrderNumber)).
			Email(orderEmail(order, "payment_success", "Payment confirmed for "+order.OrderNumber,
				map[string]string{"paymentId": c.GatewayPaymentID}))
		return nil
	})
	switch {
	case errors.Is(err, errNoop):
		s.logger.InfoContext(ctx, "payment already applied", "order_id", order.ID, "source", source)
		return false, nil
	case errors.Is(err, errOrderClosed):
		s.logger.WarnContext(ctx, "payment for a closed order ignored", "order_id", order.ID,
			"gateway_payment_id", c.GatewayPaymentID, "source", source)
		return false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "payment completion failed", "order_id", order.ID, "source", source, "error", err)
		span.RecordError(err)
		return false, apperr.PaymentProcessingFailed(err)
	}

	s.logger.InfoContext(ctx, "payment completed", "order_id", order.ID, "gateway_payment_id", c.GatewayPaymentID, "source", source)
	return true, nil
}

// fail records a failed payment. A payment that already completed is left alone.
func (s *PaymentService) fail(ctx context.Context, intent *entity.PaymentIntent, order *entity.Order, paymentID, reason string) (bool, error) {
	now := s.clock()
	err := s.uow.run(ctx, order.ID, func(tx repository.Store, b *notify.Batch) error {
		ok, err := tx.Payments().Fail(ctx, intent.GatewayOrderID, paymentID, reason)
		if err != nil {
			return fmt.Errorf("failed to fail intent: %w", err)
		}
		if !ok {
			return errNoop
		}
		if _, err := tx.Orders().SetPaymentStatus(ctx, order.ID, entity.PaymentPending, entity.PaymentFailed); err != nil {
			return fmt.Errorf("failed to update order payment status: %w", err)
		}
		failed := entity.PaymentFailedEvent{
			OrderID:        order.ID,
			UserID:         order.UserID,
			GatewayOrderID: intent.GatewayOrderID,
			Reason:         reason,
			FailedAt:       now,
		}
		if err := appendHistory(ctx, tx, order.ID, failed); err != nil {
			return err
		}
		b.Event(messaging.TopicPaymentsFailed, failed).
			Notify(order.UserID, entity.NotifyPaymentFailed, "Payment failed",
				fmt.Sprintf("Your payment for order %s did not go through.", order.OrderNumber)).
			Email(orderEmail(order, "payment_failed", "Payment failed for "+order.OrderNumber,
				map[string]string{"reason": reason}))
		return nil
	})
	if errors.Is(err, errNoop) {
		current, lookupErr := s.store.Payments().GetByGatewayOrderID(ctx, intent.GatewayOrderID)
		if lookupErr == nil && current.Status == entity.IntentCompleted {
			s.logger.WarnContext(ctx, "payment failure reported for a completed payment, ignoring",
				"order_id", order.ID, "gateway_order_id", intent.GatewayOrderID)
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.InfoContext(ctx, "payment failed", "order_id", order.ID, "reason", reason)
	return true, nil
}
