package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/apperr"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/gateway"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/notify"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

// payoutLease is how long a payout claim blocks other attempts on the same
// refund before it is considered abandoned.
const payoutLease = 5 * time.Minute

// RefundService runs the refund workflow: request, admin decision, payout.
type RefundService struct {
	store        repository.Store
	uow          unitOfWork
	gateway      gateway.Client
	returnWindow time.Duration
	logger       *slog.Logger
	clock        func() time.Time
}

func NewRefundService(store repository.Store, dispatcher Dispatcher, gw gateway.Client, returnWindow time.Duration, logger *slog.Logger) *RefundService {
	return &RefundService{
		store:        store,
		uow:          unitOfWork{store: store, dispatcher: dispatcher},
		gateway:      gw,
		returnWindow: returnWindow,
		logger:       logger,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

// RequestRefund opens the single refund allowed for a paid order. Customers
// may refund their own orders; admins may open one on any order.
func (s *RefundService) RequestRefund(ctx context.Context, caller Caller, orderID, reason string) (_ *entity.Refund, err error) {
	ctx, span := startSpan(ctx, "RefundService.RequestRefund")
	defer func() { endSpan(span, err) }()

	if orderID == "" || reason == "" {
		return nil, apperr.Validation("orderId and reason are required")
	}
	order, err := s.store.Orders().Get(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !caller.owns(order.UserID)) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	actor := entity.ActorCustomer
	if caller.Admin {
		actor = entity.ActorAdmin
	}

	if _, err := s.store.Refunds().GetByOrderID(ctx, orderID); err == nil {
		return nil, apperr.DuplicateRefund(order.OrderNumber)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load refund: %w", err)
	}

	if order.PaymentStatus != entity.PaymentCompleted {
		return nil, apperr.InvalidState("order %s has no completed payment to refund", order.OrderNumber)
	}
	now := s.clock()
	if order.Status == entity.OrderDelivered && order.DeliveredAt != nil && now.Sub(*order.DeliveredAt) > s.returnWindow {
		return nil, apperr.ReturnWindowExpired(int(math.Round(s.returnWindow.Hours() / 24)))
	}

	refund := &entity.Refund{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		UserID:      order.UserID,
		Amount:      order.Total,
		Reason:      reason,
		Status:      entity.RefundPending,
		RequestedAt: now,
	}
	err = s.uow.run(ctx, order.ID, func(tx repository.Store, b *notify.Batch) error {
		if err := tx.Refunds().Create(ctx, refund); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.DuplicateRefund(order.OrderNumber)
			}
			return fmt.Errorf("failed to save refund: %w", err)
		}
		requested := entity.RefundRequestedEvent{
			RefundID:    refund.ID,
			OrderID:     order.ID,
			UserID:      refund.UserID,
			Amount:      refund.Amount,
			Reason:      reason,
			RequestedBy: caller.UserID,
			Actor:       actor,
			RequestedAt: now,
		}
		if err := appendHistory(ctx, tx, order.ID, requested); err != nil {
			return err
		}
		b.Event(messaging.TopicRefundsRequested, requested).
			Notify(refund.UserID, entity.NotifyRefundRequested, "Refund requested",
				fmt.Sprintf("We received your refund request for order %s.", order.OrderNumber)).
			Email(orderEmail(order, "refund_requested", "Refund request for "+order.OrderNumber,
				map[string]string{"reason": reason}))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "refund requested", "refund_id", refund.ID, "order_id", order.ID, "requested_by", caller.UserID)
	return refund, nil
}

// ProcessRefund applies an admin decision to a PENDING refund. Approval marks
// the order payment REFUNDED and cancels the order.
func (s *RefundService) ProcessRefund(ctx context.Context, adminID, refundID string, action entity.RefundAction, notes string) (_ *entity.Refund, err error) {
	ctx, span := startSpan(ctx, "RefundService.ProcessRefund")
	defer func() { endSpan(span, err) }()

	target, ok := action.Target()
	if !ok {
		return nil, apperr.Validation("action must be APPROVE or REJECT")
	}
	refund, err := s.getRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if !entity.CanTransitionRefund(refund.Status, target) {
		return nil, apperr.AlreadyProcessed(refund.ID)
	}
	order, err := s.store.Orders().Get(ctx, refund.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if target == entity.RefundApproved && !entity.CanTransitionPayment(order.PaymentStatus, entity.PaymentRefunded) {
		return nil, apperr.InvalidState("order %s payment is %s and cannot be refunded", order.OrderNumber, order.PaymentStatus)
	}

	now := s.clock()
	err = s.uow.run(ctx, order.ID, func(tx repository.Store, b *notify.Batch) error {
		ok, err := tx.Refunds().Transition(ctx, refund.ID, refund.Status, target, repository.RefundChanges{
			ProcessedBy: adminID,
			Notes:       notes,
			ProcessedAt: &now,
		})
		if err != nil {
			return fmt.Errorf("failed to update refund: %w", err)
		}
		if !ok {
			return apperr.AlreadyProcessed(refund.ID)
		}

		var (
			event   entity.Event
			typ     entity.NotificationType
			title   string
			message string
		)
		if target == entity.RefundApproved {
			ok, err := tx.Orders().MarkRefunded(ctx, order.ID, "refund approved")
			if err != nil {
				return fmt.Errorf("failed to mark order refunded: %w", err)
			}
			if !ok {
				return apperr.InvalidState("order %s payment is no longer refundable", order.OrderNumber)
			}
			event = entity.RefundApprovedEvent{RefundID: refund.ID, OrderID: order.ID, UserID: refund.UserID,
				ProcessedBy: adminID, Notes: notes, ProcessedAt: now}
			typ, title = entity.NotifyRefundApproved, "Refund approved"
			message = fmt.Sprintf("Your refund for order %s was approved. The money is on its way.", order.OrderNumber)
		} else {
			event = entity.RefundRejectedEvent{RefundID: refund.ID, OrderID: order.ID, UserID: refund.UserID,
				ProcessedBy: adminID, Notes: notes, ProcessedAt: now}
			typ, title = entity.NotifyRefundRejected, "Refund rejected"
			message = fmt.Sprintf("Your refund for order %s was rejected.", order.OrderNumber)
			if notes != "" {
				message += " " + notes
			}
		}
		if err := appendHistory(ctx, tx, order.ID, event); err != nil {
			return err
		}
		b.Event(messaging.TopicRefundsProcessed, event).
			Notify(refund.UserID, typ, title, message).
			Email(orderEmail(order, "refund_"+string(target), title+" for "+order.OrderNumber,
				map[string]string{"notes": notes}))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "refund processed", "refund_id", refund.ID, "status", target, "admin_id", adminID)
	return s.getRefund(ctx, refund.ID)
}

// CompleteRefund pays out an APPROVED refund through the gateway. The payout
// is claimed first so concurrent calls reach the gateway once; the refund id
// doubles as the gateway idempotency key.
func (s *RefundService) CompleteRefund(ctx context.Context, adminID, refundID string) (_ *entity.Refund, err error) {
	ctx, span := startSpan(ctx, "RefundService.CompleteRefund")
	defer func() { endSpan(span, err) }()

	refund, err := s.getRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if !entity.CanTransitionRefund(refund.Status, entity.RefundCompleted) {
		if refund.Status.IsTerminal() {
			return nil, apperr.AlreadyProcessed(refund.ID)
		}
		return nil, apperr.InvalidState("refund %s must be approved before it is paid out", refund.ID)
	}

	intent, err := s.store.Payments().GetByOrderID(ctx, refund.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment intent: %w", err)
	}
	if intent.GatewayPaymentID == "" {
		return nil, apperr.InvalidState("order %s has no captured payment", refund.OrderID)
	}

	now := s.clock()
	claimed, err := s.store.Refunds().ClaimPayout(ctx, refund.ID, now, now.Add(-payoutLease))
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, apperr.AlreadyProcessed(refund.ID)
	}
	gwRefund, err := s.gateway.Refund(ctx, intent.GatewayPaymentID, entity.ToMinor(refund.Amount), refund.ID)
	if err != nil {
		if relErr := s.store.Refunds().ReleasePayout(context.WithoutCancel(ctx), refund.ID); relErr != nil {
			s.logger.ErrorContext(ctx, "failed to release refund payout", "refund_id", refund.ID, "error", relErr)
		}
		return nil, apperr.Dependency(err, "payment gateway refused the refund")
	}
	s.logger.InfoContext(ctx, "gateway refund issued", "refund_id", refund.ID, "gateway_refund_id", gwRefund.ID, "admin_id", adminID)

	if _, err := s.markCompleted(ctx, refund); err != nil {
		return nil, err
	}
	return s.getRefund(ctx, refund.ID)
}

// CompleteByPayment marks the APPROVED refund of a captured payment as
// COMPLETED without calling the gateway. It reports false when there was
// nothing to do.
func (s *RefundService) CompleteByPayment(ctx context.Context, gatewayPaymentID string) (bool, error) {
	intent, err := s.store.Payments().GetByGatewayPaymentID(ctx, gatewayPaymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, apperr.NotFound("payment %s not found", gatewayPaymentID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to load payment intent: %w", err)
	}
	refund, err := s.store.Refunds().GetByOrderID(ctx, intent.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, apperr.NotFound("refund for payment %s not found", gatewayPaymentID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to load refund: %w", err)
	}
	if refund.Status != entity.RefundApproved {
		s.logger.InfoContext(ctx, "refund not awaiting payout", "refund_id", refund.ID, "status", refund.Status)
		return false, nil
	}
	return s.markCompleted(ctx, refund)
}

func (s *RefundService) markCompleted(ctx context.Context, refund *entity.Refund) (bool, error) {
	order, err := s.store.Orders().Get(ctx, refund.OrderID)
	if err != nil {
		return false, fmt.Errorf("failed to load order: %w", err)
	}
	now := s.clock()
	err = s.uow.run(ctx, order.ID, func(tx repository.Store, b *notify.Batch) error {
		ok, err := tx.Refunds().Transition(ctx, refund.ID, entity.RefundApproved, entity.RefundCompleted,
			repository.RefundChanges{CompletedAt: &now})
		if err != nil {
			return fmt.Errorf("failed to complete refund: %w", err)
		}
		if !ok {
			return errNoop
		}
		completed := entity.RefundCompletedEvent{RefundID: refund.ID, OrderID: order.ID, UserID: refund.UserID, CompletedAt: now}
		if err := appendHistory(ctx, tx, order.ID, completed); err != nil {
			return err
		}
		b.Event(messaging.TopicRefundsCompleted, completed).
			Notify(refund.UserID, entity.NotifyRefundCompleted, "Refund completed",
				fmt.Sprintf("Your refund of %s for order %s has been paid out.", refund.Amount.StringFixed(2), order.OrderNumber)).
			Email(orderEmail(order, "refund_completed", "Refund completed for "+order.OrderNumber, nil))
		return nil
	})
	if errors.Is(err, errNoop) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.InfoContext(ctx, "refund completed", "refund_id", refund.ID, "order_id", order.ID)
	return true, nil
}

func (s *RefundService) getRefund(ctx context.Context, id string) (*entity.Refund, error) {
	refund, err := s.store.Refunds().Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("refund %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load refund: %w", err)
	}
	return refund, nil
}
