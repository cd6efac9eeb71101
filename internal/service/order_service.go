package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/apperr"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/config"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/notify"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

const orderNumberAttempts = 5

// OrderService orchestrates order placement, fulfilment and cancellation.
type OrderService struct {
	store   repository.Store
	uow     unitOfWork
	pricing config.Pricing
	logger  *slog.Logger
	clock   func() time.Time
}

func NewOrderService(store repository.Store, dispatcher Dispatcher, pricing config.Pricing, logger *slog.Logger) *OrderService {
	return &OrderService{
		store:   store,
		uow:     unitOfWork{store: store, dispatcher: dispatcher},
		pricing: pricing,
		logger:  logger,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// GetProducts returns the catalog.
func (s *OrderService) GetProducts(ctx context.Context) ([]entity.Product, error) {
	products, err := s.store.Products().FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// PlaceOrder validates the cart against the catalog and creates a PENDING
// order. Stock is checked but not reserved; it is decremented on payment.
func (s *OrderService) PlaceOrder(ctx context.Context, cmd entity.PlaceOrder) (_ *entity.Order, err error) {
	ctx, span := startSpan(ctx, "OrderService.PlaceOrder")
	defer func() { endSpan(span, err) }()

	s.logger.InfoContext(ctx, "placing order", "user_id", cmd.UserID, "items", len(cmd.Items))

	if len(cmd.Items) == 0 {
		return nil, apperr.Validation("order must have at least one item")
	}
	wanted := make(map[string]int, len(cmd.Items))
	for _, line := range cmd.Items {
		if line.ProductID == "" {
			return nil, apperr.Validation("productId is required")
		}
		if line.Quantity <= 0 {
			return nil, apperr.Validation("quantity for %s must be positive", line.ProductID)
		}
		wanted[line.ProductID] += line.Quantity
	}

	if cmd.ShippingAddressID == "" {
		return nil, apperr.Validation("invalid address")
	}
	address, err := s.store.Addresses().Get(ctx, cmd.ShippingAddressID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && address.UserID != cmd.UserID) {
		return nil, apperr.Validation("invalid address")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load address: %w", err)
	}

	products := make(map[string]*entity.Product, len(wanted))
	for id, qty := range wanted {
		p, err := s.store.Products().Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("product %s not found", id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load product %s: %w", id, err)
		}
		if !p.Active {
			return nil, apperr.ProductUnavailable(p.Name)
		}
		if qty > p.Stock {
			return nil, apperr.OutOfStock(p.Name, p.Stock)
		}
		products[id] = p
	}

	items := make([]entity.OrderItem, 0, len(cmd.Items))
	subtotal := decimal.Zero
	for _, line := range cmd.Items {
		p := products[line.ProductID]
		item := entity.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  line.Quantity,
			Weight:    line.Weight,
		}
		items = append(items, item)
		subtotal = subtotal.Add(item.LineTotal())
	}
	quote := PriceOrder(s.pricing, subtotal)

	now := s.clock()
	order := &entity.Order{
		ID:              uuid.NewString(),
		UserID:          cmd.UserID,
		CustomerEmail:   cmd.CustomerEmail,
		Items:           items,
		Subtotal:        quote.Subtotal,
		ShippingCost:    quote.Shipping,
		Tax:             quote.Tax,
		Total:           quote.Total,
		Status:          entity.OrderPending,
		PaymentStatus:   entity.PaymentPending,
		ShippingAddress: address.Snapshot(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for attempt := 1; ; attempt++ {
		if order.OrderNumber, err = s.uniqueOrderNumber(ctx, now); err != nil {
			return nil, err
		}
		err = s.uow.run(ctx, order.ID, func(tx repository.Store, b *notify.Batch) error {
			if err := tx.Orders().Create(ctx, order); err != nil {
				return err
			}
			placed := entity.OrderPlacedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				UserID:      order.UserID,
				Items:       order.Items,
				Total:       order.Total,
				PlacedAt:    now,
			}
			if err := appendHistory(ctx, tx, order.ID, placed); err != nil {
				return err
			}
			b.Event(messaging.TopicOrdersPlaced, placed).
				Notify(order.UserID, entity.NotifyOrderPlaced, "Order placed",
					fmt.Sprintf("Your order %s has been placed and is awaiting payment.", order.OrderNumber)).
				Email(orderEmail(order, "order_placed", "We received your order "+order.OrderNumber, nil))
			return nil
		})
		if errors.Is(err, repository.ErrDuplicate) && attempt < orderNumberAttempts {
			s.logger.WarnContext(ctx, "order number collision, retrying", "order_number", order.OrderNumber)
			continue
		}
		break
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save order: %w", err)
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	s.logger.InfoContext(ctx, "order placed", "order_id", order.ID, "order_number", order.OrderNumber, "total", order.Total.String())
	return order, nil
}

func (s *OrderService) uniqueOrderNumber(ctx context.Context, now time.Time) (string, error) {
	for i := 0; i < orderNumberAttempts; i++ {
		number, err := NewOrderNumber(now)
		if err != nil {
			return "", err
		}
		exists, err := s.store.Orders().NumberExists(ctx, number)
		if err != nil {
			return "", fmt.Errorf("failed to check order number: %w", err)
		}
		if !exists {
			return number, nil
		}
	}
	return "", fmt.Errorf("failed to allocate a unique order number after %d attempts", orderNumberAttempts)
}

// GetOrder returns an order visible to the caller. Orders of other users are
// reported as missing.
func (s *OrderService) GetOrder(ctx context.Context, caller Caller, id string) (*entity.Order, error) {
	order, err := s.store.Orders().Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if !caller.owns(order.UserID) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return order, nil
}

// ListOrders returns the caller's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]entity.Order, error) {
	orders, err := s.store.Orders().FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// History rebuilds the order timeline from its recorded events.
func (s *OrderService) History(ctx context.Context, caller Caller, id string) (*entity.OrderTimeline, error) {
	if _, err := s.GetOrder(ctx, caller, id); err != nil {
		return nil, err
	}
	records, err := s.store.Events().LoadEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load order history: %w", err)
	}
	timeline := entity.NewOrderTimeline(id)
	if err := timeline.Rehydrate(records); err != nil {
		return nil, fmt.Errorf("failed to rebuild order history: %w", err)
	}
	return timeline, nil
}

// CancelOrder cancels the caller's own order.
func (s *OrderService) CancelOrder(ctx context.Context, caller Caller, id, reason string) (_ *entity.Order, err error) {
	ctx, span := startSpan(ctx, "OrderService.CancelOrder")
	defer func() { endSpan(span, err) }()

	order, err := s.GetOrder(ctx, Caller{UserID: caller.UserID}, id)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, order, reason, entity.ActorCustomer)
}

// AdminCancelOrder cancels any non-terminal order.
func (s *OrderService) AdminCancelOrder(ctx context.Context, id, reason string) (_ *entity.Order, err error) {
	ctx, span := startSpan(ctx, "OrderService.AdminCancelOrder")
	defer func() { endSpan(span, err) }()

	order, err := s.GetOrder(ctx, Caller{Admin: true}, id)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, order, reason, entity.ActorAdmin)
}

func (s *OrderService) cancel(ctx context.Context, order *entity.Order, reason string, actor entity.Actor) (*entity.Order, error) {
	if !entity.CanTransition(order.Status, entity.OrderCancelled, actor) {
		return nil, apperr.InvalidTransition(order.Status, entity.OrderCancelled)
	}

	now := s.clock()
	err := s.uow.run(ctx, order.ID, func(tx repository.Store, b *notify.Batch) error {
		if err := voidIntent(ctx, tx, order.ID); err != nil {
			return err
		}
		ok, err := tx.Orders().TransitionStatus(ctx, order.ID, []entity.OrderStatus{order.Status}, entity.OrderCancelled,
			repository.OrderChanges{CancellationReason: reason})
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidTransition(order.Status, entity.OrderCancelled)
		}
		cancelled := entity.OrderCancelledEvent{
			OrderID:     order.ID,
			UserID:      order.UserID,
			From:        order.Status,
			Reason:      reason,
			Actor:       actor,
			CancelledAt: now,
		}
		if err := appendHistory(ctx, tx, order.ID, cancelled); err != nil {
			return err
		}
		b.Event(messaging.TopicOrdersCancelled, cancelled).
			Notify(order.UserID, entity.NotifyOrderCancelled, "Order cancelled",
				fmt.Sprintf("Your order %s has been cancelled.", order.OrderNumber)).
			Email(orderEmail(order, "order_cancelled", "Your order "+order.OrderNumber+" was cancelled",
				map[string]string{"reason": reason}))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "order cancelled", "order_id", order.ID, "from", order.Status, "actor", actor)
	return s.reload(ctx, order.ID)
}

// voidIntent fails a still PENDING payment intent so a late capture for a
// cancelled order finds nothing to complete.
func voidIntent(ctx context.Context, tx repository.Store, orderID string) error {
	intent, err := tx.Payments().GetByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load payment intent: %w", err)
	}
	if _, err := tx.Payments().Fail(ctx, intent.GatewayOrderID, "", "order cancelled"); err != nil {
		return fmt.Errorf("failed to void payment intent: %w", err)
	}
	return nil
}

// UpdateStatus moves an order one fulfilment step forward on behalf of an admin.
func (s *OrderService) UpdateStatus(ctx context.Context, adminID, id string, to entity.OrderStatus, trackingNumber string) (_ *entity.Order, err error) {
	ctx, span := startSpan(ctx, "OrderService.UpdateStatus")
	defer func() { endSpan(span, err) }()

	if !to.Valid() {
		return nil, apperr.Validation("unknown order status %q", to)
	}
	order, err := s.GetOrder(ctx, Caller{Admin: true}, id)
	if err != nil {
		return nil, err
	}
	if to == entity.OrderCancelled {
		return s.cancel(ctx, order, "", entity.ActorAdmin)
	}
	if !entity.CanTransition(order.Status, to, entity.ActorAdmin) {
		return nil, apperr.InvalidTransition(order.Status, to)
	}

	now := s.clock()
	changes := repository.OrderChanges{TrackingNumber: trackingNumber}
	switch to {
	case entity.OrderShipped:
		if trackingNumber == "" {
			return nil, apperr.Validation("trackingNumber is required to ship an order")
		}
	case entity.OrderDelivered:
		changes.DeliveredAt = &now
	}

	err = s.uow.run(ctx, order.ID, func(tx repository.Store, b *notify.Batch) error {
		ok, err := tx.Orders().TransitionStatus(ctx, order.ID, []entity.OrderStatus{order.Status}, to, changes)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidTransition(order.Status, to)
		}
		changed := entity.OrderStatusChangedEvent{
			OrderID:        order.ID,
			UserID:         order.UserID,
			From:           order.Status,
			To:             to,
			TrackingNumber: trackingNumber,
			Actor:          entity.ActorAdmin,
			ChangedAt:      now,
		}
		if err := appendHistory(ctx, tx, order.ID, changed); err != nil {
			return err
		}
		b.Event(messaging.TopicOrdersStatus, changed).
			Notify(order.UserID, entity.NotifyOrderStatus, "Order "+statusTitle(to),
				fmt.Sprintf("Your order %s is now %s.", order.OrderNumber, to)).
			Email(orderEmail(order, "order_status", "Order "+order.OrderNumber+" update",
				map[string]string{"status": string(to), "trackingNumber": trackingNumber}))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "order status updated", "order_id", order.ID, "from", order.Status, "to", to, "admin_id", adminID)
	return s.reload(ctx, order.ID)
}

// ListNotifications returns the caller's latest in-app notifications.
func (s *OrderService) ListNotifications(ctx context.Context, userID string, limit int) ([]entity.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := s.store.Notifications().FindByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return list, nil
}

func (s *OrderService) reload(ctx context.Context, id string) (*entity.Order, error) {
	order, err := s.store.Orders().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload order: %w", err)
	}
	return order, nil
}

func statusTitle(s entity.OrderStatus) string {
	switch s {
	case entity.OrderConfirmed:
		return "confirmed"
	case entity.OrderShipped:
		return "shipped"
	case entity.OrderDelivered:
		return "delivered"
	}
	return "updated"
}
