package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

type orderRepository struct {
	db DBTX
}

const orderColumns = `id, order_number, user_id, customer_email, subtotal, shipping_cost, tax, total,
	status, payment_status, shipping_address, tracking_number, cancellation_reason,
	delivered_at, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*entity.Order, error) {
	var (
		o                    entity.Order
		address              []byte
		delivered            nullTime
		createdAt, updatedAt nullTime
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.CustomerEmail,
		&o.Subtotal, &o.ShippingCost, &o.Tax, &o.Total,
		&o.Status, &o.PaymentStatus, &address, &o.TrackingNumber, &o.CancellationReason,
		&delivered, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	o.DeliveredAt = delivered.ptr()
	o.CreatedAt = createdAt.Time.UTC()
	o.UpdatedAt = updatedAt.Time.UTC()
	return &o, nil
}

func (r *orderRepository) Create(ctx context.Context, o *entity.Order) error {
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		o.ID, o.OrderNumber, o.UserID, o.CustomerEmail, o.Subtotal, o.ShippingCost, o.Tax, o.Total,
		o.Status, o.PaymentStatus, string(address), o.TrackingNumber, o.CancellationReason,
		nullable(o.DeliveredAt), o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, item := range o.Items {
		_, err = r.db.ExecContext(ctx,
			"INSERT INTO order_items (order_id, line_no, product_id, name, price, quantity, weight) VALUES ($1, $2, $3, $4, $5, $6, $7)",
			o.ID, i+1, item.ProductID, item.Name, item.Price, item.Quantity, item.Weight,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

func (r *orderRepository) NumberExists(ctx context.Context, number string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders WHERE order_number = $1", number).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check order number: %w", err)
	}
	return n > 0, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (*entity.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) FindByUser(ctx context.Context, userID string) ([]entity.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	orders := []entity.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}

	// Fetch items for each order
	for i := range orders {
		if orders[i].Items, err = r.items(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) items(ctx context.Context, orderID string) ([]entity.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT product_id, name, price, quantity, weight FROM order_items WHERE order_id = $1 ORDER BY line_no",
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []entity.OrderItem
	for rows.Next() {
		var item entity.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity, &item.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *orderRepository) TransitionStatus(ctx context.Context, id string, from []entity.OrderStatus, to entity.OrderStatus, changes repository.OrderChanges) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	args := []any{to, now(), changes.TrackingNumber, changes.CancellationReason, nullable(changes.DeliveredAt), id}
	for _, s := range from {
		args = append(args, s)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = $2,
			tracking_number = CASE WHEN $3 = '' THEN tracking_number ELSE $3 END,
			cancellation_reason = CASE WHEN $4 = '' THEN cancellation_reason ELSE $4 END,
			delivered_at = COALESCE($5, delivered_at)
		WHERE id = $6 AND status IN (`+placeholders(7, len(from))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	return affected(res)
}

func (r *orderRepository) Lock(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE orders SET updated_at = updated_at WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}
	return nil
}

func (r *orderRepository) MarkPaid(ctx context.Context, id string) (bool, error) {
	sources := entity.SourcesFor(entity.OrderProcessing, entity.ActorSystem)
	closed := entity.TerminalStatuses()

	args := []any{entity.PaymentCompleted, now(), entity.OrderProcessing, id, entity.PaymentPending}
	for _, s := range sources {
		args = append(args, s)
	}
	for _, s := range closed {
		args = append(args, s)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET payment_status = $1, updated_at = $2,
			status = CASE WHEN status IN (`+placeholders(6, len(sources))+`) THEN $3 ELSE status END
		WHERE id = $4 AND payment_status = $5 AND status NOT IN (`+placeholders(6+len(sources), len(closed))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}
	return affected(res)
}

func (r *orderRepository) SetPaymentStatus(ctx context.Context, id string, from, to entity.PaymentStatus) (bool, error) {
	if !entity.CanTransitionPayment(from, to) {
		return false, fmt.Errorf("payment status cannot move from %s to %s", from, to)
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = $2 WHERE id = $3 AND payment_status = $4",
		to, now(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}
	return affected(res)
}

func (r *orderRepository) MarkRefunded(ctx context.Context, id, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET payment_status = $1, status = $2, updated_at = $3,
			cancellation_reason = CASE WHEN $4 = '' THEN cancellation_reason ELSE $4 END
		WHERE id = $5 AND payment_status = $6`,
		entity.PaymentRefunded, entity.OrderCancelled, now(), reason, id, entity.PaymentCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark order refunded: %w", err)
	}
	return affected(res)
}
