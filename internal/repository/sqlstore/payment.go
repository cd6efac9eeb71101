package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

type paymentRepository struct {
	db DBTX
}

const intentColumns = `id, order_id, gateway_order_id, gateway_payment_id, amount, currency, status,
	method, signature, failure_reason, created_at, updated_at`

func scanIntent(row interface{ Scan(...any) error }) (*entity.PaymentIntent, error) {
	var (
		p                    entity.PaymentIntent
		createdAt, updatedAt nullTime
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.GatewayOrderID, &p.GatewayPaymentID, &p.Amount, &p.Currency, &p.Status,
		&p.Method, &p.Signature, &p.FailureReason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = createdAt.Time.UTC()
	p.UpdatedAt = updatedAt.Time.UTC()
	return &p, nil
}

func (r *paymentRepository) Create(ctx context.Context, p *entity.PaymentIntent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_intents (`+intentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.OrderID, p.GatewayOrderID, p.GatewayPaymentID, p.Amount, p.Currency, p.Status,
		p.Method, p.Signature, p.FailureReason, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment intent: %w", err)
	}
	return nil
}

func (r *paymentRepository) getBy(ctx context.Context, column, value string) (*entity.PaymentIntent, error) {
	p, err := scanIntent(r.db.QueryRowContext(ctx,
		"SELECT "+intentColumns+" FROM payment_intents WHERE "+column+" = $1", value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent by %s: %w", column, err)
	}
	return p, nil
}

func (r *paymentRepository) GetByOrderID(ctx context.Context, orderID string) (*entity.PaymentIntent, error) {
	return r.getBy(ctx, "order_id", orderID)
}

func (r *paymentRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*entity.PaymentIntent, error) {
	return r.getBy(ctx, "gateway_order_id", gatewayOrderID)
}

func (r *paymentRepository) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*entity.PaymentIntent, error) {
	if gatewayPaymentID == "" {
		return nil, repository.ErrNotFound
	}
	return r.getBy(ctx, "gateway_payment_id", gatewayPaymentID)
}

func (r *paymentRepository) Complete(ctx context.Context, gatewayOrderID string, c repository.IntentCompletion) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET status = $1, gateway_payment_id = $2, signature = $3, method = $4, updated_at = $5
		WHERE gateway_order_id = $6 AND status = $7`,
		entity.IntentCompleted, c.GatewayPaymentID, c.Signature, c.Method, now(), gatewayOrderID, entity.IntentPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete payment intent: %w", err)
	}
	return affected(res)
}

func (r *paymentRepository) Fail(ctx context.Context, gatewayOrderID, paymentID, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET status = $1, failure_reason = $2, updated_at = $3,
			gateway_payment_id = CASE WHEN $4 = '' THEN gateway_payment_id ELSE $4 END
		WHERE gateway_order_id = $5 AND status = $6`,
		entity.IntentFailed, reason, now(), paymentID, gatewayOrderID, entity.IntentPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to fail payment intent: %w", err)
	}
	return affected(res)
}
