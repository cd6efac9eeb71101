package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

type refundRepository struct {
	db DBTX
}

const refundColumns = `id, order_id, user_id, amount, reason, status, notes, processed_by,
	requested_at, processed_at, completed_at`

func scanRefund(row interface{ Scan(...any) error }) (*entity.Refund, error) {
	var (
		rf                                  entity.Refund
		requestedAt, processedAt, completed nullTime
	)
	err := row.Scan(&rf.ID, &rf.OrderID, &rf.UserID, &rf.Amount, &rf.Reason, &rf.Status, &rf.Notes, &rf.ProcessedBy,
		&requestedAt, &processedAt, &completed)
	if err != nil {
		return nil, err
	}
	rf.RequestedAt = requestedAt.Time.UTC()
	rf.ProcessedAt = processedAt.ptr()
	rf.CompletedAt = completed.ptr()
	return &rf, nil
}

func (r *refundRepository) Create(ctx context.Context, rf *entity.Refund) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refunds (`+refundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rf.ID, rf.OrderID, rf.UserID, rf.Amount, rf.Reason, rf.Status, rf.Notes, rf.ProcessedBy,
		rf.RequestedAt.UTC(), nullable(rf.ProcessedAt), nullable(rf.CompletedAt),
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}
	return nil
}

func (r *refundRepository) getBy(ctx context.Context, column, value string) (*entity.Refund, error) {
	rf, err := scanRefund(r.db.QueryRowContext(ctx,
		"SELECT "+refundColumns+" FROM refunds WHERE "+column+" = $1", value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refund by %s: %w", column, err)
	}
	return rf, nil
}

func (r *refundRepository) Get(ctx context.Context, id string) (*entity.Refund, error) {
	return r.getBy(ctx, "id", id)
}

func (r *refundRepository) GetByOrderID(ctx context.Context, orderID string) (*entity.Refund, error) {
	return r.getBy(ctx, "order_id", orderID)
}

func (r *refundRepository) Transition(ctx context.Context, id string, from, to entity.RefundStatus, changes repository.RefundChanges) (bool, error) {
	if !entity.CanTransitionRefund(from, to) {
		return false, fmt.Errorf("refund cannot move from %s to %s", from, to)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE refunds SET status = $1,
			processed_by = CASE WHEN $2 = '' THEN processed_by ELSE $2 END,
			notes = CASE WHEN $3 = '' THEN notes ELSE $3 END,
			processed_at = COALESCE($4, processed_at),
			completed_at = COALESCE($5, completed_at)
		WHERE id = $6 AND status = $7`,
		to, changes.ProcessedBy, changes.Notes, nullable(changes.ProcessedAt), nullable(changes.CompletedAt), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update refund status: %w", err)
	}
	return affected(res)
}

func (r *refundRepository) ClaimPayout(ctx context.Context, id string, at, staleBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refunds SET payout_claimed_at = $1
		WHERE id = $2 AND status = $3 AND (payout_claimed_at IS NULL OR payout_claimed_at < $4)`,
		at.UTC(), id, entity.RefundApproved, staleBefore.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim refund payout: %w", err)
	}
	return affected(res)
}

func (r *refundRepository) ReleasePayout(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE refunds SET payout_claimed_at = NULL WHERE id = $1 AND status = $2",
		id, entity.RefundApproved,
	)
	if err != nil {
		return fmt.Errorf("failed to release refund payout: %w", err)
	}
	return nil
}
