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

// Outbox timestamps are unix nanoseconds so lease and age comparisons stay
// plain integer comparisons on both dialects.
type outboxRepository struct {
	db DBTX
}

const (
	outboxColumns    = "id, kind, topic, aggregate_id, payload, status, attempts, last_error, created_at"
	outboxProcessing = "PROCESSING"
)

func scanOutbox(row interface{ Scan(...any) error }) (*entity.OutboxMessage, error) {
	var (
		m         entity.OutboxMessage
		payload   []byte
		createdAt int64
	)
	if err := row.Scan(&m.ID, &m.Kind, &m.Topic, &m.AggregateID, &payload, &m.Status, &m.Attempts, &m.LastError, &createdAt); err != nil {
		return nil, err
	}
	m.Payload = payload
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	return &m, nil
}

func (r *outboxRepository) Add(ctx context.Context, m *entity.OutboxMessage) error {
	if m.Status == "" {
		m.Status = entity.OutboxPending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO outbox ("+outboxColumns+", lease_until) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)",
		m.ID, m.Kind, m.Topic, m.AggregateID, string(m.Payload), m.Status, m.Attempts, m.LastError, m.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

func (r *outboxRepository) Get(ctx context.Context, id string) (*entity.OutboxMessage, error) {
	m, err := scanOutbox(r.db.QueryRowContext(ctx, "SELECT "+outboxColumns+" FROM outbox WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox message %s: %w", id, err)
	}
	return m, nil
}

func (r *outboxRepository) Claim(ctx context.Context, id string, at, leaseUntil time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET status = $1, attempts = attempts + 1, lease_until = $2
		WHERE id = $3 AND status <> $4 AND lease_until < $5`,
		outboxProcessing, leaseUntil.UnixNano(), id, entity.OutboxSent, at.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim outbox message: %w", err)
	}
	return affected(res)
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE outbox SET status = $1, last_error = '', lease_until = 0 WHERE id = $2",
		entity.OutboxSent, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message sent: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, cause string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE outbox SET status = $1, last_error = $2, lease_until = 0 WHERE id = $3 AND status <> $4",
		entity.OutboxFailed, cause, id, entity.OutboxSent,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message failed: %w", err)
	}
	return nil
}

func (r *outboxRepository) FindDue(ctx context.Context, at, cutoff time.Time, maxAttempts, limit int) ([]entity.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox
		WHERE status <> $1 AND lease_until < $2 AND created_at < $3 AND attempts < $4
		ORDER BY created_at LIMIT $5`,
		entity.OutboxSent, at.UnixNano(), cutoff.UnixNano(), maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due outbox messages: %w", err)
	}
	defer rows.Close()

	var out []entity.OutboxMessage
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
