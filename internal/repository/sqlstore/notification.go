package sqlstore

import (
	"context"
	"fmt"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
)

type notificationRepository struct {
	db DBTX
}

func (r *notificationRepository) Create(ctx context.Context, n *entity.Notification) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO notifications (id, user_id, type, title, message, order_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.OrderID, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) FindByUser(ctx context.Context, userID string, limit int) ([]entity.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, user_id, type, title, message, order_id, created_at FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2",
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	out := []entity.Notification{}
	for rows.Next() {
		var (
			n         entity.Notification
			createdAt nullTime
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.OrderID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.CreatedAt = createdAt.Time.UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}
