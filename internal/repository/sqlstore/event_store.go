package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
)

type eventStore struct {
	db DBTX
}

// SaveEvents appends to the order_events stream. It does not open its own
// transaction; callers run it inside Store.WithTx so the history entry
// commits or rolls back with the transition it records.
func (s *eventStore) SaveEvents(ctx context.Context, streamID string, streamType string, expectedVersion int, events []entity.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Check concurrency
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM order_events WHERE stream_id = $1", streamID).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current stream version: %w", err)
	}

	if expectedVersion >= 0 && currentVersion != expectedVersion {
		return fmt.Errorf("concurrency exception: expected version %d, got %d", expectedVersion, currentVersion)
	}

	version := currentVersion
	now := time.Now().UTC()

	for _, event := range events {
		version++

		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.EventType(), err)
		}

		_, err = s.db.ExecContext(ctx,
			"INSERT INTO order_events (id, stream_id, stream_type, version, event_type, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
			uuid.NewString(), streamID, streamType, version, event.EventType(), string(payload), now,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("concurrency exception: version %d of %s already written: %w", version, streamID, repository.ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("failed to insert event %s: %w", event.EventType(), err)
		}
	}

	return nil
}

func (s *eventStore) LoadEvents(ctx context.Context, streamID string) ([]entity.EventStoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, stream_id, stream_type, version, event_type, payload, created_at FROM order_events WHERE stream_id = $1 ORDER BY version ASC", streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for stream %s: %w", streamID, err)
	}
	defer rows.Close()

	var events []entity.EventStoreRecord
	for rows.Next() {
		var (
			record    entity.EventStoreRecord
			createdAt nullTime
		)
		if err := rows.Scan(&record.ID, &record.StreamID, &record.StreamType, &record.Version, &record.EventType, &record.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event record: %w", err)
		}
		record.CreatedAt = createdAt.Time.UTC()
		events = append(events, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}
