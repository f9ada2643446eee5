package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/complyflow/ledgersync/models"
)

// WebhookEventStore is the PostgreSQL implementation of
// models.WebhookEventStore. Events are append-only and unique on event id.
type WebhookEventStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ models.WebhookEventStore = (*WebhookEventStore)(nil)

func NewWebhookEventStore(db *sql.DB, logger *zap.Logger) *WebhookEventStore {
	return &WebhookEventStore{db: db, logger: logger}
}

// SaveEvent inserts the event with insert-or-skip semantics: the provider may
// redeliver, so a duplicate event id returns (nil, nil) and the original row
// is left untouched.
func (s *WebhookEventStore) SaveEvent(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, error) {
	const q = `
		INSERT INTO webhook_events
			(event_id, connection_id, event_type, resource_type, resource_id, event_date, payload, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NOW())
		ON CONFLICT (event_id) DO NOTHING
		RETURNING created_at
	`

	err := s.db.QueryRowContext(ctx, q,
		event.EventID, event.ConnectionID, event.EventType, event.ResourceType,
		event.ResourceID, event.EventDate, event.Payload,
	).Scan(&event.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Duplicate delivery: already seen, not an error.
			s.logger.Debug("duplicate webhook event skipped", zap.String("event_id", event.EventID))

			return nil, nil
		}

		return nil, fmt.Errorf("failed to save webhook event: %w", err)
	}

	return event, nil
}

func (s *WebhookEventStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	const q = `
		SELECT event_id, connection_id, event_type, resource_type, resource_id,
		       event_date, payload, processed, processed_at, created_at
		FROM webhook_events
		WHERE processed = FALSE
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unprocessed events: %w", err)
	}
	defer rows.Close()

	var ans []models.WebhookEvent

	for rows.Next() {
		var e models.WebhookEvent

		err := rows.Scan(
			&e.EventID, &e.ConnectionID, &e.EventType, &e.ResourceType, &e.ResourceID,
			&e.EventDate, &e.Payload, &e.Processed, &e.ProcessedAt, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}

		ans = append(ans, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ans, nil
}

func (s *WebhookEventStore) GetEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	const q = `
		SELECT event_id, connection_id, event_type, resource_type, resource_id,
		       event_date, payload, processed, processed_at, created_at
		FROM webhook_events
		WHERE event_id = $1
	`

	var e models.WebhookEvent

	err := s.db.QueryRowContext(ctx, q, eventID).Scan(
		&e.EventID, &e.ConnectionID, &e.EventType, &e.ResourceType, &e.ResourceID,
		&e.EventDate, &e.Payload, &e.Processed, &e.ProcessedAt, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrEventNotFound
		}

		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	return &e, nil
}

func (s *WebhookEventStore) MarkProcessed(ctx context.Context, eventID string) error {
	const q = `UPDATE webhook_events SET processed = TRUE, processed_at = NOW() WHERE event_id = $1`

	result, err := s.db.ExecContext(ctx, q, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.ErrEventNotFound
	}

	return nil
}

// GetEventStatistics aggregates counts by processed state and event type. An
// empty connectionID aggregates across all connections.
func (s *WebhookEventStore) GetEventStatistics(ctx context.Context, connectionID string) (*models.EventStatistics, error) {
	q := `
		SELECT event_type, processed, COUNT(*)
		FROM webhook_events
	`

	var args []any
	if connectionID != "" {
		q += ` WHERE connection_id = $1`
		args = append(args, connectionID)
	}

	q += ` GROUP BY event_type, processed`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get event statistics: %w", err)
	}
	defer rows.Close()

	stats := &models.EventStatistics{ByType: make(map[string]int)}

	for rows.Next() {
		var (
			eventType string
			processed bool
			count     int
		)

		if err := rows.Scan(&eventType, &processed, &count); err != nil {
			return nil, fmt.Errorf("failed to scan statistics row: %w", err)
		}

		stats.Total += count
		stats.ByType[eventType] += count

		if processed {
			stats.Processed += count
		} else {
			stats.Pending += count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// PurgeProcessed deletes processed events older than the retention window.
func (s *WebhookEventStore) PurgeProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `DELETE FROM webhook_events WHERE processed = TRUE AND processed_at < $1`

	result, err := s.db.ExecContext(ctx, q, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge processed events: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.logger.Info("purged processed webhook events", zap.Int64("count", deleted))
	}

	return deleted, nil
}
