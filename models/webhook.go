package models

import (
	"context"
	"encoding/json"
	"time"
)

// WebhookEvent is a push notification from the provider signaling a remote
// data change. The provider-assigned EventID is the idempotency key: the
// provider may redeliver, and duplicates are silently ignored.
type WebhookEvent struct {
	EventID      string          `json:"event_id"`
	ConnectionID string          `json:"connection_id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	EventDate    time.Time       `json:"event_date"`
	Payload      json.RawMessage `json:"payload"`
	Processed    bool            `json:"processed"`
	ProcessedAt  *time.Time      `json:"processed_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// EventStatistics aggregates webhook event counts for observability.
type EventStatistics struct {
	Total     int            `json:"total"`
	Processed int            `json:"processed"`
	Pending   int            `json:"pending"`
	ByType    map[string]int `json:"by_type"`
}

// WebhookEventStore persists inbound webhook events append-only, unique on
// event id.
type WebhookEventStore interface {
	// SaveEvent inserts the event, skipping silently on a duplicate event id.
	// It returns nil (and no error) when the event was already seen: callers
	// must treat nil as "duplicate", not as a failure.
	SaveEvent(ctx context.Context, event *WebhookEvent) (*WebhookEvent, error)

	GetUnprocessedEvents(ctx context.Context, limit int) ([]WebhookEvent, error)

	GetEvent(ctx context.Context, eventID string) (*WebhookEvent, error)

	// MarkProcessed flags the event processed exactly once, by the downstream
	// consumer.
	MarkProcessed(ctx context.Context, eventID string) error

	// GetEventStatistics aggregates counts by processed state and event type.
	// An empty connectionID aggregates across all connections.
	GetEventStatistics(ctx context.Context, connectionID string) (*EventStatistics, error)

	// PurgeProcessed removes processed events older than the retention window
	// and returns the number deleted.
	PurgeProcessed(ctx context.Context, olderThan time.Duration) (int64, error)
}
