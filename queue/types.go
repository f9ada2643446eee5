// Package queue wraps the asynq task queue for background processing of
// webhook events and maintenance work.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task types
const (
	TypeWebhookProcess = "webhook:process"
	TypeEventPurge     = "events:purge"
)

// Queue names, highest priority first.
const (
	QueueWebhooks    = "webhooks"
	QueueMaintenance = "maintenance"
)

// WebhookProcessPayload carries the id of a stored event to process.
type WebhookProcessPayload struct {
	EventID string `json:"event_id"`
}

// NewWebhookProcessTask builds the processing task for a stored event.
func NewWebhookProcessTask(eventID string) (*asynq.Task, error) {
	payload, err := json.Marshal(WebhookProcessPayload{EventID: eventID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook process payload: %w", err)
	}

	return asynq.NewTask(TypeWebhookProcess, payload, asynq.Queue(QueueWebhooks)), nil
}

// NewEventPurgeTask builds the periodic retention-sweep task.
func NewEventPurgeTask() *asynq.Task {
	return asynq.NewTask(TypeEventPurge, nil, asynq.Queue(QueueMaintenance))
}
