package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/complyflow/ledgersync/models"
)

// EventProcessor is the downstream consumer of a webhook event, invoked after
// the event is loaded and before it is marked processed.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event *models.WebhookEvent) error
}

// Handler executes queued tasks. It implements asynq.Handler.
type Handler struct {
	events    models.WebhookEventStore
	processor EventProcessor
	retention time.Duration
	logger    *zap.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithEventProcessor sets the downstream consumer for webhook events.
func WithEventProcessor(p EventProcessor) HandlerOption {
	return func(h *Handler) {
		h.processor = p
	}
}

// WithRetention sets how long processed events are kept before purging.
func WithRetention(d time.Duration) HandlerOption {
	return func(h *Handler) {
		h.retention = d
	}
}

func NewHandler(events models.WebhookEventStore, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		events:    events,
		retention: 30 * 24 * time.Hour,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// ProcessTask dispatches a task by type.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	switch task.Type() {
	case TypeWebhookProcess:
		return h.processWebhookEvent(ctx, task)
	case TypeEventPurge:
		return h.purgeEvents(ctx)
	default:
		return fmt.Errorf("unknown task type: %s", task.Type())
	}
}

// Mux returns a ServeMux routing all queue task types to this handler.
func (h *Handler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeWebhookProcess, h)
	mux.Handle(TypeEventPurge, h)

	return mux
}

func (h *Handler) processWebhookEvent(ctx context.Context, task *asynq.Task) error {
	var payload WebhookProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal webhook process payload: %v: %w", err, asynq.SkipRetry)
	}

	event, err := h.events.GetEvent(ctx, payload.EventID)
	if err != nil {
		if errors.Is(err, models.ErrEventNotFound) {
			// Purged before processing; nothing left to do.
			h.logger.Warn("queued webhook event no longer exists", zap.String("event_id", payload.EventID))

			return nil
		}

		return err
	}

	if event.Processed {
		return nil
	}

	if h.processor != nil {
		if err := h.processor.ProcessEvent(ctx, event); err != nil {
			return fmt.Errorf("event processing failed: %w", err)
		}
	}

	if err := h.events.MarkProcessed(ctx, event.EventID); err != nil {
		return err
	}

	h.logger.Info("webhook event processed",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("resource_type", event.ResourceType))

	return nil
}

func (h *Handler) purgeEvents(ctx context.Context) error {
	purged, err := h.events.PurgeProcessed(ctx, h.retention)
	if err != nil {
		return err
	}

	if purged > 0 {
		h.logger.Info("purged processed webhook events", zap.Int64("count", purged))
	}

	return nil
}
