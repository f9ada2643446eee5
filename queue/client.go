package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/complyflow/ledgersync/config"
)

// Client wraps the asynq producer side. It satisfies webhook.Enqueuer.
type Client struct {
	client *asynq.Client
	logger *zap.Logger
}

func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		logger: logger,
	}
}

// EnqueueWebhookProcess schedules processing for a stored webhook event. The
// event id doubles as the asynq task id, so a redelivered event that slipped
// past storage dedupe still enqueues at most once.
func (c *Client) EnqueueWebhookProcess(ctx context.Context, eventID string) error {
	task, err := NewWebhookProcessTask(eventID)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.TaskID("webhook-"+eventID), asynq.MaxRetry(5))
	if err != nil {
		return fmt.Errorf("failed to enqueue webhook processing: %w", err)
	}

	c.logger.Debug("webhook processing enqueued", zap.String("event_id", eventID))

	return nil
}

// EnqueueEventPurge schedules a retention sweep of processed events.
func (c *Client) EnqueueEventPurge(ctx context.Context) error {
	_, err := c.client.EnqueueContext(ctx, NewEventPurgeTask())
	if err != nil {
		return fmt.Errorf("failed to enqueue event purge: %w", err)
	}

	return nil
}

func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close queue client: %w", err)
	}

	return nil
}
