// Package webhook receives, verifies, and persists provider event
// notifications. Signature verification happens on the raw request bytes
// before any parsing; unverified payloads are never inspected.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/complyflow/ledgersync/models"
)

// Enqueuer schedules background processing for a stored event.
type Enqueuer interface {
	EnqueueWebhookProcess(ctx context.Context, eventID string) error
}

// ProviderEvent is one entry of the provider's webhook payload.
type ProviderEvent struct {
	EventID      string    `json:"eventId"`
	EventType    string    `json:"eventType"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	EventDate    time.Time `json:"eventDate"`
	TenantID     string    `json:"tenantId"`
	RemoteOrgID  string    `json:"remoteOrgId"`
}

// IngestResult summarizes one delivery: how many events arrived, how many
// were newly stored, and how many were skipped as duplicates or unattributable.
type IngestResult struct {
	Received int
	Stored   int
	Skipped  int
}

// Ingester verifies and persists webhook deliveries and schedules processing
// for newly stored events.
type Ingester struct {
	signingKey  []byte
	connections models.ConnectionStore
	events      models.WebhookEventStore
	queue       Enqueuer
	logger      *zap.Logger
}

func NewIngester(signingKey string, connections models.ConnectionStore, events models.WebhookEventStore, queue Enqueuer, logger *zap.Logger) *Ingester {
	return &Ingester{
		signingKey:  []byte(signingKey),
		connections: connections,
		events:      events,
		queue:       queue,
		logger:      logger,
	}
}

// VerifySignature checks the base64-encoded HMAC-SHA256 signature against the
// raw request body. Comparison is constant-time.
func (i *Ingester) VerifySignature(body []byte, signature string) error {
	provided, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return models.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, i.signingKey)
	mac.Write(body)

	if !hmac.Equal(provided, mac.Sum(nil)) {
		return models.ErrInvalidSignature
	}

	return nil
}

// ParsePayload decodes the delivery body. The top-level events array is
// mandatory; each event keeps its raw bytes for verbatim persistence.
func (i *Ingester) ParsePayload(body []byte) ([]ProviderEvent, []json.RawMessage, error) {
	var payload struct {
		Events []json.RawMessage `json:"events"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, &models.InvalidWebhookPayloadError{Reason: "body is not valid JSON"}
	}

	if payload.Events == nil {
		return nil, nil, &models.InvalidWebhookPayloadError{Reason: "missing events array"}
	}

	events := make([]ProviderEvent, 0, len(payload.Events))

	for _, raw := range payload.Events {
		var event ProviderEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, nil, &models.InvalidWebhookPayloadError{Reason: "malformed event entry"}
		}

		if event.EventID == "" {
			return nil, nil, &models.InvalidWebhookPayloadError{Reason: "event missing eventId"}
		}

		events = append(events, event)
	}

	return events, payload.Events, nil
}

// Ingest handles one delivery end to end: verify, parse, attribute each event
// to a connection, persist, and enqueue processing for events seen for the
// first time. Duplicate deliveries and events for unknown organizations are
// skipped without failing the batch.
func (i *Ingester) Ingest(ctx context.Context, body []byte, signature string) (*IngestResult, error) {
	if err := i.VerifySignature(body, signature); err != nil {
		return nil, err
	}

	events, raws, err := i.ParsePayload(body)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{Received: len(events)}

	for idx, event := range events {
		conn, err := i.connections.FindByRemoteOrg(ctx, event.RemoteOrgID)
		if err != nil {
			if errors.Is(err, models.ErrConnectionNotFound) {
				i.logger.Warn("webhook event for unknown organization, skipping",
					zap.String("event_id", event.EventID),
					zap.String("remote_org_id", event.RemoteOrgID))
				result.Skipped++

				continue
			}

			// Anything else is a store failure: fail the delivery so the
			// provider redelivers instead of losing the event.
			return nil, fmt.Errorf("failed to resolve connection for event %s: %w", event.EventID, err)
		}

		stored, err := i.events.SaveEvent(ctx, &models.WebhookEvent{
			EventID:      event.EventID,
			ConnectionID: conn.ID,
			EventType:    event.EventType,
			ResourceType: event.ResourceType,
			ResourceID:   event.ResourceID,
			EventDate:    event.EventDate,
			Payload:      raws[idx],
		})
		if err != nil {
			return nil, err
		}

		if stored == nil {
			result.Skipped++

			continue
		}

		result.Stored++

		if i.queue != nil {
			if err := i.queue.EnqueueWebhookProcess(ctx, stored.EventID); err != nil {
				// The event is durable; the processing sweep picks it up later.
				i.logger.Error("failed to enqueue webhook processing",
					zap.String("event_id", stored.EventID),
					zap.Error(err))
			}
		}
	}

	return result, nil
}

// UnprocessedEvents returns stored events awaiting processing.
func (i *Ingester) UnprocessedEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	return i.events.GetUnprocessedEvents(ctx, limit)
}

// MarkProcessed records completion of an event's downstream work.
func (i *Ingester) MarkProcessed(ctx context.Context, eventID string) error {
	return i.events.MarkProcessed(ctx, eventID)
}

// Statistics reports event counts for a connection.
func (i *Ingester) Statistics(ctx context.Context, connectionID string) (*models.EventStatistics, error) {
	return i.events.GetEventStatistics(ctx, connectionID)
}
