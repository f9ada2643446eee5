package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/complyflow/ledgersync/models"
)

// memConnections resolves remote organizations for attribution; everything
// else is unused by the ingester. A non-nil findErr simulates a store outage.
type memConnections struct {
	byRemoteOrg map[string]*models.Connection
	findErr     error
}

func newMemConnections(conns ...*models.Connection) *memConnections {
	store := &memConnections{byRemoteOrg: make(map[string]*models.Connection)}
	for _, conn := range conns {
		store.byRemoteOrg[conn.RemoteOrgID] = conn
	}

	return store
}

func (s *memConnections) FindByRemoteOrg(_ context.Context, remoteOrgID string) (*models.Connection, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}

	conn, ok := s.byRemoteOrg[remoteOrgID]
	if !ok {
		return nil, models.ErrConnectionNotFound
	}

	return conn, nil
}

func (s *memConnections) Save(context.Context, *models.Connection) error { return nil }

func (s *memConnections) GetByID(context.Context, string, string) (*models.Connection, error) {
	return nil, models.ErrConnectionNotFound
}

func (s *memConnections) ListByTenant(context.Context, string) ([]models.Connection, error) {
	return nil, nil
}

func (s *memConnections) UpdateStatus(context.Context, string, models.ConnectionStatus, string) error {
	return nil
}

func (s *memConnections) UpdateTokens(context.Context, string, string, string, time.Time, string) error {
	return nil
}

func (s *memConnections) Delete(context.Context, string, string) error { return nil }

// memEvents is an in-memory models.WebhookEventStore with the same
// insert-or-skip contract as the postgres implementation.
type memEvents struct {
	mu     sync.Mutex
	events map[string]*models.WebhookEvent
}

func newMemEvents() *memEvents {
	return &memEvents{events: make(map[string]*models.WebhookEvent)}
}

func (s *memEvents) SaveEvent(_ context.Context, event *models.WebhookEvent) (*models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.events[event.EventID]; seen {
		return nil, nil
	}

	clone := *event
	clone.CreatedAt = time.Now()
	s.events[event.EventID] = &clone

	return &clone, nil
}

func (s *memEvents) GetUnprocessedEvents(_ context.Context, limit int) ([]models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.WebhookEvent

	for _, event := range s.events {
		if !event.Processed && len(out) < limit {
			out = append(out, *event)
		}
	}

	return out, nil
}

func (s *memEvents) GetEvent(_ context.Context, eventID string) (*models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[eventID]
	if !ok {
		return nil, models.ErrEventNotFound
	}

	clone := *event

	return &clone, nil
}

func (s *memEvents) MarkProcessed(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[eventID]
	if !ok {
		return models.ErrEventNotFound
	}

	now := time.Now()
	event.Processed = true
	event.ProcessedAt = &now

	return nil
}

func (s *memEvents) GetEventStatistics(_ context.Context, connectionID string) (*models.EventStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &models.EventStatistics{ByType: make(map[string]int)}

	for _, event := range s.events {
		if connectionID != "" && event.ConnectionID != connectionID {
			continue
		}

		stats.Total++
		stats.ByType[event.EventType]++

		if event.Processed {
			stats.Processed++
		} else {
			stats.Pending++
		}
	}

	return stats, nil
}

func (s *memEvents) PurgeProcessed(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var purged int64

	for id, event := range s.events {
		if event.Processed && event.CreatedAt.Before(cutoff) {
			delete(s.events, id)
			purged++
		}
	}

	return purged, nil
}

// memQueue records enqueued event ids.
type memQueue struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (q *memQueue) EnqueueWebhookProcess(_ context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return q.err
	}

	q.enqueued = append(q.enqueued, eventID)

	return nil
}

func (q *memQueue) ids() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]string(nil), q.enqueued...)
}
