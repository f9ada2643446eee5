package provider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/complyflow/ledgersync/models"
)

// fakeConnectionStore is an in-memory models.ConnectionStore for exercising
// the token manager without postgres.
type fakeConnectionStore struct {
	mu    sync.Mutex
	conns map[string]*models.Connection
}

func newFakeConnectionStore(conns ...*models.Connection) *fakeConnectionStore {
	store := &fakeConnectionStore{conns: make(map[string]*models.Connection)}
	for _, conn := range conns {
		store.conns[conn.ID] = conn
	}

	return store
}

func (s *fakeConnectionStore) Save(_ context.Context, conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}

	conn.Status = models.ConnectionActive
	s.conns[conn.ID] = conn

	return nil
}

func (s *fakeConnectionStore) GetByID(_ context.Context, id, tenantID string) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.conns[id]
	if !ok || (tenantID != "" && conn.TenantID != tenantID) {
		return nil, models.ErrConnectionNotFound
	}

	clone := *conn

	return &clone, nil
}

func (s *fakeConnectionStore) FindByRemoteOrg(_ context.Context, remoteOrgID string) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.conns {
		if conn.RemoteOrgID == remoteOrgID {
			clone := *conn
			clone.AccessToken = ""
			clone.RefreshToken = ""

			return &clone, nil
		}
	}

	return nil, models.ErrConnectionNotFound
}

func (s *fakeConnectionStore) ListByTenant(_ context.Context, tenantID string) ([]models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Connection

	for _, conn := range s.conns {
		if conn.TenantID == tenantID {
			clone := *conn
			clone.AccessToken = ""
			clone.RefreshToken = ""
			out = append(out, clone)
		}
	}

	return out, nil
}

func (s *fakeConnectionStore) UpdateStatus(_ context.Context, id string, status models.ConnectionStatus, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.conns[id]
	if !ok || (tenantID != "" && conn.TenantID != tenantID) {
		return models.ErrConnectionNotFound
	}

	conn.Status = status

	return nil
}

func (s *fakeConnectionStore) UpdateTokens(_ context.Context, id, accessToken, refreshToken string, expiresAt time.Time, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.conns[id]
	if !ok || (tenantID != "" && conn.TenantID != tenantID) {
		return models.ErrConnectionNotFound
	}

	conn.AccessToken = accessToken
	conn.RefreshToken = refreshToken
	conn.ExpiresAt = expiresAt
	conn.Status = models.ConnectionActive

	return nil
}

func (s *fakeConnectionStore) Delete(_ context.Context, id, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.conns[id]
	if !ok || (tenantID != "" && conn.TenantID != tenantID) {
		return models.ErrConnectionNotFound
	}

	delete(s.conns, id)

	return nil
}

// fakeSource hands out a fixed connection, bypassing the token manager.
type fakeSource struct {
	conn *models.Connection
	err  error
}

func (s *fakeSource) ValidConnection(_ context.Context, _ string) (*models.Connection, error) {
	if s.err != nil {
		return nil, s.err
	}

	clone := *s.conn

	return &clone, nil
}
