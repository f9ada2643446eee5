package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyflow/ledgersync/config"
	"github.com/complyflow/ledgersync/models"
)

func testConfig(tokenURL string) *config.Config {
	return &config.Config{
		ProviderClientID:     "client-id",
		ProviderClientSecret: "client-secret",
		ProviderRedirectURL:  "https://app.example.com/callback",
		ProviderAuthorizeURL: "https://identity.example.com/authorize",
		ProviderTokenURL:     tokenURL,
		ProviderScopes:       []string{"offline_access", "accounting.transactions.read"},
		TokenRefreshBuffer:   5 * time.Minute,
	}
}

func activeConnection(expiresIn time.Duration) *models.Connection {
	return &models.Connection{
		ID:           uuid.New().String(),
		TenantID:     "tenant-1",
		RemoteOrgID:  "org-" + uuid.New().String(),
		OrgName:      "Acme Ltd",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(expiresIn),
		Status:       models.ConnectionActive,
	}
}

func tokenEndpoint(t *testing.T, calls *atomic.Int32, body string, status int) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server
}

func TestAuthorizationURL(t *testing.T) {
	manager := NewTokenManager(testConfig("https://identity.example.com/token"), newFakeConnectionStore(), zap.NewNop())

	authURL, state := manager.AuthorizationURL("")
	require.NotEmpty(t, state, "state must be generated when absent")
	assert.Contains(t, authURL, "client_id=client-id")
	assert.Contains(t, authURL, "state="+state)
	assert.Contains(t, authURL, "offline_access")

	_, state2 := manager.AuthorizationURL("")
	assert.NotEqual(t, state, state2, "generated state must be unique per call")

	authURL, state = manager.AuthorizationURL("fixed-state")
	assert.Equal(t, "fixed-state", state)
	assert.Contains(t, authURL, "state=fixed-state")
}

func TestValidConnectionRefreshesNearExpiryToken(t *testing.T) {
	var calls atomic.Int32
	server := tokenEndpoint(t, &calls,
		`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":1800}`,
		http.StatusOK)

	conn := activeConnection(2 * time.Minute)
	store := newFakeConnectionStore(conn)
	manager := NewTokenManager(testConfig(server.URL), store, zap.NewNop())

	got, err := manager.ValidConnection(context.Background(), conn.ID)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, "new-refresh", got.RefreshToken)
	assert.Equal(t, models.ConnectionActive, got.Status)
	assert.True(t, got.ExpiresAt.After(time.Now().Add(20*time.Minute)), "new expiry must be persisted")

	// The rotated tokens must have reached the store.
	persisted, err := store.GetByID(context.Background(), conn.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "new-access", persisted.AccessToken)
	assert.Equal(t, "new-refresh", persisted.RefreshToken)
}

func TestValidConnectionSerializesConcurrentRefreshes(t *testing.T) {
	var calls atomic.Int32
	server := tokenEndpoint(t, &calls,
		`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":1800}`,
		http.StatusOK)

	conn := activeConnection(2 * time.Minute)
	store := newFakeConnectionStore(conn)
	manager := NewTokenManager(testConfig(server.URL), store, zap.NewNop())

	const callers = 8

	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			got, err := manager.ValidConnection(context.Background(), conn.ID)
			assert.NoError(t, err)
			assert.Equal(t, "new-access", got.AccessToken)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(),
		"concurrent callers against a near-expiry token must share a single refresh")
}

func TestValidConnectionSkipsRefreshForFreshToken(t *testing.T) {
	var calls atomic.Int32
	server := tokenEndpoint(t, &calls, `{}`, http.StatusOK)

	conn := activeConnection(time.Hour)
	manager := NewTokenManager(testConfig(server.URL), newFakeConnectionStore(conn), zap.NewNop())

	got, err := manager.ValidConnection(context.Background(), conn.ID)
	require.NoError(t, err)

	assert.Equal(t, int32(0), calls.Load(), "fresh token must not hit the token endpoint")
	assert.Equal(t, "old-access", got.AccessToken)
}

func TestValidConnectionKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	var calls atomic.Int32
	server := tokenEndpoint(t, &calls,
		`{"access_token":"new-access","token_type":"Bearer","expires_in":1800}`,
		http.StatusOK)

	conn := activeConnection(time.Minute)
	store := newFakeConnectionStore(conn)
	manager := NewTokenManager(testConfig(server.URL), store, zap.NewNop())

	got, err := manager.ValidConnection(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "old-refresh", got.RefreshToken)

	persisted, err := store.GetByID(context.Background(), conn.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "old-refresh", persisted.RefreshToken)
}

func TestValidConnectionInvalidGrantRequiresReauthorization(t *testing.T) {
	var calls atomic.Int32
	server := tokenEndpoint(t, &calls, `{"error":"invalid_grant"}`, http.StatusBadRequest)

	conn := activeConnection(time.Minute)
	store := newFakeConnectionStore(conn)
	manager := NewTokenManager(testConfig(server.URL), store, zap.NewNop())

	_, err := manager.ValidConnection(context.Background(), conn.ID)
	assert.ErrorIs(t, err, models.ErrReauthorizationRequired)

	persisted, err := store.GetByID(context.Background(), conn.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionExpired, persisted.Status)
}

func TestValidConnectionTransientRefreshFailure(t *testing.T) {
	var calls atomic.Int32
	server := tokenEndpoint(t, &calls, `{"error":"temporarily_unavailable"}`, http.StatusServiceUnavailable)

	conn := activeConnection(time.Minute)
	store := newFakeConnectionStore(conn)
	manager := NewTokenManager(testConfig(server.URL), store, zap.NewNop())

	_, err := manager.ValidConnection(context.Background(), conn.ID)
	require.Error(t, err)

	var refreshErr *models.TokenRefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.False(t, refreshErr.PermanentlyInvalid())

	// Transient failure must not invalidate the connection.
	persisted, err := store.GetByID(context.Background(), conn.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionActive, persisted.Status)
	assert.Equal(t, "old-refresh", persisted.RefreshToken)
}

func TestValidConnectionUnknownConnection(t *testing.T) {
	manager := NewTokenManager(testConfig("https://identity.example.com/token"), newFakeConnectionStore(), zap.NewNop())

	_, err := manager.ValidConnection(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, models.ErrConnectionNotFound)
}

func TestExchangeCode(t *testing.T) {
	var calls atomic.Int32
	server := tokenEndpoint(t, &calls,
		`{"access_token":"access","refresh_token":"refresh","token_type":"Bearer","expires_in":1800}`,
		http.StatusOK)

	manager := NewTokenManager(testConfig(server.URL), newFakeConnectionStore(), zap.NewNop())

	token, err := manager.ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "access", token.AccessToken)
	assert.Equal(t, "refresh", token.RefreshToken)
}

func TestExchangeCodeFailure(t *testing.T) {
	var calls atomic.Int32
	server := tokenEndpoint(t, &calls, `{"error":"invalid_request"}`, http.StatusBadRequest)

	manager := NewTokenManager(testConfig(server.URL), newFakeConnectionStore(), zap.NewNop())

	_, err := manager.ExchangeCode(context.Background(), "bad-code")
	require.Error(t, err)

	var exchangeErr *models.TokenExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, http.StatusBadRequest, exchangeErr.StatusCode)
	assert.Equal(t, "invalid_request", exchangeErr.ProviderCode)
}

func TestGetValidAccessToken(t *testing.T) {
	conn := activeConnection(time.Hour)
	manager := NewTokenManager(testConfig("https://identity.example.com/token"), newFakeConnectionStore(conn), zap.NewNop())

	token, err := manager.GetValidAccessToken(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "old-access", token)
}
