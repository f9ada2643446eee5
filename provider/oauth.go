// Package provider implements the OAuth2 credential lifecycle and the
// rate-limited client for the accounting provider's REST API.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/complyflow/ledgersync/config"
	"github.com/complyflow/ledgersync/models"
)

// TokenManager owns the OAuth2 dance: authorization-URL construction, code
// exchange, refresh, and surfacing a guaranteed-valid access token to callers.
type TokenManager struct {
	oauth  *oauth2.Config
	store  models.ConnectionStore
	buffer time.Duration
	logger *zap.Logger

	// Per-connection refresh locks: two callers detecting a near-expiry token
	// at the same time must not both hit the token endpoint, since refresh
	// token rotation would invalidate one of the results. Entries are never
	// pruned; the map is bounded by the number of distinct connections this
	// process touches, a few bytes each.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTokenManager(cfg *config.Config, store models.ConnectionStore, logger *zap.Logger) *TokenManager {
	return &TokenManager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ProviderClientID,
			ClientSecret: cfg.ProviderClientSecret,
			RedirectURL:  cfg.ProviderRedirectURL,
			Scopes:       cfg.ProviderScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.ProviderAuthorizeURL,
				TokenURL:  cfg.ProviderTokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		store:  store,
		buffer: cfg.TokenRefreshBuffer,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// AuthorizationURL builds the provider consent URL. When no state is supplied
// a cryptographically random one is generated; the caller round-trips it and
// validates it on callback to prevent CSRF on the OAuth dance.
func (m *TokenManager) AuthorizationURL(state string) (string, string) {
	if state == "" {
		state = uuid.New().String()
	}

	return m.oauth.AuthCodeURL(state), state
}

// ExchangeCode trades an authorization code for tokens. Codes are single-use
// and short-lived, so failures are never retried.
func (m *TokenManager) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		status, providerCode := retrieveDetails(err)

		return nil, &models.TokenExchangeError{StatusCode: status, ProviderCode: providerCode, Err: err}
	}

	return token, nil
}

// Refresh performs a refresh-token grant against the token endpoint.
func (m *TokenManager) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := src.Token()
	if err != nil {
		status, providerCode := retrieveDetails(err)

		return nil, &models.TokenRefreshError{StatusCode: status, ProviderCode: providerCode, Err: err}
	}

	return token, nil
}

// ValidConnection loads the connection and guarantees its access token is
// usable for at least the buffer window, refreshing preemptively when needed.
// Refreshed tokens are persisted through the store before returning.
//
// A permanently invalid refresh token (invalid_grant) marks the connection
// expired and yields ErrReauthorizationRequired: the tenant must redo the
// OAuth flow. Transient refresh failures propagate as retryable errors.
func (m *TokenManager) ValidConnection(ctx context.Context, connectionID string) (*models.Connection, error) {
	lock := m.connLock(connectionID)
	lock.Lock()
	defer lock.Unlock()

	conn, err := m.store.GetByID(ctx, connectionID, "")
	if err != nil {
		return nil, err
	}

	if !conn.TokenExpiringWithin(m.buffer) {
		return conn, nil
	}

	token, err := m.Refresh(ctx, conn.RefreshToken)
	if err != nil {
		var refreshErr *models.TokenRefreshError
		if errors.As(err, &refreshErr) && refreshErr.PermanentlyInvalid() {
			m.logger.Warn("refresh token permanently invalid, connection requires reauthorization",
				zap.String("connection_id", connectionID))

			if updateErr := m.store.UpdateStatus(ctx, connectionID, models.ConnectionExpired, ""); updateErr != nil {
				return nil, fmt.Errorf("failed to mark connection expired: %w", updateErr)
			}

			return nil, models.ErrReauthorizationRequired
		}

		return nil, err
	}

	// Some grants return no rotated refresh token; keep the stored one then.
	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = conn.RefreshToken
	}

	if err := m.store.UpdateTokens(ctx, connectionID, token.AccessToken, newRefresh, token.Expiry, ""); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	m.logger.Debug("access token refreshed",
		zap.String("connection_id", connectionID),
		zap.Time("expires_at", token.Expiry))

	conn.AccessToken = token.AccessToken
	conn.RefreshToken = newRefresh
	conn.ExpiresAt = token.Expiry
	conn.Status = models.ConnectionActive

	return conn, nil
}

// GetValidAccessToken is the primary contract consumed by callers: the
// returned token is valid beyond the refresh buffer.
func (m *TokenManager) GetValidAccessToken(ctx context.Context, connectionID string) (string, error) {
	conn, err := m.ValidConnection(ctx, connectionID)
	if err != nil {
		return "", err
	}

	return conn.AccessToken, nil
}

func (m *TokenManager) connLock(connectionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[connectionID] = lock
	}

	return lock
}

// retrieveDetails extracts the HTTP status and the provider's OAuth error code
// from a token endpoint failure.
func retrieveDetails(err error) (int, string) {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return 0, ""
	}

	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}

	return status, retrieveErr.ErrorCode
}
