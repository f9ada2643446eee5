package models

import (
	"context"
	"time"
)

// ConnectionStatus describes the token health of a connection.
type ConnectionStatus string

const (
	ConnectionActive  ConnectionStatus = "active"
	ConnectionExpired ConnectionStatus = "expired"
	ConnectionRevoked ConnectionStatus = "revoked"
	ConnectionError   ConnectionStatus = "error"
)

// Connection is the durable record of an authorized link between a tenant and
// a remote organization on the accounting provider. Tokens are plaintext only
// in memory; the store encrypts them before persistence.
type Connection struct {
	ID           string           `json:"id"`
	TenantID     string           `json:"tenant_id"`
	RemoteOrgID  string           `json:"remote_org_id"`
	OrgName      string           `json:"org_name"`
	AccessToken  string           `json:"-"`
	RefreshToken string           `json:"-"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Status       ConnectionStatus `json:"status"`
	CreatedBy    string           `json:"created_by"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TokenExpiringWithin reports whether the access token expires inside the
// given buffer window.
func (c *Connection) TokenExpiringWithin(buffer time.Duration) bool {
	return time.Now().Add(buffer).After(c.ExpiresAt) || time.Now().Add(buffer).Equal(c.ExpiresAt)
}

// ConnectionStore manages per-tenant provider connections. Operations taking a
// tenantID enforce row-level isolation when it is non-empty; an empty tenantID
// is reserved for trusted internal callers.
type ConnectionStore interface {
	// Save inserts or updates the connection keyed by (tenant, remote org),
	// always forcing the status back to active.
	Save(ctx context.Context, conn *Connection) error

	// GetByID returns the connection with decrypted credentials.
	GetByID(ctx context.Context, id, tenantID string) (*Connection, error)

	// FindByRemoteOrg returns connection metadata (no secrets) for the given
	// provider-side organization. Used to attribute inbound webhook events.
	FindByRemoteOrg(ctx context.Context, remoteOrgID string) (*Connection, error)

	// ListByTenant returns status and metadata only, never secrets.
	ListByTenant(ctx context.Context, tenantID string) ([]Connection, error)

	UpdateStatus(ctx context.Context, id string, status ConnectionStatus, tenantID string) error

	// UpdateTokens is the sole mutation path for token refresh. It re-encrypts
	// both tokens and resets the status to active.
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time, tenantID string) error

	Delete(ctx context.Context, id, tenantID string) error
}
