package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyflow/ledgersync/models"
	"github.com/complyflow/ledgersync/pkg/encryption"
)

// ConnectionStore is the PostgreSQL implementation of models.ConnectionStore.
// Every write re-encrypts secrets through the cipher; every credential read
// decrypts after retrieval. Listing never touches secret columns, so one
// corrupt ciphertext can never block enumerating a tenant's connections.
type ConnectionStore struct {
	db     *sql.DB
	cipher *encryption.Cipher
	logger *zap.Logger
}

var _ models.ConnectionStore = (*ConnectionStore)(nil)

func NewConnectionStore(db *sql.DB, cipher *encryption.Cipher, logger *zap.Logger) *ConnectionStore {
	return &ConnectionStore{db: db, cipher: cipher, logger: logger}
}

// Save inserts or updates the connection keyed by (tenant, remote org). The
// upsert always forces status back to active and refreshes updated_at: a save
// only happens after a successful OAuth exchange, which by definition makes
// the connection usable again.
func (s *ConnectionStore) Save(ctx context.Context, conn *models.Connection) error {
	access, err := s.cipher.Encrypt(conn.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	refresh, err := s.cipher.Encrypt(conn.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}

	const q = `
		INSERT INTO connections
			(id, tenant_id, remote_org_id, org_name,
			 access_token_ct, access_token_iv, access_token_tag,
			 refresh_token_ct, refresh_token_iv, refresh_token_tag,
			 expires_at, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'active', $12, NOW(), NOW())
		ON CONFLICT (tenant_id, remote_org_id) DO UPDATE SET
			org_name = EXCLUDED.org_name,
			access_token_ct = EXCLUDED.access_token_ct,
			access_token_iv = EXCLUDED.access_token_iv,
			access_token_tag = EXCLUDED.access_token_tag,
			refresh_token_ct = EXCLUDED.refresh_token_ct,
			refresh_token_iv = EXCLUDED.refresh_token_iv,
			refresh_token_tag = EXCLUDED.refresh_token_tag,
			expires_at = EXCLUDED.expires_at,
			status = 'active',
			updated_at = NOW()
		RETURNING id, status, created_at, updated_at
	`

	err = s.db.QueryRowContext(ctx, q,
		conn.ID, conn.TenantID, conn.RemoteOrgID, conn.OrgName,
		access.Ciphertext, access.IV, access.AuthTag,
		refresh.Ciphertext, refresh.IV, refresh.AuthTag,
		conn.ExpiresAt, conn.CreatedBy,
	).Scan(&conn.ID, &conn.Status, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}

	s.logger.Info("connection saved",
		zap.String("connection_id", conn.ID),
		zap.String("tenant_id", conn.TenantID),
		zap.String("remote_org_id", conn.RemoteOrgID))

	return nil
}

// GetByID returns the connection with decrypted credentials. A non-empty
// tenantID enforces row-level isolation.
func (s *ConnectionStore) GetByID(ctx context.Context, id, tenantID string) (*models.Connection, error) {
	q := `
		SELECT id, tenant_id, remote_org_id, org_name,
		       access_token_ct, access_token_iv, access_token_tag,
		       refresh_token_ct, refresh_token_iv, refresh_token_tag,
		       expires_at, status, created_by, created_at, updated_at
		FROM connections
		WHERE id = $1
	`

	args := []any{id}
	if tenantID != "" {
		q += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}

	var (
		conn            models.Connection
		access, refresh encryption.EncryptedSecret
	)

	err := s.db.QueryRowContext(ctx, q, args...).Scan(
		&conn.ID, &conn.TenantID, &conn.RemoteOrgID, &conn.OrgName,
		&access.Ciphertext, &access.IV, &access.AuthTag,
		&refresh.Ciphertext, &refresh.IV, &refresh.AuthTag,
		&conn.ExpiresAt, &conn.Status, &conn.CreatedBy, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrConnectionNotFound
		}

		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	if conn.AccessToken, err = s.cipher.Decrypt(access); err != nil {
		return nil, err
	}

	if conn.RefreshToken, err = s.cipher.Decrypt(refresh); err != nil {
		return nil, err
	}

	return &conn, nil
}

// FindByRemoteOrg returns connection metadata (no secrets) for the given
// provider-side organization.
func (s *ConnectionStore) FindByRemoteOrg(ctx context.Context, remoteOrgID string) (*models.Connection, error) {
	const q = `
		SELECT id, tenant_id, remote_org_id, org_name, expires_at, status, created_by, created_at, updated_at
		FROM connections
		WHERE remote_org_id = $1
	`

	var conn models.Connection

	err := s.db.QueryRowContext(ctx, q, remoteOrgID).Scan(
		&conn.ID, &conn.TenantID, &conn.RemoteOrgID, &conn.OrgName,
		&conn.ExpiresAt, &conn.Status, &conn.CreatedBy, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrConnectionNotFound
		}

		return nil, fmt.Errorf("failed to find connection by remote org: %w", err)
	}

	return &conn, nil
}

// ListByTenant returns status and metadata only. Secret columns are not
// selected at all.
func (s *ConnectionStore) ListByTenant(ctx context.Context, tenantID string) ([]models.Connection, error) {
	const q = `
		SELECT id, tenant_id, remote_org_id, org_name, expires_at, status, created_by, created_at, updated_at
		FROM connections
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var ans []models.Connection

	for rows.Next() {
		var conn models.Connection

		err := rows.Scan(
			&conn.ID, &conn.TenantID, &conn.RemoteOrgID, &conn.OrgName,
			&conn.ExpiresAt, &conn.Status, &conn.CreatedBy, &conn.CreatedAt, &conn.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}

		ans = append(ans, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ans, nil
}

func (s *ConnectionStore) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus, tenantID string) error {
	q := `UPDATE connections SET status = $1, updated_at = NOW() WHERE id = $2`

	args := []any{status, id}
	if tenantID != "" {
		q += ` AND tenant_id = $3`
		args = append(args, tenantID)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.ErrConnectionNotFound
	}

	return nil
}

// UpdateTokens is the sole atomic mutation path for token refresh. Both tokens
// are re-encrypted and the status always resets to active.
func (s *ConnectionStore) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time, tenantID string) error {
	access, err := s.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	refresh, err := s.cipher.Encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	q := `
		UPDATE connections SET
			access_token_ct = $1, access_token_iv = $2, access_token_tag = $3,
			refresh_token_ct = $4, refresh_token_iv = $5, refresh_token_tag = $6,
			expires_at = $7, status = 'active', updated_at = NOW()
		WHERE id = $8
	`

	args := []any{
		access.Ciphertext, access.IV, access.AuthTag,
		refresh.Ciphertext, refresh.IV, refresh.AuthTag,
		expiresAt, id,
	}
	if tenantID != "" {
		q += ` AND tenant_id = $9`
		args = append(args, tenantID)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.ErrConnectionNotFound
	}

	s.logger.Debug("connection tokens rotated", zap.String("connection_id", id))

	return nil
}

// Delete removes the connection; cursors and webhook events cascade.
func (s *ConnectionStore) Delete(ctx context.Context, id, tenantID string) error {
	q := `DELETE FROM connections WHERE id = $1`

	args := []any{id}
	if tenantID != "" {
		q += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.ErrConnectionNotFound
	}

	return nil
}
