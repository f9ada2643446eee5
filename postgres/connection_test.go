package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyflow/ledgersync/models"
)

func TestConnectionStore(t *testing.T) {
	db := testDB(t)
	store := NewConnectionStore(db, testCipher(t), zap.NewNop())
	ctx := context.Background()

	t.Run("SaveAndGetRoundTrip", func(t *testing.T) {
		conn := seedConnection(t, store)

		got, err := store.GetByID(ctx, conn.ID, conn.TenantID)
		require.NoError(t, err)
		assert.Equal(t, conn.AccessToken, got.AccessToken)
		assert.Equal(t, conn.RefreshToken, got.RefreshToken)
		assert.Equal(t, models.ConnectionActive, got.Status)
	})

	t.Run("SaveUpsertsOnTenantAndRemoteOrg", func(t *testing.T) {
		conn := seedConnection(t, store)

		// Save again for the same (tenant, remote org) with a different token.
		second := &models.Connection{
			TenantID:     conn.TenantID,
			RemoteOrgID:  conn.RemoteOrgID,
			OrgName:      conn.OrgName,
			AccessToken:  "second-access-token",
			RefreshToken: "second-refresh-token",
			ExpiresAt:    time.Now().Add(time.Hour).UTC(),
			CreatedBy:    "store-test",
		}
		require.NoError(t, store.Save(ctx, second))

		assert.Equal(t, conn.ID, second.ID, "upsert must reuse the existing row")

		listed, err := store.ListByTenant(ctx, conn.TenantID)
		require.NoError(t, err)
		assert.Len(t, listed, 1)

		got, err := store.GetByID(ctx, conn.ID, conn.TenantID)
		require.NoError(t, err)
		assert.Equal(t, "second-access-token", got.AccessToken)
		assert.Equal(t, models.ConnectionActive, got.Status)
	})

	t.Run("ListByTenantOmitsSecrets", func(t *testing.T) {
		conn := seedConnection(t, store)

		listed, err := store.ListByTenant(ctx, conn.TenantID)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Empty(t, listed[0].AccessToken)
		assert.Empty(t, listed[0].RefreshToken)
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		conn := seedConnection(t, store)

		_, err := store.GetByID(ctx, conn.ID, "some-other-tenant")
		assert.ErrorIs(t, err, models.ErrConnectionNotFound)

		err = store.UpdateStatus(ctx, conn.ID, models.ConnectionRevoked, "some-other-tenant")
		assert.ErrorIs(t, err, models.ErrConnectionNotFound)

		// Trusted internal caller passes no tenant filter.
		_, err = store.GetByID(ctx, conn.ID, "")
		assert.NoError(t, err)
	})

	t.Run("UpdateTokensResetsStatus", func(t *testing.T) {
		conn := seedConnection(t, store)

		require.NoError(t, store.UpdateStatus(ctx, conn.ID, models.ConnectionExpired, ""))

		expiry := time.Now().Add(time.Hour).UTC()
		require.NoError(t, store.UpdateTokens(ctx, conn.ID, "rotated-access", "rotated-refresh", expiry, ""))

		got, err := store.GetByID(ctx, conn.ID, "")
		require.NoError(t, err)
		assert.Equal(t, "rotated-access", got.AccessToken)
		assert.Equal(t, "rotated-refresh", got.RefreshToken)
		assert.Equal(t, models.ConnectionActive, got.Status)
		assert.WithinDuration(t, expiry, got.ExpiresAt, time.Second)
	})

	t.Run("FindByRemoteOrg", func(t *testing.T) {
		conn := seedConnection(t, store)

		got, err := store.FindByRemoteOrg(ctx, conn.RemoteOrgID)
		require.NoError(t, err)
		assert.Equal(t, conn.ID, got.ID)
		assert.Empty(t, got.AccessToken)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := store.GetByID(ctx, uuid.New().String(), "")
		assert.ErrorIs(t, err, models.ErrConnectionNotFound)

		err = store.Delete(ctx, uuid.New().String(), "")
		assert.ErrorIs(t, err, models.ErrConnectionNotFound)
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		conn := seedConnection(t, store)

		cursors := NewSyncCursorStore(db, zap.NewNop())
		_, err := cursors.GetOrCreate(ctx, conn.ID, models.ResourceInvoices)
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, conn.ID, conn.TenantID))

		_, err = cursors.Get(ctx, conn.ID, models.ResourceInvoices)
		assert.ErrorIs(t, err, models.ErrCursorNotFound)
	})
}

func TestConnectionStoreCorruptSecret(t *testing.T) {
	db := testDB(t)
	store := NewConnectionStore(db, testCipher(t), zap.NewNop())
	ctx := context.Background()

	conn := seedConnection(t, store)

	// Corrupt the stored ciphertext directly.
	_, err := db.ExecContext(ctx,
		`UPDATE connections SET access_token_ct = 'Y29ycnVwdGVk' WHERE id = $1`, conn.ID)
	require.NoError(t, err)

	_, err = store.GetByID(ctx, conn.ID, "")
	var decErr *models.DecryptionError
	assert.ErrorAs(t, err, &decErr)

	// Listing must still work: it never touches secret columns.
	listed, err := store.ListByTenant(ctx, conn.TenantID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
