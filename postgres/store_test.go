package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/complyflow/ledgersync/models"
	"github.com/complyflow/ledgersync/pkg/encryption"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL store test: PG_TEST_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, CreateSchema(db))

	return db
}

func testCipher(t *testing.T) *encryption.Cipher {
	t.Helper()

	c, err := encryption.NewCipher("store-test-secret")
	require.NoError(t, err)

	return c
}

func seedConnection(t *testing.T, store *ConnectionStore) *models.Connection {
	t.Helper()

	conn := &models.Connection{
		TenantID:     uuid.New().String(),
		RemoteOrgID:  uuid.New().String(),
		OrgName:      "Test Org Ltd",
		AccessToken:  "access-" + uuid.New().String(),
		RefreshToken: "refresh-" + uuid.New().String(),
		ExpiresAt:    time.Now().Add(30 * time.Minute).UTC(),
		CreatedBy:    "store-test",
	}

	require.NoError(t, store.Save(context.Background(), conn))
	t.Cleanup(func() { _ = store.Delete(context.Background(), conn.ID, "") })

	return conn
}
