// Package postgres implements the persistence layer for provider connections,
// sync cursors and webhook events on PostgreSQL.
package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// CreateSchema ensures the required tables exist. All dependent tables are
// foreign-keyed to connections with cascading delete: disconnecting a tenant
// removes its cursors and events in one statement.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			remote_org_id TEXT NOT NULL,
			org_name TEXT NOT NULL DEFAULT '',
			access_token_ct TEXT NOT NULL,
			access_token_iv TEXT NOT NULL,
			access_token_tag TEXT NOT NULL,
			refresh_token_ct TEXT NOT NULL,
			refresh_token_iv TEXT NOT NULL,
			refresh_token_tag TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, remote_org_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create connections table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_cursors (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
			resource_type TEXT NOT NULL,
			last_modified_since TIMESTAMPTZ,
			last_page_number INT NOT NULL DEFAULT 1,
			last_page_size INT NOT NULL DEFAULT 100,
			has_more BOOLEAN NOT NULL DEFAULT TRUE,
			last_sync_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (connection_id, resource_type)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sync_cursors table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS webhook_events (
			event_id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			event_date TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			processed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create webhook_events table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_connections_tenant ON connections(tenant_id)`)
	if err != nil {
		return fmt.Errorf("failed to create tenant index: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sync_cursors_due ON sync_cursors(last_sync_at)`)
	if err != nil {
		return fmt.Errorf("failed to create cursor due index: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_webhook_events_unprocessed ON webhook_events(processed, created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create webhook events index: %w", err)
	}

	return nil
}
