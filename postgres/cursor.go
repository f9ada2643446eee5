package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyflow/ledgersync/models"
)

// SyncCursorStore is the PostgreSQL implementation of models.SyncCursorStore.
type SyncCursorStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ models.SyncCursorStore = (*SyncCursorStore)(nil)

func NewSyncCursorStore(db *sql.DB, logger *zap.Logger) *SyncCursorStore {
	return &SyncCursorStore{db: db, logger: logger}
}

const cursorColumns = `id, connection_id, resource_type, last_modified_since,
	last_page_number, last_page_size, has_more, last_sync_at, created_at, updated_at`

// GetOrCreate initializes the cursor lazily. Calling it again for the same
// (connection, resource type) pair returns the existing row with updated_at
// advanced.
func (s *SyncCursorStore) GetOrCreate(ctx context.Context, connectionID string, resource models.ResourceType) (*models.SyncCursor, error) {
	if !resource.Valid() {
		return nil, models.ErrInvalidResourceType
	}

	q := `
		INSERT INTO sync_cursors (id, connection_id, resource_type, last_page_number, last_page_size, has_more, created_at, updated_at)
		VALUES ($1, $2, $3, 1, 100, TRUE, NOW(), NOW())
		ON CONFLICT (connection_id, resource_type) DO UPDATE SET updated_at = NOW()
		RETURNING ` + cursorColumns

	row := s.db.QueryRowContext(ctx, q, uuid.New().String(), connectionID, resource)

	return scanCursor(row)
}

// Update is the single mutation path after each page fetch. When HasMore flips
// to false the page number is forced back to 1: the sync cycle completed and
// the next pass starts over. last_sync_at always advances.
func (s *SyncCursorStore) Update(ctx context.Context, connectionID string, resource models.ResourceType, u models.CursorUpdate) error {
	if !resource.Valid() {
		return models.ErrInvalidResourceType
	}

	pageNumber := u.LastPageNumber
	if !u.HasMore {
		pageNumber = 1
	}

	const q = `
		UPDATE sync_cursors SET
			last_modified_since = $1,
			last_page_number = $2,
			last_page_size = $3,
			has_more = $4,
			last_sync_at = NOW(),
			updated_at = NOW()
		WHERE connection_id = $5 AND resource_type = $6
	`

	result, err := s.db.ExecContext(ctx, q,
		u.LastModifiedSince, pageNumber, u.LastPageSize, u.HasMore, connectionID, resource)
	if err != nil {
		return fmt.Errorf("failed to update sync cursor: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.ErrCursorNotFound
	}

	return nil
}

func (s *SyncCursorStore) Get(ctx context.Context, connectionID string, resource models.ResourceType) (*models.SyncCursor, error) {
	if !resource.Valid() {
		return nil, models.ErrInvalidResourceType
	}

	q := `SELECT ` + cursorColumns + ` FROM sync_cursors WHERE connection_id = $1 AND resource_type = $2`

	return scanCursor(s.db.QueryRowContext(ctx, q, connectionID, resource))
}

func (s *SyncCursorStore) ListByConnection(ctx context.Context, connectionID string) ([]models.SyncCursor, error) {
	q := `SELECT ` + cursorColumns + ` FROM sync_cursors WHERE connection_id = $1 ORDER BY resource_type`

	rows, err := s.db.QueryContext(ctx, q, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync cursors: %w", err)
	}
	defer rows.Close()

	return collectCursors(rows)
}

// ListDue returns cursors attached to active connections whose last sync is
// null or older than the threshold, oldest first. This is the selection feed
// for the periodic sync driver.
func (s *SyncCursorStore) ListDue(ctx context.Context, hoursAgo int) ([]models.SyncCursor, error) {
	const q = `
		SELECT c.id, c.connection_id, c.resource_type, c.last_modified_since,
		       c.last_page_number, c.last_page_size, c.has_more, c.last_sync_at, c.created_at, c.updated_at
		FROM sync_cursors c
		JOIN connections conn ON conn.id = c.connection_id
		WHERE conn.status = 'active'
		  AND (c.last_sync_at IS NULL OR c.last_sync_at < NOW() - make_interval(hours => $1))
		ORDER BY c.last_sync_at ASC NULLS FIRST
	`

	rows, err := s.db.QueryContext(ctx, q, hoursAgo)
	if err != nil {
		return nil, fmt.Errorf("failed to list due cursors: %w", err)
	}
	defer rows.Close()

	return collectCursors(rows)
}

// Reset forces a full resync: watermark cleared, page back to 1, hasMore true.
func (s *SyncCursorStore) Reset(ctx context.Context, connectionID string, resource models.ResourceType) error {
	if !resource.Valid() {
		return models.ErrInvalidResourceType
	}

	const q = `
		UPDATE sync_cursors SET
			last_modified_since = NULL,
			last_page_number = 1,
			has_more = TRUE,
			updated_at = NOW()
		WHERE connection_id = $1 AND resource_type = $2
	`

	result, err := s.db.ExecContext(ctx, q, connectionID, resource)
	if err != nil {
		return fmt.Errorf("failed to reset sync cursor: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.ErrCursorNotFound
	}

	s.logger.Info("sync cursor reset",
		zap.String("connection_id", connectionID),
		zap.String("resource_type", string(resource)))

	return nil
}

func (s *SyncCursorStore) Delete(ctx context.Context, connectionID string, resource models.ResourceType) error {
	if !resource.Valid() {
		return models.ErrInvalidResourceType
	}

	const q = `DELETE FROM sync_cursors WHERE connection_id = $1 AND resource_type = $2`

	result, err := s.db.ExecContext(ctx, q, connectionID, resource)
	if err != nil {
		return fmt.Errorf("failed to delete sync cursor: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return models.ErrCursorNotFound
	}

	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCursor(row scannable) (*models.SyncCursor, error) {
	var c models.SyncCursor

	err := row.Scan(
		&c.ID, &c.ConnectionID, &c.ResourceType, &c.LastModifiedSince,
		&c.LastPageNumber, &c.LastPageSize, &c.HasMore, &c.LastSyncAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrCursorNotFound
		}

		return nil, fmt.Errorf("failed to scan sync cursor: %w", err)
	}

	return &c, nil
}

func collectCursors(rows *sql.Rows) ([]models.SyncCursor, error) {
	var ans []models.SyncCursor

	for rows.Next() {
		c, err := scanCursor(rows)
		if err != nil {
			return nil, err
		}

		ans = append(ans, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ans, nil
}
