package models

import (
	"context"
	"time"
)

// ResourceType enumerates the provider resource collections we sync. The set
// is closed: anything else is rejected before reaching storage.
type ResourceType string

const (
	ResourceInvoices         ResourceType = "invoices"
	ResourceContacts         ResourceType = "contacts"
	ResourceBankTransactions ResourceType = "bank-transactions"
	ResourceAccounts         ResourceType = "accounts"
	ResourceItems            ResourceType = "items"
)

// ResourceTypes returns all valid resource types.
func ResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceInvoices,
		ResourceContacts,
		ResourceBankTransactions,
		ResourceAccounts,
		ResourceItems,
	}
}

// Valid reports whether the resource type belongs to the closed enum.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceInvoices, ResourceContacts, ResourceBankTransactions, ResourceAccounts, ResourceItems:
		return true
	}

	return false
}

// SyncCursor is the per-connection, per-resource-type bookmark enabling
// resumable incremental polling.
type SyncCursor struct {
	ID                string       `json:"id"`
	ConnectionID      string       `json:"connection_id"`
	ResourceType      ResourceType `json:"resource_type"`
	LastModifiedSince *time.Time   `json:"last_modified_since"`
	LastPageNumber    int          `json:"last_page_number"`
	LastPageSize      int          `json:"last_page_size"`
	HasMore           bool         `json:"has_more"`
	LastSyncAt        *time.Time   `json:"last_sync_at"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// CursorUpdate carries the state written after each page fetch.
type CursorUpdate struct {
	LastModifiedSince *time.Time
	LastPageNumber    int
	LastPageSize      int
	HasMore           bool
}

// SyncCursorStore manages incremental sync positions. Cursors are unique per
// (connection, resource type) and created lazily on first sync attempt.
type SyncCursorStore interface {
	// GetOrCreate is an idempotent initializer: the second call for the same
	// pair returns the same row with updated_at advanced.
	GetOrCreate(ctx context.Context, connectionID string, resource ResourceType) (*SyncCursor, error)

	// Update is the single mutation path after each page fetch. The page
	// number is reset to 1 whenever HasMore flips to false (a sync cycle
	// completed). Fails with ErrCursorNotFound before GetOrCreate.
	Update(ctx context.Context, connectionID string, resource ResourceType, u CursorUpdate) error

	Get(ctx context.Context, connectionID string, resource ResourceType) (*SyncCursor, error)

	ListByConnection(ctx context.Context, connectionID string) ([]SyncCursor, error)

	// ListDue returns cursors attached to active connections whose last sync
	// is null or older than hoursAgo, oldest first. This is the selection feed
	// for the background sync driver.
	ListDue(ctx context.Context, hoursAgo int) ([]SyncCursor, error)

	// Reset clears the watermark and pagination back to a full resync:
	// LastModifiedSince=nil, LastPageNumber=1, HasMore=true.
	Reset(ctx context.Context, connectionID string, resource ResourceType) error

	Delete(ctx context.Context, connectionID string, resource ResourceType) error
}
