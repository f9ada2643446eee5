// Package worker runs the background synchronization loop: it finds stale
// sync cursors and walks the provider's paginated listings, persisting
// progress after every page so an interrupted cycle resumes where it stopped.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/complyflow/ledgersync/config"
	"github.com/complyflow/ledgersync/models"
	"github.com/complyflow/ledgersync/provider"
)

// PageFetcher retrieves one page of a resource listing. Satisfied by
// *provider.Client.
type PageFetcher interface {
	FetchPage(ctx context.Context, connectionID string, resource models.ResourceType, q provider.Query) (*provider.ResourcePage, error)
}

// PageSink consumes fetched pages. Page consumption must be idempotent: a
// crash between sink and cursor update replays the page on the next cycle.
type PageSink interface {
	ConsumePage(ctx context.Context, connectionID string, page *provider.ResourcePage) error
}

// SyncWorker drives incremental synchronization for all due cursors.
type SyncWorker struct {
	cursors    models.SyncCursorStore
	fetcher    PageFetcher
	sink       PageSink
	interval   time.Duration
	staleHours int
	logger     *zap.Logger
}

func NewSyncWorker(cfg *config.Config, cursors models.SyncCursorStore, fetcher PageFetcher, sink PageSink, logger *zap.Logger) *SyncWorker {
	return &SyncWorker{
		cursors:    cursors,
		fetcher:    fetcher,
		sink:       sink,
		interval:   cfg.SyncInterval,
		staleHours: cfg.SyncStaleHours,
		logger:     logger,
	}
}

// Run blocks until the context is done, sweeping due cursors every interval.
// The first sweep happens immediately.
func (w *SyncWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Sweep(ctx); err != nil {
			w.logger.Error("sync sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep synchronizes every due cursor once. Failures on one cursor do not
// abort the sweep; a connection needing reauthorization has its remaining
// cursors skipped since they would all fail the same way.
func (w *SyncWorker) Sweep(ctx context.Context) error {
	due, err := w.cursors.ListDue(ctx, w.staleHours)
	if err != nil {
		return err
	}

	deadConnections := make(map[string]bool)

	for i := range due {
		cursor := &due[i]

		if deadConnections[cursor.ConnectionID] {
			continue
		}

		if err := w.SyncCursor(ctx, cursor); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			if errors.Is(err, models.ErrReauthorizationRequired) {
				w.logger.Warn("connection requires reauthorization, skipping its cursors",
					zap.String("connection_id", cursor.ConnectionID))
				deadConnections[cursor.ConnectionID] = true

				continue
			}

			w.logger.Error("cursor sync failed",
				zap.String("connection_id", cursor.ConnectionID),
				zap.String("resource_type", string(cursor.ResourceType)),
				zap.Error(err))
		}
	}

	return nil
}

// SyncCursor walks the listing from the cursor's current page until the
// provider reports no more pages, persisting the cursor after each page.
// When the cycle completes, the modified-since watermark advances to the
// cycle start so the next cycle only sees changes made after this one began.
func (w *SyncWorker) SyncCursor(ctx context.Context, cursor *models.SyncCursor) error {
	cycleStart := time.Now().UTC()

	page := cursor.LastPageNumber
	if page < 1 {
		page = 1
	}

	pageSize := cursor.LastPageSize
	watermark := cursor.LastModifiedSince

	for {
		result, err := w.fetcher.FetchPage(ctx, cursor.ConnectionID, cursor.ResourceType, provider.Query{
			Page:          page,
			PageSize:      pageSize,
			ModifiedSince: watermark,
		})
		if err != nil {
			return err
		}

		if w.sink != nil {
			if err := w.sink.ConsumePage(ctx, cursor.ConnectionID, result); err != nil {
				return err
			}
		}

		hasMore := result.HasMore()

		update := models.CursorUpdate{
			LastModifiedSince: watermark,
			LastPageNumber:    page + 1,
			LastPageSize:      result.Pagination.PageSize,
			HasMore:           hasMore,
		}
		if !hasMore {
			update.LastModifiedSince = &cycleStart
		}

		if err := w.cursors.Update(ctx, cursor.ConnectionID, cursor.ResourceType, update); err != nil {
			return err
		}

		if !hasMore {
			w.logger.Debug("sync cycle completed",
				zap.String("connection_id", cursor.ConnectionID),
				zap.String("resource_type", string(cursor.ResourceType)),
				zap.Int("pages", page),
				zap.Time("watermark", cycleStart))

			return nil
		}

		page++
	}
}

// EnsureCursors lazily creates cursors for every resource type of a
// connection, typically right after authorization.
func (w *SyncWorker) EnsureCursors(ctx context.Context, connectionID string) error {
	for _, resource := range models.ResourceTypes() {
		if _, err := w.cursors.GetOrCreate(ctx, connectionID, resource); err != nil {
			return err
		}
	}

	return nil
}
