// ledgersyncd runs the provider synchronization subsystem: the webhook
// receiver, the background sync loop, and the task queue consumer.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/complyflow/ledgersync/config"
	"github.com/complyflow/ledgersync/pkg/encryption"
	"github.com/complyflow/ledgersync/postgres"
	"github.com/complyflow/ledgersync/provider"
	"github.com/complyflow/ledgersync/queue"
	"github.com/complyflow/ledgersync/webhook"
	"github.com/complyflow/ledgersync/worker"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("ledgersyncd exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	if err := postgres.CreateSchema(db); err != nil {
		return err
	}

	cipher, err := encryption.NewCipher(cfg.EncryptionSecret)
	if err != nil {
		return err
	}

	connections := postgres.NewConnectionStore(db, cipher, logger)
	cursors := postgres.NewSyncCursorStore(db, logger)
	events := postgres.NewWebhookEventStore(db, logger)

	tokens := provider.NewTokenManager(cfg, connections, logger)
	client := provider.NewClient(cfg, tokens, logger)

	queueClient := queue.NewClient(cfg, logger)
	defer queueClient.Close()

	ingester := webhook.NewIngester(cfg.WebhookSigningKey, connections, events, queueClient, logger)

	queueServer := queue.NewServer(cfg, logger)
	handler := queue.NewHandler(events, logger,
		queue.WithRetention(time.Duration(cfg.EventRetentionDays)*24*time.Hour))

	if err := queueServer.Start(handler.Mux()); err != nil {
		return err
	}
	defer queueServer.Shutdown()

	syncWorker := worker.NewSyncWorker(cfg, cursors, client, nil, logger)

	go func() {
		if err := syncWorker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("sync worker stopped", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/webhooks/provider", webhook.NewHandler(ingester, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ledgersyncd listening", zap.String("addr", srv.Addr))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}
