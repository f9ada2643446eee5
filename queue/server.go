package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/complyflow/ledgersync/config"
)

// Server wraps the asynq consumer side.
type Server struct {
	server *asynq.Server
	logger *zap.Logger
}

func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				QueueWebhooks:    6,
				QueueMaintenance: 1,
			},
			RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
				delay := time.Duration(1<<uint(n)) * time.Second
				if delay > time.Minute {
					delay = time.Minute
				}

				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				logger.Error("task failed",
					zap.String("type", task.Type()),
					zap.Error(err))
			}),
		},
	)

	return &Server{server: srv, logger: logger}
}

// Start begins consuming tasks with the given mux. Non-blocking.
func (s *Server) Start(mux *asynq.ServeMux) error {
	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start queue server: %w", err)
	}

	return nil
}

// Shutdown waits for in-flight tasks and stops the server.
func (s *Server) Shutdown() {
	s.server.Shutdown()
}
