// Package main is the entrypoint for the jobpoll API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kzinmr/jobpoll/internal/api"
	"github.com/kzinmr/jobpoll/internal/api/handler"
	mw "github.com/kzinmr/jobpoll/internal/api/middleware"
	"github.com/kzinmr/jobpoll/internal/broker"
	"github.com/kzinmr/jobpoll/internal/config"
	"github.com/kzinmr/jobpoll/internal/jobs"
	"github.com/kzinmr/jobpoll/internal/store"
	"github.com/kzinmr/jobpoll/internal/task"
	"github.com/kzinmr/jobpoll/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "embedded_worker", cfg.Server.EmbeddedWorker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open result backend
	st, err := store.Open(ctx, cfg.ResultBackend)
	if err != nil {
		return fmt.Errorf("open result backend: %w", err)
	}
	defer st.Close()
	slog.Info("result backend connected")

	// 3. Connect to broker
	workerID := worker.DefaultWorkerID(cfg.Worker.ID)
	queue, err := broker.Connect(ctx, cfg.Broker, workerID, slog.Default())
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer queue.Close()
	slog.Info("broker connected", "queue", cfg.Broker.QueueName)

	// 4. Register job kinds
	registry, err := task.NewRegistry(task.NewAnalyze(cfg.Analyze))
	if err != nil {
		return fmt.Errorf("register job kinds: %w", err)
	}

	// 5. Optional in-process worker pool
	var pool *worker.Pool
	if cfg.Server.EmbeddedWorker {
		pool = newPool(cfg, registry, st, queue, workerID)
		if err := pool.Start(ctx); err != nil {
			return fmt.Errorf("start worker pool: %w", err)
		}
	}

	// 6. Build router with dependencies
	svc := jobs.NewService(registry, queue, st, slog.Default())
	router := newRouter(cfg, svc, st, queue)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if pool != nil {
		if err := pool.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("worker pool shutdown: %w", err)
		}
	}

	slog.Info("server stopped gracefully")
	return nil
}

func newPool(cfg *config.Config, registry *task.Registry, st store.Store, queue broker.Queue, workerID string) *worker.Pool {
	executor := worker.NewExecutor(registry, st, workerID, cfg.Worker.LeaseTTL, slog.Default())
	return worker.NewPool(queue, executor, workerID, slog.Default(),
		worker.WithConcurrency(cfg.Worker.Concurrency),
		worker.WithDequeueWait(cfg.Worker.DequeueWait),
	)
}

func newRouter(cfg *config.Config, svc *jobs.Service, st store.Store, queue broker.Queue) http.Handler {
	deps := api.Dependencies{
		HealthHandler: handler.NewHealthHandler(st, queue),
		SubmitAnalyze: handler.NewSubmitAnalyzeHandler(svc),
		GetTaskStatus: handler.NewStatusHandler(svc),
	}
	// Backends without a counter run without submission rate limiting.
	if counter, ok := st.(store.Counter); ok {
		deps.RateLimit = mw.NewRateLimit(counter, cfg.Server.RateLimitPerMinute)
	}
	return api.NewRouter(deps)
}
