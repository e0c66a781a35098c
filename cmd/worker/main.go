// Package main is the entrypoint for a standalone jobpoll worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kzinmr/jobpoll/internal/broker"
	"github.com/kzinmr/jobpoll/internal/config"
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
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Server.EmbeddedWorker {
		slog.Warn("EMBEDDED_WORKER is set; this process runs an additional pool")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.ResultBackend)
	if err != nil {
		return fmt.Errorf("open result backend: %w", err)
	}
	defer st.Close()

	workerID := worker.DefaultWorkerID(cfg.Worker.ID)
	queue, err := broker.Connect(ctx, cfg.Broker, workerID, slog.Default())
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer queue.Close()

	registry, err := task.NewRegistry(task.NewAnalyze(cfg.Analyze))
	if err != nil {
		return fmt.Errorf("register job kinds: %w", err)
	}
	slog.Info("worker ready",
		"worker_id", workerID,
		"queue", cfg.Broker.QueueName,
		"kinds", registry.Kinds(),
		"concurrency", cfg.Worker.Concurrency,
	)

	executor := worker.NewExecutor(registry, st, workerID, cfg.Worker.LeaseTTL, slog.Default())
	pool := worker.NewPool(queue, executor, workerID, slog.Default(),
		worker.WithConcurrency(cfg.Worker.Concurrency),
		worker.WithDequeueWait(cfg.Worker.DequeueWait),
	)
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	<-ctx.Done()
	slog.Info("shutdown signal received, finishing in-flight jobs...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := pool.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("worker pool shutdown: %w", err)
	}

	slog.Info("worker stopped")
	return nil
}
