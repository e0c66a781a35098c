// Package worker executes claimed job messages. An Executor runs one
// message through decode, lease, body and terminal write; a Pool runs
// concurrent goroutines pulling messages from the broker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kzinmr/jobpoll/internal/store"
	"github.com/kzinmr/jobpoll/internal/task"
	"github.com/kzinmr/jobpoll/pkg/models"
)

var errLeaseLost = errors.New("lease lost")

// Executor runs a single job message and records every outcome in the
// state store. Job failures never escape as errors; an error from Process
// means the outcome itself could not be recorded.
type Executor struct {
	registry *task.Registry
	store    store.Store
	workerID string
	leaseTTL time.Duration
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(registry *task.Registry, st store.Store, workerID string, leaseTTL time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		registry: registry,
		store:    st,
		workerID: workerID,
		leaseTTL: leaseTTL,
		logger:   logger,
	}
}

// Process handles one claimed message body.
//
// A message whose params fail to decode is recorded as Failed without
// running the body. A job already in a terminal phase, or leased by another
// live worker, is skipped. If ctx is cancelled mid-run nothing terminal is
// written so the message can be redelivered.
func (e *Executor) Process(ctx context.Context, body []byte) error {
	msg, err := models.DecodeJobMessage(body)
	if err != nil {
		// Without a job id there is no record to fail; drop it.
		e.logger.Error("dropping undecodable message",
			slog.String("worker_id", e.workerID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	log := e.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("kind", msg.Kind),
		slog.String("worker_id", e.workerID),
	)

	cur, err := e.store.Get(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("read job state: %w", err)
	}
	if cur.Phase.Terminal() {
		log.Info("skipping redelivered job that already finished", slog.String("phase", string(cur.Phase)))
		return nil
	}

	h, ok := e.registry.Get(msg.Kind)
	if !ok {
		return e.fail(ctx, log, msg.JobID, fmt.Sprintf("decode params: %v %q", task.ErrUnknownKind, msg.Kind))
	}
	params, err := h.Decode(msg.Params)
	if err != nil {
		return e.fail(ctx, log, msg.JobID, "decode params: "+err.Error())
	}

	acquired, err := e.store.AcquireLease(ctx, msg.JobID, e.workerID, e.leaseTTL)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		log.Info("job leased by another worker, skipping")
		return nil
	}
	defer func() {
		if err := e.store.ReleaseLease(context.WithoutCancel(ctx), msg.JobID, e.workerID); err != nil {
			log.Warn("release lease failed", slog.String("error", err.Error()))
		}
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go e.keepLease(runCtx, cancel, msg.JobID, log)

	log.Info("job started")
	start := time.Now()
	result, runErr := e.run(runCtx, h, params, e.reporter(msg.JobID))

	switch {
	case errors.Is(context.Cause(runCtx), errLeaseLost):
		log.Warn("lease lost mid-run, abandoning job")
		return nil
	case ctx.Err() != nil:
		log.Warn("job interrupted, leaving it for redelivery", slog.String("error", ctx.Err().Error()))
		return ctx.Err()
	case runErr != nil:
		return e.fail(ctx, log, msg.JobID, runErr.Error())
	}

	if err := e.store.Put(ctx, msg.JobID, models.Succeeded(result)); err != nil {
		if errors.Is(err, store.ErrTerminal) {
			log.Info("job finished elsewhere first")
			return nil
		}
		log.Error("failed to record job success", slog.String("error", err.Error()))
		return fmt.Errorf("record success: %w", err)
	}

	log.Info("job succeeded", slog.Duration("duration", time.Since(start)))
	return nil
}

// run invokes the handler, turning a panic into an error.
func (e *Executor) run(ctx context.Context, h task.Handler, params any, r task.Reporter) (res *models.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	res, err = h.Run(ctx, params, r)
	if err == nil && res == nil {
		err = errors.New("job produced no result")
	}
	return res, err
}

// reporter writes each progress update as a full Running record.
func (e *Executor) reporter(jobID string) task.Reporter {
	return task.ReporterFunc(func(ctx context.Context, current, total int, message string) error {
		if err := e.store.Put(ctx, jobID, models.Running(current, total, message)); err != nil {
			return fmt.Errorf("write progress: %w", err)
		}
		return nil
	})
}

// keepLease renews the lease at a third of its TTL until ctx is done. If the
// lease turns out to be held by someone else the run is cancelled.
func (e *Executor) keepLease(ctx context.Context, cancel context.CancelCauseFunc, jobID string, log *slog.Logger) {
	interval := e.leaseTTL / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := e.store.RenewLease(ctx, jobID, e.workerID, e.leaseTTL)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("lease renewal failed", slog.String("error", err.Error()))
				}
				continue
			}
			if !ok {
				cancel(errLeaseLost)
				return
			}
		}
	}
}

// fail records a terminal failure. A record that is already terminal is
// left alone.
func (e *Executor) fail(ctx context.Context, log *slog.Logger, jobID, detail string) error {
	if err := e.store.Put(ctx, jobID, models.Failed(detail)); err != nil {
		if errors.Is(err, store.ErrTerminal) {
			return nil
		}
		log.Error("failed to record job failure",
			slog.String("detail", detail),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("record failure: %w", err)
	}
	log.Warn("job failed", slog.String("detail", detail))
	return nil
}
