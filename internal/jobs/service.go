// Package jobs is the boundary the transport layer calls: Submit hands work
// to the broker and GetStatus reads the state store.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kzinmr/jobpoll/internal/broker"
	"github.com/kzinmr/jobpoll/internal/store"
	"github.com/kzinmr/jobpoll/internal/task"
	"github.com/kzinmr/jobpoll/pkg/models"
)

var (
	ErrUnknownKind = task.ErrUnknownKind
	ErrEmptyJobID  = errors.New("job id must not be empty")
)

// Kinds reports which job kinds can be submitted.
type Kinds interface {
	Get(kind string) (task.Handler, bool)
}

// Service implements Submit and GetStatus.
type Service struct {
	kinds  Kinds
	queue  broker.Queue
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(kinds Kinds, queue broker.Queue, st store.Store, logger *slog.Logger) *Service {
	return &Service{
		kinds:  kinds,
		queue:  queue,
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// Submit enqueues a job of the given kind and returns its id once the
// broker has accepted the message. Params are only checked to be
// serializable; the worker decodes them.
func (s *Service) Submit(ctx context.Context, kind string, params any) (string, error) {
	if _, ok := s.kinds.Get(kind); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}

	id := uuid.New().String()
	msg := models.JobMessage{
		JobID:      id,
		Kind:       kind,
		Params:     raw,
		EnqueuedAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		s.logger.Error("enqueue failed",
			slog.String("job_id", id),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("job submitted", slog.String("job_id", id), slog.String("kind", kind))
	return id, nil
}

// SubmitAnalyze submits an analysis job.
func (s *Service) SubmitAnalyze(ctx context.Context, params models.AnalyzeParams) (string, error) {
	return s.Submit(ctx, models.KindAnalyze, params)
}

// GetStatus returns the stored state of jobID, or the Pending default when
// no worker has written it yet. It never waits on the worker.
func (s *Service) GetStatus(ctx context.Context, jobID string) (models.JobState, error) {
	if jobID == "" {
		return models.JobState{}, ErrEmptyJobID
	}
	st, err := s.store.Get(ctx, jobID)
	if err != nil {
		return models.JobState{}, fmt.Errorf("get job state: %w", err)
	}
	return st, nil
}
