package mock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kzinmr/jobpoll/internal/task"
	"github.com/kzinmr/jobpoll/pkg/models"
)

// Handler satisfies task.Handler for testing.
type Handler struct {
	Kind_      string
	DecodeFunc func(raw json.RawMessage) (any, error)
	RunFunc    func(ctx context.Context, params any, r task.Reporter) (*models.Result, error)
}

func (h *Handler) Kind() string { return h.Kind_ }

func (h *Handler) Decode(raw json.RawMessage) (any, error) {
	if h.DecodeFunc != nil {
		return h.DecodeFunc(raw)
	}
	return raw, nil
}

func (h *Handler) Run(ctx context.Context, params any, r task.Reporter) (*models.Result, error) {
	if h.RunFunc != nil {
		return h.RunFunc(ctx, params, r)
	}
	return models.NewAnalysisResult(models.AnalysisResult{}), nil
}

// NewStepHandler returns a Handler that reports steps progress updates and
// succeeds with an analysis result of items analyzed items.
func NewStepHandler(kind string, steps, items int) *Handler {
	return &Handler{
		Kind_: kind,
		RunFunc: func(ctx context.Context, _ any, r task.Reporter) (*models.Result, error) {
			for i := 1; i <= steps; i++ {
				if err := r.Progress(ctx, i, steps, fmt.Sprintf("step %d", i)); err != nil {
					return nil, err
				}
			}
			return models.NewAnalysisResult(models.AnalysisResult{AnalyzedItems: items, ProcessingTime: 0.01}), nil
		},
	}
}

// NewFailingHandler returns a Handler whose body reports one step and then
// fails with err.
func NewFailingHandler(kind string, err error) *Handler {
	return &Handler{
		Kind_: kind,
		RunFunc: func(ctx context.Context, _ any, r task.Reporter) (*models.Result, error) {
			if perr := r.Progress(ctx, 1, 3, "step 1"); perr != nil {
				return nil, perr
			}
			return nil, err
		},
	}
}

// NewPanickingHandler returns a Handler whose body panics with v.
func NewPanickingHandler(kind string, v any) *Handler {
	return &Handler{
		Kind_: kind,
		RunFunc: func(context.Context, any, task.Reporter) (*models.Result, error) {
			panic(v)
		},
	}
}

// NewBlockingHandler returns a Handler that reports step 1 and blocks until
// release is closed or ctx is done.
func NewBlockingHandler(kind string, release <-chan struct{}) *Handler {
	return &Handler{
		Kind_: kind,
		RunFunc: func(ctx context.Context, _ any, r task.Reporter) (*models.Result, error) {
			if err := r.Progress(ctx, 1, 2, "waiting"); err != nil {
				return nil, err
			}
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if err := r.Progress(ctx, 2, 2, "released"); err != nil {
				return nil, err
			}
			return models.NewAnalysisResult(models.AnalysisResult{AnalyzedItems: 1, ProcessingTime: 0.01}), nil
		},
	}
}

// Compile-time check that Handler implements task.Handler.
var _ task.Handler = (*Handler)(nil)
