package task

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/kzinmr/jobpoll/internal/config"
	"github.com/kzinmr/jobpoll/pkg/models"
)

// analyzeSteps are the phases of the simulated analysis pipeline.
var analyzeSteps = []string{
	"Loading dataset",
	"Cleaning records",
	"Extracting features",
	"Scoring anomalies",
	"Writing report",
}

// Analyze simulates a data analysis pipeline of fixed steps, each blocking
// for a random duration in [StepMin, StepMax].
type Analyze struct {
	StepMin time.Duration
	StepMax time.Duration
	// Sleep blocks for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewAnalyze(cfg config.AnalyzeConfig) *Analyze {
	return &Analyze{StepMin: cfg.StepMin, StepMax: cfg.StepMax, Sleep: sleepCtx}
}

func (a *Analyze) Kind() string { return models.KindAnalyze }

func (a *Analyze) Decode(raw json.RawMessage) (any, error) {
	p, err := models.DecodeAnalyzeParams(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return p, nil
}

func (a *Analyze) Run(ctx context.Context, params any, r Reporter) (*models.Result, error) {
	p, ok := params.(models.AnalyzeParams)
	if !ok {
		return nil, fmt.Errorf("%w: expected AnalyzeParams, got %T", ErrInvalidParams, params)
	}

	start := time.Now()
	total := len(analyzeSteps)
	for i, name := range analyzeSteps {
		if err := a.sleep(ctx, a.stepDuration()); err != nil {
			return nil, fmt.Errorf("step %d/%d (%s): %w", i+1, total, name, err)
		}
		if err := r.Progress(ctx, i+1, total, name); err != nil {
			return nil, fmt.Errorf("report progress: %w", err)
		}
	}

	return models.NewAnalysisResult(models.AnalysisResult{
		AnalyzedItems:     p.DataSize,
		AnomaliesDetected: rand.IntN(p.DataSize/10 + 1), //nolint:gosec // simulated output
		ProcessingTime:    time.Since(start).Seconds(),
	}), nil
}

func (a *Analyze) stepDuration() time.Duration {
	span := a.StepMax - a.StepMin
	if span <= 0 {
		return a.StepMin
	}
	return a.StepMin + rand.N(span+1) //nolint:gosec // simulated work
}

func (a *Analyze) sleep(ctx context.Context, d time.Duration) error {
	if a.Sleep != nil {
		return a.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
