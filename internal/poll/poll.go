// Package poll waits for a job to reach a terminal phase by reading its
// status on a growing delay schedule.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kzinmr/jobpoll/internal/backoff"
	"github.com/kzinmr/jobpoll/pkg/models"
)

// ErrTimeout is matched by every *TimeoutError. A timeout is local to the
// poller; the job keeps running.
var ErrTimeout = errors.New("poll: timed out waiting for job")

// TimeoutError carries the last state observed before giving up.
type TimeoutError struct {
	JobID   string
	Elapsed time.Duration
	Polls   int
	Last    models.JobState
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("poll: job %s not finished after %s (%d polls, last phase %s)",
		e.JobID, e.Elapsed.Round(time.Millisecond), e.Polls, e.Last.Phase)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Getter reads the current state of a job.
type Getter interface {
	GetStatus(ctx context.Context, jobID string) (models.JobState, error)
}

// Clock is the time source the poller sleeps on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Poller polls a Getter until a job is terminal or a timeout elapses.
type Poller struct {
	getter   Getter
	schedule backoff.Strategy
	clock    Clock
	onUpdate func(models.JobState)
}

// Option configures a Poller.
type Option func(*Poller)

// WithSchedule replaces the default 500ms*1.5^n capped at 5s schedule.
func WithSchedule(s backoff.Strategy) Option {
	return func(p *Poller) { p.schedule = s }
}

func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithOnUpdate registers fn to be called with every observed state.
func WithOnUpdate(fn func(models.JobState)) Option {
	return func(p *Poller) { p.onUpdate = fn }
}

func New(g Getter, opts ...Option) *Poller {
	p := &Poller{
		getter:   g,
		schedule: backoff.Default(),
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait polls jobID until its phase is terminal and returns that state.
//
// start is the submission time the timeout is measured from. Once the
// elapsed time reaches timeout without a terminal observation Wait returns
// a *TimeoutError. A timeout of zero or less waits indefinitely. Getter
// errors and ctx cancellation end the wait immediately.
func (p *Poller) Wait(ctx context.Context, jobID string, start time.Time, timeout time.Duration) (models.JobState, error) {
	var last models.JobState
	for n := 0; ; n++ {
		st, err := p.getter.GetStatus(ctx, jobID)
		if err != nil {
			return last, fmt.Errorf("poll job %s: %w", jobID, err)
		}
		last = st
		if p.onUpdate != nil {
			p.onUpdate(st)
		}
		if st.Phase.Terminal() {
			return st, nil
		}

		delay := p.schedule.Delay(n)
		if timeout > 0 {
			elapsed := p.clock.Now().Sub(start)
			if elapsed >= timeout {
				return last, &TimeoutError{JobID: jobID, Elapsed: elapsed, Polls: n + 1, Last: last}
			}
			// Take one last look at the deadline rather than sleeping past it.
			if remaining := timeout - elapsed; remaining < delay {
				delay = remaining
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-p.clock.After(delay):
		}
	}
}
