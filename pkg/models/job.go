package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Phase is the lifecycle phase of a job. The string values are the labels
// callers see on the wire.
type Phase string

const (
	PhasePending   Phase = "PENDING"
	PhaseRunning   Phase = "PROGRESS"
	PhaseSucceeded Phase = "SUCCESS"
	PhaseFailed    Phase = "FAILURE"
)

// PendingStatus is the status message shown before a worker claims a job.
const PendingStatus = "Pending..."

// Terminal reports whether no further transitions leave p.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhasePending, PhaseRunning, PhaseSucceeded, PhaseFailed:
		return true
	}
	return false
}

var ErrInvalidState = errors.New("invalid job state")

// JobState is the current view of a job as held by the state store.
// Each write replaces the whole record.
type JobState struct {
	Phase         Phase     `json:"phase"`
	Current       int       `json:"current"`
	Total         int       `json:"total"`
	Message       string    `json:"message,omitempty"`
	Result        *Result   `json:"result,omitempty"`
	FailureDetail string    `json:"failure_detail,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
}

// Pending is the state synthesized for ids no worker has written yet.
func Pending() JobState {
	return JobState{Phase: PhasePending, Current: 0, Total: 1, Message: PendingStatus}
}

// Running builds a progress record for step current of total.
func Running(current, total int, message string) JobState {
	if total < 1 {
		total = 1
	}
	if current < 0 {
		current = 0
	}
	return JobState{
		Phase:     PhaseRunning,
		Current:   current,
		Total:     total,
		Message:   message,
		UpdatedAt: time.Now().UTC(),
	}
}

// Succeeded builds the terminal success record. Progress fields are reset.
func Succeeded(result *Result) JobState {
	return JobState{
		Phase:     PhaseSucceeded,
		Current:   1,
		Total:     1,
		Result:    result,
		UpdatedAt: time.Now().UTC(),
	}
}

// Failed builds the terminal failure record.
func Failed(detail string) JobState {
	return JobState{
		Phase:         PhaseFailed,
		Current:       1,
		Total:         1,
		FailureDetail: detail,
		UpdatedAt:     time.Now().UTC(),
	}
}

// Validate checks the payload rules for the record's phase: a result only
// on success, a failure detail only on failure, and exactly one of the two
// once terminal.
func (s JobState) Validate() error {
	if !s.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidState, s.Phase)
	}
	if s.Current < 0 || s.Total < 1 {
		return fmt.Errorf("%w: progress %d/%d", ErrInvalidState, s.Current, s.Total)
	}
	switch s.Phase {
	case PhaseSucceeded:
		if s.Result == nil {
			return fmt.Errorf("%w: success without result", ErrInvalidState)
		}
		if s.FailureDetail != "" {
			return fmt.Errorf("%w: success with failure detail", ErrInvalidState)
		}
	case PhaseFailed:
		if s.FailureDetail == "" {
			return fmt.Errorf("%w: failure without detail", ErrInvalidState)
		}
		if s.Result != nil {
			return fmt.Errorf("%w: failure with result", ErrInvalidState)
		}
	default:
		if s.Result != nil || s.FailureDetail != "" {
			return fmt.Errorf("%w: %s record carries a terminal payload", ErrInvalidState, s.Phase)
		}
	}
	return nil
}

// StatusView is the shape returned to callers of GetStatus.
type StatusView struct {
	State   Phase   `json:"state"`
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Status  string  `json:"status"`
	Result  *Result `json:"result,omitempty"`
}

// View maps a stored record to the caller-facing shape, filling in the
// per-phase defaults.
func (s JobState) View() StatusView {
	switch s.Phase {
	case PhaseSucceeded:
		return StatusView{State: s.Phase, Current: s.Current, Total: s.Total, Status: s.Message, Result: s.Result}
	case PhaseFailed:
		return StatusView{State: s.Phase, Current: 1, Total: 1, Status: s.FailureDetail}
	case PhaseRunning:
		total := s.Total
		if total < 1 {
			total = 1
		}
		return StatusView{State: s.Phase, Current: s.Current, Total: total, Status: s.Message}
	default:
		return StatusView{State: PhasePending, Current: 0, Total: 1, Status: PendingStatus}
	}
}

// JobState rebuilds a state record from its caller-facing view.
func (v StatusView) JobState() JobState {
	switch v.State {
	case PhaseSucceeded:
		return JobState{Phase: v.State, Current: v.Current, Total: v.Total, Message: v.Status, Result: v.Result}
	case PhaseFailed:
		return JobState{Phase: v.State, Current: v.Current, Total: v.Total, FailureDetail: v.Status}
	case PhaseRunning:
		return JobState{Phase: v.State, Current: v.Current, Total: v.Total, Message: v.Status}
	default:
		return Pending()
	}
}

// JobMessage is the broker payload handed from the submitter to a worker.
type JobMessage struct {
	JobID      string          `json:"job_id"`
	Kind       string          `json:"kind"`
	Params     json.RawMessage `json:"params"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// DecodeJobMessage parses a raw broker body. The params are left raw; the
// handler for the message's kind decodes them.
func DecodeJobMessage(body []byte) (JobMessage, error) {
	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return JobMessage{}, fmt.Errorf("decode job message: %w", err)
	}
	if m.JobID == "" {
		return JobMessage{}, errors.New("decode job message: missing job_id")
	}
	return m, nil
}
