package store

import (
	"context"
	"errors"
	"time"

	"github.com/kzinmr/jobpoll/pkg/models"
)

var ErrTerminal = errors.New("job already in a terminal phase")
var ErrUnsupportedBackend = errors.New("unsupported result backend")

// Store is the job state interface: a key-value mapping from job id to its
// current state. Implementations must be safe for concurrent use.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	// Get returns the stored state, or the Pending default for ids that
	// have never been written.
	Get(ctx context.Context, jobID string) (models.JobState, error)
	// Put overwrites the record. Returns ErrTerminal if the record is
	// already Succeeded or Failed.
	Put(ctx context.Context, jobID string, state models.JobState) error

	// AcquireLease claims jobID for owner until ttl elapses. It succeeds
	// when no lease exists, the existing lease expired, or owner already
	// holds it.
	AcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error)
	// RenewLease extends a lease owner still holds.
	RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, jobID, owner string) error
}

// Counter is implemented by backends that can back request rate limiting.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}
