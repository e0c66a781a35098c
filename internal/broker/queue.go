// Package broker carries job-submission messages from submitters to workers.
// Delivery is at-least-once: a message claimed by a consumer that never acks
// it is handed out again after Recover.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/kzinmr/jobpoll/pkg/models"
)

var (
	ErrEmpty       = errors.New("broker: no message available")
	ErrClosed      = errors.New("broker: queue closed")
	ErrUnavailable = errors.New("broker: unavailable")
)

// Queue is the broker transport.
type Queue interface {
	Ping(ctx context.Context) error
	Close() error

	// Enqueue returns once the transport has accepted the message.
	Enqueue(ctx context.Context, msg models.JobMessage) error
	// Dequeue claims one message, waiting up to wait. Returns ErrEmpty if
	// nothing arrived in time.
	Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error)
	// Recover hands this consumer's unacknowledged messages back to the
	// queue and returns how many were requeued.
	Recover(ctx context.Context) (int, error)
}

// Delivery is a claimed message. It must be settled with Ack once the
// worker has recorded the job's outcome.
type Delivery struct {
	Body []byte
	ack  func(ctx context.Context) error
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}
