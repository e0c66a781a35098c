package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kzinmr/jobpoll/pkg/models"
)

// MemoryQueue is an in-process Queue for tests and single-process dev mode.
type MemoryQueue struct {
	mu       sync.Mutex
	items    [][]byte
	inflight map[uint64][]byte
	nextTag  uint64
	closed   bool
	signal   chan struct{}
	done     chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inflight: make(map[uint64][]byte),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *MemoryQueue) Ping(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg models.JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode job message: %w", err)
	}
	return q.Publish(body)
}

// Publish enqueues a raw body as is.
func (q *MemoryQueue) Publish(body []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, body)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.items) > 0 {
			body := q.items[0]
			q.items = q.items[1:]
			q.nextTag++
			tag := q.nextTag
			q.inflight[tag] = body
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return &Delivery{Body: body, ack: func(context.Context) error {
				q.mu.Lock()
				delete(q.inflight, tag)
				q.mu.Unlock()
				return nil
			}}, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-q.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrEmpty
		}
	}
}

func (q *MemoryQueue) Recover(_ context.Context) (int, error) {
	q.mu.Lock()
	n := len(q.inflight)
	for tag, body := range q.inflight {
		q.items = append([][]byte{body}, q.items...)
		delete(q.inflight, tag)
	}
	q.mu.Unlock()
	if n > 0 {
		q.wake()
	}
	return n, nil
}

// Len returns the number of messages waiting to be claimed.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Inflight returns the number of claimed but unacknowledged messages.
func (q *MemoryQueue) Inflight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *MemoryQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
