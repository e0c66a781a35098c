package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kzinmr/jobpoll/internal/broker"
)

// Pool runs a fixed number of goroutines that claim messages from the
// broker and hand them to the Executor.
type Pool struct {
	queue       broker.Queue
	executor    *Executor
	workerID    string
	concurrency int
	dequeueWait time.Duration
	errorDelay  time.Duration
	logger      *slog.Logger

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	loopCancel context.CancelFunc
	jobCancel  context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithDequeueWait sets how long one dequeue call blocks waiting for a message.
func WithDequeueWait(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.dequeueWait = d
		}
	}
}

// WithErrorDelay sets the pause after a broker error before the next dequeue.
func WithErrorDelay(d time.Duration) PoolOption {
	return func(p *Pool) { p.errorDelay = d }
}

// NewPool creates a worker pool.
func NewPool(queue broker.Queue, executor *Executor, workerID string, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:       queue,
		executor:    executor,
		workerID:    workerID,
		concurrency: 4,
		dequeueWait: 2 * time.Second,
		errorDelay:  time.Second,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultWorkerID returns id if set, otherwise the hostname. The id must be
// stable across restarts so Recover finds the previous run's claims.
func DefaultWorkerID(id string) string {
	if id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}

func (p *Pool) WorkerID() string { return p.workerID }

// Start requeues messages this worker claimed but never acked, then
// launches the worker goroutines. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	n, err := p.queue.Recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		p.logger.Info("requeued unacknowledged messages",
			slog.String("worker_id", p.workerID),
			slog.Int("count", n),
		)
	}

	loopCtx, loopCancel := context.WithCancel(context.WithoutCancel(ctx))
	jobCtx, jobCancel := context.WithCancel(context.WithoutCancel(ctx))
	p.loopCancel = loopCancel
	p.jobCancel = jobCancel
	p.stopCh = make(chan struct{})
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop(loopCtx, jobCtx)
	}
	return nil
}

// Stop stops claiming new messages and waits for in-flight jobs. If ctx
// expires first the in-flight jobs are cancelled and left unacked.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.loopCancel()
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.jobCancel()
		<-done
	}
	p.jobCancel()
	return nil
}

func (p *Pool) dequeueLoop(loopCtx, jobCtx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		d, err := p.queue.Dequeue(loopCtx, p.dequeueWait)
		switch {
		case err == nil:
		case errors.Is(err, broker.ErrEmpty):
			continue
		case errors.Is(err, broker.ErrClosed), loopCtx.Err() != nil:
			return
		default:
			p.logger.Error("dequeue failed",
				slog.String("worker_id", p.workerID),
				slog.String("error", err.Error()),
			)
			p.sleep(p.errorDelay)
			continue
		}

		p.handle(jobCtx, d)
	}
}

func (p *Pool) handle(ctx context.Context, d *broker.Delivery) {
	if err := p.executor.Process(ctx, d.Body); err != nil {
		// Unacked: the message comes back on the next Recover.
		p.logger.Error("job outcome not recorded, leaving message unacked",
			slog.String("worker_id", p.workerID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := d.Ack(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("ack failed",
			slog.String("worker_id", p.workerID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopCh:
	}
}
