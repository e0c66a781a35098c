package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/kzinmr/jobpoll/internal/backoff"
	"github.com/kzinmr/jobpoll/internal/config"
)

// Pinger is anything whose connectivity can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DefaultRetryBackoff spaces startup connection attempts.
func DefaultRetryBackoff() backoff.Strategy {
	return backoff.NewExponential(500*time.Millisecond, 2, 30*time.Second)
}

// Connect opens the broker named by cfg.URL for the given consumer id and
// waits until it answers a ping, retrying per cfg.RetryOnStartup.
func Connect(ctx context.Context, cfg config.BrokerConfig, consumer string, logger *slog.Logger) (Queue, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse broker URL: %w", err)
	}

	var q Queue
	switch u.Scheme {
	case "redis", "rediss":
		rq, err := NewRedisQueue(cfg.URL, cfg.QueueName, consumer)
		if err != nil {
			return nil, err
		}
		q = rq
	case "memory":
		q = NewMemoryQueue()
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}

	if err := WaitReady(ctx, q, cfg.RetryOnStartup, cfg.MaxRetries, DefaultRetryBackoff(), logger); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

// WaitReady pings p until it answers. With retry disabled a single failed
// ping is fatal; otherwise up to maxAttempts pings are made, spaced by bo.
// A broker that stays unreachable is reported as ErrUnavailable.
func WaitReady(ctx context.Context, p Pinger, retry bool, maxAttempts int, bo backoff.Strategy, logger *slog.Logger) error {
	attempts := 1
	if retry && maxAttempts > 1 {
		attempts = maxAttempts
	}

	var err error
	for n := range attempts {
		if err = p.Ping(ctx); err == nil {
			return nil
		}
		if n == attempts-1 {
			break
		}

		delay := bo.Delay(n)
		logger.Warn("broker connection failed, retrying",
			slog.Int("attempt", n+1),
			slog.Int("max_attempts", attempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w after %d attempt(s): %v", ErrUnavailable, attempts, err)
}
