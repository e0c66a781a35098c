package broker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kzinmr/jobpoll/internal/backoff"
	"github.com/kzinmr/jobpoll/internal/broker"
	"github.com/kzinmr/jobpoll/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) Ping(_ context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastBackoff() backoff.Strategy {
	return backoff.NewExponential(time.Millisecond, 1, time.Millisecond)
}

func TestWaitReady_RetriesUntilUp(t *testing.T) {
	p := &flakyPinger{failures: 3}
	err := broker.WaitReady(context.Background(), p, true, 10, fastBackoff(), quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 4, p.calls)
}

func TestWaitReady_NoRetryFailsFast(t *testing.T) {
	p := &flakyPinger{failures: 1}
	err := broker.WaitReady(context.Background(), p, false, 10, fastBackoff(), quietLogger())
	assert.ErrorIs(t, err, broker.ErrUnavailable)
	assert.Equal(t, 1, p.calls)
}

func TestWaitReady_GivesUpAfterMaxAttempts(t *testing.T) {
	p := &flakyPinger{failures: 100}
	err := broker.WaitReady(context.Background(), p, true, 5, fastBackoff(), quietLogger())
	assert.ErrorIs(t, err, broker.ErrUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 5, p.calls)
}

func TestWaitReady_ContextCancelled(t *testing.T) {
	p := &flakyPinger{failures: 100}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := backoff.NewExponential(time.Hour, 1, time.Hour)
	err := broker.WaitReady(ctx, p, true, 5, slow, quietLogger())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnect_Memory(t *testing.T) {
	q, err := broker.Connect(context.Background(), config.BrokerConfig{URL: "memory://", QueueName: "jobs", MaxRetries: 1}, "w1", quietLogger())
	require.NoError(t, err)
	_, ok := q.(*broker.MemoryQueue)
	assert.True(t, ok)
}

func TestConnect_UnreachableRedisNoRetry(t *testing.T) {
	cfg := config.BrokerConfig{
		URL:            "redis://127.0.0.1:1",
		QueueName:      "jobs",
		RetryOnStartup: false,
		MaxRetries:     3,
	}
	_, err := broker.Connect(context.Background(), cfg, "w1", quietLogger())
	assert.ErrorIs(t, err, broker.ErrUnavailable)
}

func TestConnect_UnsupportedScheme(t *testing.T) {
	_, err := broker.Connect(context.Background(), config.BrokerConfig{URL: "amqp://localhost"}, "w1", quietLogger())
	assert.Error(t, err)
}
