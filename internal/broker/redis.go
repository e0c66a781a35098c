package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kzinmr/jobpoll/pkg/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "jobpoll:queue:"

// RedisQueue is a reliable queue on go-redis/v9. Producers LPUSH onto the
// pending list; a consumer atomically moves the tail element into its own
// processing list with BLMOVE and removes it there on Ack. Only one consumer
// can move a given element, so a message is claimed by one worker at a time.
type RedisQueue struct {
	client   *redis.Client
	name     string
	consumer string
}

// NewRedisQueue creates a queue named name for the given consumer id.
// The consumer id should be stable across restarts so Recover can find the
// messages a crashed process left behind.
func NewRedisQueue(redisURL, name, consumer string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisQueue{client: redis.NewClient(opts), name: name, consumer: consumer}, nil
}

func (q *RedisQueue) pendingKey() string { return keyPrefix + q.name }

func (q *RedisQueue) processingKey() string {
	return keyPrefix + q.name + ":processing:" + q.consumer
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg models.JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode job message: %w", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey(), body).Err(); err != nil {
		return fmt.Errorf("%w: enqueue: %v", ErrUnavailable, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	if wait <= 0 {
		wait = time.Second
	}
	body, err := q.client.BLMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT", wait).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: dequeue: %v", ErrUnavailable, err)
	}

	processing := q.processingKey()
	return &Delivery{
		Body: body,
		ack: func(ctx context.Context) error {
			if err := q.client.LRem(ctx, processing, 1, body).Err(); err != nil {
				return fmt.Errorf("ack: %w", err)
			}
			return nil
		},
	}, nil
}

// Recover moves everything left in this consumer's processing list back to
// the consuming end of the pending list, so it is delivered next.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processingKey(), q.pendingKey(), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover: %w", err)
		}
		n++
	}
}

// Len returns the number of messages waiting in the pending list.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pendingKey()).Result()
}
