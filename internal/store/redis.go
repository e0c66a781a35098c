package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kzinmr/jobpoll/pkg/models"
	"github.com/redis/go-redis/v9"
)

// putScript overwrites a state hash unless it already holds a terminal phase.
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'phase')
if cur == 'SUCCESS' or cur == 'FAILURE' then
  return 0
end
redis.call('HSET', KEYS[1], 'phase', ARGV[1], 'data', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
else
  redis.call('PERSIST', KEYS[1])
end
return 1
`)

var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
if cur then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore implements the Store interface using go-redis/v9. Each job is
// a hash holding its phase and the JSON-encoded state.
type RedisStore struct {
	client    *redis.Client
	recordTTL time.Duration
}

// NewRedisStore creates a new RedisStore from a Redis URL. Records expire
// recordTTL after their last write; zero keeps them forever.
func NewRedisStore(redisURL string, recordTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), recordTTL: recordTTL}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (models.JobState, error) {
	data, err := s.client.HGet(ctx, StateKey(jobID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Pending(), nil
	}
	if err != nil {
		return models.JobState{}, fmt.Errorf("get job state: %w", err)
	}
	var st models.JobState
	if err := json.Unmarshal(data, &st); err != nil {
		return models.JobState{}, fmt.Errorf("decode job state: %w", err)
	}
	return st, nil
}

func (s *RedisStore) Put(ctx context.Context, jobID string, state models.JobState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode job state: %w", err)
	}
	written, err := putScript.Run(ctx, s.client, []string{StateKey(jobID)},
		string(state.Phase), data, s.recordTTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("put job state: %w", err)
	}
	if written == 0 {
		return ErrTerminal
	}
	return nil
}

func (s *RedisStore) AcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	ok, err := acquireScript.Run(ctx, s.client, []string{LeaseKey(jobID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok == 1, nil
}

func (s *RedisStore) RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	ok, err := renewScript.Run(ctx, s.client, []string{LeaseKey(jobID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return ok == 1, nil
}

func (s *RedisStore) ReleaseLease(ctx context.Context, jobID, owner string) error {
	if err := releaseScript.Run(ctx, s.client, []string{LeaseKey(jobID)}, owner).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
