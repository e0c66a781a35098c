package store

import (
	"context"
	"fmt"
	"net/url"

	"github.com/kzinmr/jobpoll/internal/config"
)

// Open connects to the result backend named by cfg.URL. The scheme picks the
// implementation: redis/rediss, postgres/postgresql (migrations are applied
// first) or memory.
func Open(ctx context.Context, cfg config.ResultBackendConfig) (Store, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse result backend URL: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		rs, err := NewRedisStore(cfg.URL, cfg.RecordTTL)
		if err != nil {
			return nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return rs, nil
	case "postgres", "postgresql":
		if err := RunMigrations(cfg.URL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		pool, err := Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, u.Scheme)
	}
}
