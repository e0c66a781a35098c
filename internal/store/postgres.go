package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kzinmr/jobpoll/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5. It owns the
// pool and closes it on Close. Records never expire here; retention is left
// to an external policy.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Job states ---

func (s *PostgresStore) Get(ctx context.Context, jobID string) (models.JobState, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM job_states WHERE job_id = $1`, jobID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PostgresStore) Put(ctx context.Context, jobID string, state models.JobState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode job state: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO job_states (job_id, phase, data, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (job_id) DO UPDATE SET
		   phase = EXCLUDED.phase,
		   data = EXCLUDED.data,
		   updated_at = EXCLUDED.updated_at
		 WHERE job_states.phase NOT IN ('SUCCESS', 'FAILURE')`,
		jobID, string(state.Phase), data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put job state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}

// --- Leases ---

func (s *PostgresStore) AcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO job_leases (job_id, owner, expires_at)
		 VALUES ($1, $2, NOW() + make_interval(secs => $3))
		 ON CONFLICT (job_id) DO UPDATE SET
		   owner = EXCLUDED.owner,
		   expires_at = EXCLUDED.expires_at
		 WHERE job_leases.owner = EXCLUDED.owner OR job_leases.expires_at < NOW()`,
		jobID, owner, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_leases SET expires_at = NOW() + make_interval(secs => $3)
		 WHERE job_id = $1 AND owner = $2`,
		jobID, owner, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, jobID, owner string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM job_leases WHERE job_id = $1 AND owner = $2`, jobID, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
