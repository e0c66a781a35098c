package store

import (
	"context"
	"sync"
	"time"

	"github.com/kzinmr/jobpoll/pkg/models"
)

type lease struct {
	owner   string
	expires time.Time
}

type counter struct {
	n       int64
	expires time.Time
}

// MemoryStore is an in-process Store for tests and single-process dev mode.
type MemoryStore struct {
	mu       sync.Mutex
	states   map[string]models.JobState
	leases   map[string]lease
	counters map[string]counter
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:   make(map[string]models.JobState),
		leases:   make(map[string]lease),
		counters: make(map[string]counter),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for lease and counter expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }
func (s *MemoryStore) Close() error                 { return nil }

func (s *MemoryStore) Get(_ context.Context, jobID string) (models.JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[jobID]
	if !ok {
		return models.Pending(), nil
	}
	return st, nil
}

func (s *MemoryStore) Put(_ context.Context, jobID string, state models.JobState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.states[jobID]; ok && cur.Phase.Terminal() {
		return ErrTerminal
	}
	s.states[jobID] = state
	return nil
}

func (s *MemoryStore) AcquireLease(_ context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if l, ok := s.leases[jobID]; ok && l.owner != owner && now.Before(l.expires) {
		return false, nil
	}
	s.leases[jobID] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) RenewLease(_ context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[jobID]
	if !ok || l.owner != owner {
		return false, nil
	}
	l.expires = s.now().Add(ttl)
	s.leases[jobID] = l
	return true, nil
}

func (s *MemoryStore) ReleaseLease(_ context.Context, jobID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[jobID]; ok && l.owner == owner {
		delete(s.leases, jobID)
	}
	return nil
}

func (s *MemoryStore) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c := s.counters[key]
	if !now.Before(c.expires) {
		c = counter{}
	}
	c.n++
	c.expires = now.Add(expiry)
	s.counters[key] = c
	return c.n, nil
}
