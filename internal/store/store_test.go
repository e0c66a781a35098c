package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kzinmr/jobpoll/internal/store"
	"github.com/kzinmr/jobpoll/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreContract exercises the behaviour every Store backend must share.
func testStoreContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("unknown id is pending", func(t *testing.T) {
		s := newStore(t)
		st, err := s.Get(context.Background(), uuid.NewString())
		require.NoError(t, err)
		assert.Equal(t, models.Pending(), st)
	})

	t.Run("last write wins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uuid.NewString()

		require.NoError(t, s.Put(ctx, id, models.Running(1, 5, "loading")))
		require.NoError(t, s.Put(ctx, id, models.Running(2, 5, "cleaning")))

		st, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PhaseRunning, st.Phase)
		assert.Equal(t, 2, st.Current)
		assert.Equal(t, 5, st.Total)
		assert.Equal(t, "cleaning", st.Message)
	})

	t.Run("terminal record is immutable", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uuid.NewString()
		res := models.NewAnalysisResult(models.AnalysisResult{AnalyzedItems: 10, AnomaliesDetected: 1, ProcessingTime: 0.5})

		require.NoError(t, s.Put(ctx, id, models.Running(5, 5, "report")))
		require.NoError(t, s.Put(ctx, id, models.Succeeded(res)))

		err := s.Put(ctx, id, models.Running(1, 5, "loading"))
		assert.ErrorIs(t, err, store.ErrTerminal)
		err = s.Put(ctx, id, models.Failed("late failure"))
		assert.ErrorIs(t, err, store.ErrTerminal)

		st, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PhaseSucceeded, st.Phase)
		require.NotNil(t, st.Result)
		assert.Equal(t, 10, st.Result.Analysis.AnalyzedItems)
		assert.Empty(t, st.FailureDetail)
	})

	t.Run("failed record keeps detail", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uuid.NewString()

		require.NoError(t, s.Put(ctx, id, models.Failed("decode params: bad")))
		st, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PhaseFailed, st.Phase)
		assert.Equal(t, "decode params: bad", st.FailureDetail)
		assert.Nil(t, st.Result)
	})

	t.Run("invalid state rejected", func(t *testing.T) {
		s := newStore(t)
		err := s.Put(context.Background(), uuid.NewString(), models.Succeeded(nil))
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})

	t.Run("records are isolated per id", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a, b := uuid.NewString(), uuid.NewString()

		require.NoError(t, s.Put(ctx, a, models.Failed("a failed")))
		st, err := s.Get(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, models.PhasePending, st.Phase)
	})

	t.Run("lease excludes other owners", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uuid.NewString()

		ok, err := s.AcquireLease(ctx, id, "worker-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.AcquireLease(ctx, id, "worker-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		// Same owner may re-acquire, e.g. after a restart.
		ok, err = s.AcquireLease(ctx, id, "worker-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.RenewLease(ctx, id, "worker-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = s.RenewLease(ctx, id, "worker-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		// Releasing as a non-owner is a no-op.
		require.NoError(t, s.ReleaseLease(ctx, id, "worker-b"))
		ok, err = s.AcquireLease(ctx, id, "worker-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.ReleaseLease(ctx, id, "worker-a"))
		ok, err = s.AcquireLease(ctx, id, "worker-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("concurrent writers never mix ids", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ids := make([]string, 8)
		for i := range ids {
			ids[i] = uuid.NewString()
		}

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for step := 1; step <= 5; step++ {
					assert.NoError(t, s.Put(ctx, id, models.Running(step, 5, id)))
				}
				assert.NoError(t, s.Put(ctx, id, models.Failed("done "+id)))
			}()
		}
		wg.Wait()

		for _, id := range ids {
			st, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "done "+id, st.FailureDetail)
		}
	})
}

// --- Memory backend ---

func TestMemoryStore_Contract(t *testing.T) {
	testStoreContract(t, func(t *testing.T) store.Store {
		return store.NewMemoryStore()
	})
}

func TestMemoryStore_LeaseExpiry(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := s.AcquireLease(ctx, "job", "worker-a", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(11 * time.Second)

	ok, err = s.AcquireLease(ctx, "job", "worker-b", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease should be claimable")

	ok, err = s.RenewLease(ctx, "job", "worker-a", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_IncrWithExpiry(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := s.IncrWithExpiry(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	now = now.Add(2 * time.Minute)
	n, err := s.IncrWithExpiry(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// --- Keys ---

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "jobpoll:state:abc", store.StateKey("abc"))
	assert.Equal(t, "jobpoll:lease:abc", store.LeaseKey("abc"))
	assert.Equal(t, "jobpoll:ratelimit:10.0.0.1", store.RateLimitKey("10.0.0.1"))
}
