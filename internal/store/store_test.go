package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/loopbench/internal/coop"
	"github.com/sweeney/loopbench/internal/logic"
)

func forEachStrategy(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	for _, name := range Strategies {
		name := name
		t.Run(name, func(t *testing.T) {
			s, err := New(name)
			require.NoError(t, err)
			require.Equal(t, name, s.Strategy())
			fn(t, s)
		})
	}
}

func result(id uint64, processing, deadline time.Duration) logic.CycleResult {
	r := logic.CycleResult{
		CycleID:    id,
		Mode:       "threaded",
		Processing: processing,
		Deadline:   deadline,
	}
	r.Close()
	return r
}

func TestNewUnknownStrategy(t *testing.T) {
	_, err := New("spinlock")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownStrategy))
	assert.False(t, Valid("spinlock"))
	assert.True(t, Valid(StrategyAtomic))
}

func TestAppendKeepsInvariants(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Store) {
		in := result(1, 300*time.Microsecond, time.Millisecond)
		in.Transfer = 50 * time.Microsecond
		in.Close()

		got, err := s.Append(coop.Dedicated{}, in)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.LockWait, time.Duration(0))
		assert.Equal(t, got.Processing+got.LockWait+got.Transfer, got.Total)
		assert.Equal(t, got.Total <= got.Deadline, got.DeadlineMet)

		recent := s.Recent(5)
		require.Len(t, recent, 1)
		assert.Equal(t, got, recent[0])
	})
}

func TestAppendLockWaitCanMissDeadline(t *testing.T) {
	in := result(1, 900*time.Microsecond, time.Millisecond)
	out := recordWait(in, 200*time.Microsecond)
	assert.False(t, out.DeadlineMet)
	assert.Equal(t, 100*time.Microsecond, out.Lateness)
	assert.Equal(t, 1100*time.Microsecond, out.Total)
}

func TestConcurrentWriters(t *testing.T) {
	const writers, perWriter = 8, 500
	forEachStrategy(t, func(t *testing.T, s Store) {
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					_, err := s.Count(coop.Dedicated{}, logic.CountFeedbackSent)
					assert.NoError(t, err)
					_, err = s.Append(coop.Dedicated{}, result(uint64(w*perWriter+i), time.Microsecond, time.Millisecond))
					assert.NoError(t, err)
				}
			}(w)
		}
		wg.Wait()

		assert.Equal(t, writers*perWriter, s.Len())
		assert.Equal(t, uint64(writers*perWriter), s.Diagnostics().FeedbackSent)

		results, err := s.Drain()
		require.NoError(t, err)
		require.Len(t, results, writers*perWriter)

		seen := make(map[uint64]bool, len(results))
		for _, r := range results {
			assert.False(t, seen[r.CycleID], "duplicate cycle %d", r.CycleID)
			seen[r.CycleID] = true
			assert.Equal(t, r.Processing+r.LockWait+r.Transfer, r.Total)
		}
	})
}

func TestRecentOrder(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Store) {
		for i := uint64(1); i <= 10; i++ {
			_, err := s.Append(nil, result(i, 0, time.Millisecond))
			require.NoError(t, err)
		}
		recent := s.Recent(3)
		require.Len(t, recent, 3)
		assert.Equal(t, uint64(8), recent[0].CycleID)
		assert.Equal(t, uint64(10), recent[2].CycleID)
		assert.Len(t, s.Recent(100), 10)
		assert.Nil(t, s.Recent(0))
	})
}

func TestDrainCloses(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Store) {
		_, err := s.Append(nil, result(1, 0, time.Millisecond))
		require.NoError(t, err)

		results, err := s.Drain()
		require.NoError(t, err)
		assert.Len(t, results, 1)

		_, err = s.Append(nil, result(2, 0, time.Millisecond))
		assert.ErrorIs(t, err, ErrClosed)
		_, err = s.Count(nil, logic.CountAnomaly)
		assert.ErrorIs(t, err, ErrClosed)

		_, err = s.Drain()
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestPoisonFailsWrites(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Store) {
		_, err := s.Count(nil, logic.CountAnomaly)
		require.NoError(t, err)

		s.Poison(errors.New("actuator FAST panicked"))
		s.Poison(errors.New("second cause"))

		_, err = s.Count(nil, logic.CountAnomaly)
		require.ErrorIs(t, err, ErrPoisoned)
		assert.Contains(t, err.Error(), "actuator FAST panicked")

		_, err = s.Append(nil, result(1, 0, time.Millisecond))
		assert.ErrorIs(t, err, ErrPoisoned)

		_, err = s.Drain()
		assert.ErrorIs(t, err, ErrPoisoned)
		assert.Equal(t, uint64(1), s.Diagnostics().Anomalies)
	})
}

// holdAndMeasure holds the write lock of a locked store for hold while a
// writer tries to get in, and returns the wait that writer observed.
func holdAndMeasure(t *testing.T, s *lockedStore, y coop.Yielder, hold time.Duration) time.Duration {
	t.Helper()
	s.w.Lock()
	got := make(chan time.Duration, 1)
	go func() {
		wait, err := s.Count(y, logic.CountAnomaly)
		assert.NoError(t, err)
		got <- wait
	}()
	time.Sleep(hold)
	s.w.Unlock()

	select {
	case wait := <-got:
		return wait
	case <-time.After(5 * time.Second):
		t.Fatal("writer never acquired the lock")
		return 0
	}
}

func TestLockWaitGrowsUnderHeldLock(t *testing.T) {
	const hold = 5 * time.Millisecond
	for _, s := range []*lockedStore{newMutexStore(), newRWLockStore()} {
		t.Run(s.Strategy(), func(t *testing.T) {
			wait := holdAndMeasure(t, s, coop.Dedicated{}, hold)
			assert.GreaterOrEqual(t, wait, hold)
		})
	}
}

func TestCooperativeLockYieldsWhileWaiting(t *testing.T) {
	const hold = 5 * time.Millisecond
	pool := coop.NewPool(1)
	task, err := pool.Enter(context.Background())
	require.NoError(t, err)
	defer task.Exit()

	s := newMutexStore()
	wait := holdAndMeasure(t, s, task, hold)
	assert.GreaterOrEqual(t, wait, hold)
	assert.Positive(t, pool.Stats().Yields)
}

func TestReadersDoNotBlockEachOtherUnderRWLock(t *testing.T) {
	s := newRWLockStore()
	s.r.rlock()
	defer s.r.runlock()

	done := make(chan struct{})
	go func() {
		_ = s.Diagnostics()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked behind the first")
	}
}

func TestScanWindow(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Store) {
		for i := uint64(1); i <= 5; i++ {
			_, err := s.Count(nil, logic.CountFeedbackSent)
			require.NoError(t, err)
			_, err = s.Append(nil, result(i, 0, time.Millisecond))
			require.NoError(t, err)
		}
		var ids []uint64
		var sent uint64
		s.Scan(3, func(recent []logic.CycleResult, d logic.Diagnostics) {
			for _, r := range recent {
				ids = append(ids, r.CycleID)
			}
			sent = d.FeedbackSent
		})
		assert.Equal(t, []uint64{3, 4, 5}, ids)
		assert.Equal(t, uint64(5), sent)

		called := false
		s.Scan(0, func(recent []logic.CycleResult, _ logic.Diagnostics) {
			called = true
			assert.Empty(t, recent)
		})
		assert.True(t, called)
	})
}

func TestScanHoldsReadSide(t *testing.T) {
	const hold = 5 * time.Millisecond
	for _, s := range []*lockedStore{newMutexStore(), newRWLockStore()} {
		t.Run(s.Strategy(), func(t *testing.T) {
			inside := make(chan struct{})
			go s.Scan(1, func([]logic.CycleResult, logic.Diagnostics) {
				close(inside)
				time.Sleep(hold)
			})
			<-inside
			wait, err := s.Count(coop.Dedicated{}, logic.CountAnomaly)
			require.NoError(t, err)
			assert.Greater(t, wait, hold/2)
		})
	}
}
