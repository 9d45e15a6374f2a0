package store

import (
	"sync"
	"time"

	"github.com/sweeney/loopbench/internal/coop"
	"github.com/sweeney/loopbench/internal/logic"
)

// readSide acquires shared access for observers.
type readSide interface {
	rlock()
	runlock()
}

// lockedStore is the mutex and rwlock strategies. They differ only in how
// observers take the lock.
type lockedStore struct {
	gate
	strategy string
	w        coop.TryLocker
	r        readSide

	diag logic.Diagnostics
	log  []logic.CycleResult
}

type exclusiveRead struct{ mu *sync.Mutex }

func (e exclusiveRead) rlock()   { e.mu.Lock() }
func (e exclusiveRead) runlock() { e.mu.Unlock() }

type sharedRead struct{ mu *sync.RWMutex }

func (s sharedRead) rlock()   { s.mu.RLock() }
func (s sharedRead) runlock() { s.mu.RUnlock() }

func newMutexStore() *lockedStore {
	mu := &sync.Mutex{}
	return &lockedStore{strategy: StrategyMutex, w: mu, r: exclusiveRead{mu}}
}

func newRWLockStore() *lockedStore {
	mu := &sync.RWMutex{}
	return &lockedStore{strategy: StrategyRWLock, w: mu, r: sharedRead{mu}}
}

func (s *lockedStore) Strategy() string { return s.strategy }

// acquire takes the write lock and returns how long that took.
func (s *lockedStore) acquire(y coop.Yielder) time.Duration {
	start := time.Now()
	coop.Lock(y, s.w)
	return time.Since(start)
}

func (s *lockedStore) Count(y coop.Yielder, c logic.Counter) (time.Duration, error) {
	wait := s.acquire(y)
	defer s.w.Unlock()
	if err := s.check(); err != nil {
		return wait, err
	}
	s.diag.Add(c, 1)
	return wait, nil
}

func (s *lockedStore) Append(y coop.Yielder, r logic.CycleResult) (logic.CycleResult, error) {
	wait := s.acquire(y)
	defer s.w.Unlock()
	r = recordWait(r, wait)
	if err := s.check(); err != nil {
		return r, err
	}
	s.log = append(s.log, r)
	return r, nil
}

func (s *lockedStore) Recent(n int) []logic.CycleResult {
	s.r.rlock()
	defer s.r.runlock()
	return tail(s.log, n)
}

func (s *lockedStore) Len() int {
	s.r.rlock()
	defer s.r.runlock()
	return len(s.log)
}

func (s *lockedStore) Diagnostics() logic.Diagnostics {
	s.r.rlock()
	defer s.r.runlock()
	return s.diag
}

func (s *lockedStore) Scan(n int, fn func([]logic.CycleResult, logic.Diagnostics)) {
	s.r.rlock()
	defer s.r.runlock()
	fn(window(s.log, n), s.diag)
}

func (s *lockedStore) Drain() ([]logic.CycleResult, error) {
	s.w.Lock()
	defer s.w.Unlock()
	if s.closed.Swap(true) {
		return nil, ErrClosed
	}
	// Closed, so the log is never appended to again and can be shared.
	return s.log, s.poisoned()
}
