// Package store holds the state shared by every task of a run: the
// diagnostics counters and the cycle recorder.
//
// Three synchronization strategies implement the same Store contract so they
// can be compared under identical load:
//
//	mutex   one exclusive lock for reads and writes
//	rwlock  reader/writer lock, observers share the read side
//	atomic  atomic counters and an append-only log with atomic slot reservation
//
// Every write measures how long the caller waited to get in and reports it, so
// lock contention shows up in the cycle's LockWait.
package store

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sweeney/loopbench/internal/coop"
	"github.com/sweeney/loopbench/internal/logic"
)

const (
	StrategyMutex  = "mutex"
	StrategyRWLock = "rwlock"
	StrategyAtomic = "atomic"
)

// Strategies lists the supported strategy names.
var Strategies = []string{StrategyMutex, StrategyRWLock, StrategyAtomic}

var (
	// ErrPoisoned is returned by writes after a task failed and poisoned the store.
	ErrPoisoned = errors.New("store poisoned")
	// ErrClosed is returned by writes after Drain.
	ErrClosed = errors.New("store closed")
	// ErrUnknownStrategy is returned by New for an unsupported strategy name.
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrFull is returned by the atomic log once every slot is used.
	ErrFull = errors.New("store full")
)

// Store is the shared diagnostics and cycle recorder of one run.
type Store interface {
	// Count increments one diagnostics counter and returns the lock wait.
	Count(y coop.Yielder, c logic.Counter) (time.Duration, error)
	// Append adds the measured lock wait to r.LockWait, recomputes r's
	// totals, records it and returns the recorded value.
	Append(y coop.Yielder, r logic.CycleResult) (logic.CycleResult, error)

	// Recent returns up to n of the most recently recorded results, oldest first.
	Recent(n int) []logic.CycleResult
	// Len returns the number of recorded results.
	Len() int
	// Diagnostics returns a copy of the counters.
	Diagnostics() logic.Diagnostics
	// Scan calls fn with up to n of the most recent results and the counters
	// while holding the read side for the whole call. recent is only valid
	// until fn returns. The atomic strategy has no read side and passes
	// copies.
	Scan(n int, fn func(recent []logic.CycleResult, d logic.Diagnostics))

	// Drain closes the store and returns every recorded result in record
	// order. A poisoned store still returns what it recorded, with the
	// poisoning error.
	Drain() ([]logic.CycleResult, error)
	// Poison marks the store failed. The first cause wins.
	Poison(cause error)
	// Strategy returns the strategy name.
	Strategy() string
}

// Valid reports whether name is a supported strategy.
func Valid(name string) bool {
	for _, s := range Strategies {
		if s == name {
			return true
		}
	}
	return false
}

// New creates an empty store using the named strategy.
func New(strategy string) (Store, error) {
	switch strategy {
	case StrategyMutex:
		return newMutexStore(), nil
	case StrategyRWLock:
		return newRWLockStore(), nil
	case StrategyAtomic:
		return newAtomicStore(), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, strategy)
}

// gate tracks the lifecycle shared by all strategies.
type gate struct {
	closed atomic.Bool
	cause  atomic.Pointer[error]
}

func (g *gate) Poison(cause error) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	g.cause.CompareAndSwap(nil, &cause)
}

func (g *gate) poisoned() error {
	if p := g.cause.Load(); p != nil {
		return fmt.Errorf("%w: %v", ErrPoisoned, *p)
	}
	return nil
}

// check returns the error a write must fail with, if any.
func (g *gate) check() error {
	if err := g.poisoned(); err != nil {
		return err
	}
	if g.closed.Load() {
		return ErrClosed
	}
	return nil
}

func recordWait(r logic.CycleResult, wait time.Duration) logic.CycleResult {
	r.LockWait += wait
	r.Close()
	return r
}

func window(log []logic.CycleResult, n int) []logic.CycleResult {
	if n <= 0 {
		return nil
	}
	if n > len(log) {
		n = len(log)
	}
	return log[len(log)-n:]
}

func tail(log []logic.CycleResult, n int) []logic.CycleResult {
	w := window(log, n)
	if len(w) == 0 {
		return nil
	}
	out := make([]logic.CycleResult, len(w))
	copy(out, w)
	return out
}
