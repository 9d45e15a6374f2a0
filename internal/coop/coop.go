// Package coop provides the execution contexts tasks run in.
//
// Every wait a task performs (periodic wake, channel receive, lock
// acquisition under contention) goes through a Yielder. A Dedicated yielder
// belongs to a task that owns its own OS thread, so waits simply block. A
// pooled yielder belongs to a task multiplexed with others over a fixed
// number of execution tokens; a wait releases the token for its duration so
// other tasks can run, and resumes only once a token is available again.
package coop

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Yielder is the suspension boundary handed to a task.
type Yielder interface {
	// Park runs wait with the task's execution context released. It resumes
	// when wait has returned and the task holds an execution context again.
	Park(wait func())
	// Yield gives other runnable tasks a turn.
	Yield()
	// Cooperative reports whether blocking outside Park would stall other tasks.
	Cooperative() bool
}

// Dedicated is the Yielder of a task running on its own thread.
type Dedicated struct{}

// Park runs wait on the calling thread.
func (Dedicated) Park(wait func()) { wait() }

// Yield hints the runtime to run something else.
func (Dedicated) Yield() { runtime.Gosched() }

// Cooperative is false.
func (Dedicated) Cooperative() bool { return false }

// Pool multiplexes tasks over a fixed number of execution tokens.
type Pool struct {
	sem     *semaphore.Weighted
	size    int
	parks   atomic.Uint64
	yields  atomic.Uint64
	waiting atomic.Int64 // total time spent waiting for a token, ns
}

// NewPool creates a pool with size execution contexts (minimum 1).
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of execution contexts.
func (p *Pool) Size() int { return p.size }

// PoolStats summarizes scheduler activity.
type PoolStats struct {
	Parks       uint64
	Yields      uint64
	TokenWait   time.Duration
	ExecContext int
}

// Stats returns counters accumulated since the pool was created.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Parks:       p.parks.Load(),
		Yields:      p.yields.Load(),
		TokenWait:   time.Duration(p.waiting.Load()),
		ExecContext: p.size,
	}
}

// Enter blocks until an execution context is free and returns the task's
// Yielder. The task must call Exit when it finishes.
func (p *Pool) Enter(ctx context.Context) (*Task, error) {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.waiting.Add(int64(time.Since(start)))
	return &Task{pool: p, held: true}, nil
}

// Task is the Yielder of one pooled task. Not safe for concurrent use.
type Task struct {
	pool *Pool
	held bool
}

func (t *Task) release() {
	if t.held {
		t.held = false
		t.pool.sem.Release(1)
	}
}

func (t *Task) acquire() {
	start := time.Now()
	// Background: a task resuming during shutdown must still get to finish.
	_ = t.pool.sem.Acquire(context.Background(), 1)
	t.pool.waiting.Add(int64(time.Since(start)))
	t.held = true
}

// Park releases the token, runs wait, then reacquires a token.
func (t *Task) Park(wait func()) {
	t.pool.parks.Add(1)
	t.release()
	defer t.acquire()
	wait()
}

// Yield releases the token and rejoins the queue for one.
func (t *Task) Yield() {
	t.pool.yields.Add(1)
	t.release()
	runtime.Gosched()
	t.acquire()
}

// Cooperative is true.
func (t *Task) Cooperative() bool { return true }

// Exit releases the token held by the task.
func (t *Task) Exit() { t.release() }

// TryLocker is satisfied by *sync.Mutex and by the write side of *sync.RWMutex.
type TryLocker interface {
	sync.Locker
	TryLock() bool
}

// spinYields is how many times a cooperative task retries a contended lock
// before parking on it.
const spinYields = 3

// Lock acquires l. Cooperative tasks retry with TryLock a few times,
// yielding between attempts, then park on l so no execution context is held
// while waiting. Parking queues the task on the lock itself: a reader/writer
// lock then stops admitting new readers, which polling alone would not do.
func Lock(y Yielder, l TryLocker) {
	if y == nil || !y.Cooperative() {
		l.Lock()
		return
	}
	for i := 0; i < spinYields; i++ {
		if l.TryLock() {
			return
		}
		y.Yield()
	}
	if !l.TryLock() {
		y.Park(l.Lock)
	}
}

// RLock acquires the read side of l the same way Lock does.
func RLock(y Yielder, l *sync.RWMutex) {
	if y == nil || !y.Cooperative() {
		l.RLock()
		return
	}
	for i := 0; i < spinYields; i++ {
		if l.TryRLock() {
			return
		}
		y.Yield()
	}
	if !l.TryRLock() {
		y.Park(l.RLock)
	}
}
