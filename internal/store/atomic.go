package store

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sweeney/loopbench/internal/coop"
	"github.com/sweeney/loopbench/internal/logic"
)

const (
	chunkBits = 10
	chunkSize = 1 << chunkBits
	maxChunks = 1 << 14 // 16M results
)

type slot struct {
	ready atomic.Bool
	r     logic.CycleResult
}

type chunk [chunkSize]slot

// atomicStore never blocks a writer on another writer. A writer reserves a
// slot index with one atomic add, fills the slot, then publishes it.
// Chunks are installed lazily with compare-and-swap.
type atomicStore struct {
	gate
	counts   [logic.NumCounters]atomic.Uint64
	next     atomic.Uint64 // next slot to reserve
	done     atomic.Uint64 // published slots
	inflight atomic.Int64  // writers between check and publish
	chunks   [maxChunks]atomic.Pointer[chunk]
}

func newAtomicStore() *atomicStore {
	return &atomicStore{}
}

func (s *atomicStore) Strategy() string { return StrategyAtomic }

// enter registers a writer. Drain waits for registered writers before
// handing out the log, so no published slot is missed.
func (s *atomicStore) enter() error {
	s.inflight.Add(1)
	if err := s.check(); err != nil {
		s.inflight.Add(-1)
		return err
	}
	return nil
}

func (s *atomicStore) leave() { s.inflight.Add(-1) }

func (s *atomicStore) Count(_ coop.Yielder, c logic.Counter) (time.Duration, error) {
	start := time.Now()
	if err := s.enter(); err != nil {
		return time.Since(start), err
	}
	defer s.leave()
	s.counts[c].Add(1)
	return time.Since(start), nil
}

func (s *atomicStore) chunk(i int, create bool) *chunk {
	p := s.chunks[i].Load()
	if p != nil || !create {
		return p
	}
	fresh := new(chunk)
	if s.chunks[i].CompareAndSwap(nil, fresh) {
		return fresh
	}
	return s.chunks[i].Load()
}

func (s *atomicStore) Append(_ coop.Yielder, r logic.CycleResult) (logic.CycleResult, error) {
	start := time.Now()
	if err := s.enter(); err != nil {
		return recordWait(r, time.Since(start)), err
	}
	defer s.leave()

	idx := s.next.Add(1) - 1
	if idx >= chunkSize*maxChunks {
		return recordWait(r, time.Since(start)), ErrFull
	}
	c := s.chunk(int(idx>>chunkBits), true)
	r = recordWait(r, time.Since(start))

	sl := &c[idx&(chunkSize-1)]
	sl.r = r
	sl.ready.Store(true)
	s.done.Add(1)
	return r, nil
}

// reserved returns the number of reserved slots, capped at capacity.
func (s *atomicStore) reserved() uint64 {
	n := s.next.Load()
	if n > chunkSize*maxChunks {
		n = chunkSize * maxChunks
	}
	return n
}

func (s *atomicStore) at(idx uint64) (logic.CycleResult, bool) {
	c := s.chunk(int(idx>>chunkBits), false)
	if c == nil {
		return logic.CycleResult{}, false
	}
	sl := &c[idx&(chunkSize-1)]
	if !sl.ready.Load() {
		return logic.CycleResult{}, false
	}
	return sl.r, true
}

// Recent skips slots that are reserved but not yet published.
func (s *atomicStore) Recent(n int) []logic.CycleResult {
	if n <= 0 {
		return nil
	}
	out := make([]logic.CycleResult, 0, n)
	for idx := s.reserved(); idx > 0 && len(out) < n; idx-- {
		if r, ok := s.at(idx - 1); ok {
			out = append(out, r)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *atomicStore) Len() int {
	return int(s.done.Load())
}

func (s *atomicStore) Diagnostics() logic.Diagnostics {
	var c [logic.NumCounters]uint64
	for i := range s.counts {
		c[i] = s.counts[i].Load()
	}
	return logic.FromCounts(c)
}

func (s *atomicStore) Scan(n int, fn func([]logic.CycleResult, logic.Diagnostics)) {
	fn(s.Recent(n), s.Diagnostics())
}

func (s *atomicStore) Drain() ([]logic.CycleResult, error) {
	if s.closed.Swap(true) {
		return nil, ErrClosed
	}
	for s.inflight.Load() > 0 {
		runtime.Gosched()
	}

	n := s.reserved()
	out := make([]logic.CycleResult, 0, n)
	for idx := uint64(0); idx < n; idx++ {
		if r, ok := s.at(idx); ok {
			out = append(out, r)
		}
	}
	return out, s.poisoned()
}
