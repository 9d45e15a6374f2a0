// Package load induces background pressure during a run: CPU burners that
// compete with the tasks for OS threads, and readers that compete with them
// for the shared store.
package load

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/loopbench/internal/logic"
	"github.com/sweeney/loopbench/internal/store"
)

// Stats reports how much work the load generators did.
type Stats struct {
	Burners      int    `json:"burners" yaml:"burners"`
	Trajectories uint64 `json:"trajectories" yaml:"trajectories"`
	Readers      int    `json:"readers" yaml:"readers"`
	Reads        uint64 `json:"reads" yaml:"reads"`
	Scanned      uint64 `json:"scanned" yaml:"scanned"` // results aggregated by readers
	Missed       uint64 `json:"missed" yaml:"missed"`   // of those, deadline misses
}

// Config sizes the load generators.
type Config struct {
	Burners int
	Readers int
	// Hold is how long a reader keeps the store's read side per scan. It
	// sleeps while holding, so a held read side blocks writers without
	// taking CPU away from them.
	Hold time.Duration
	// Window is how many recent results a reader aggregates per scan.
	Window int
}

// readPause separates two scans of one reader.
const readPause = 50 * time.Microsecond

// Load is a set of running load generators.
type Load struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	burners      int
	readers      int
	trajectories atomic.Uint64
	reads        atomic.Uint64
	scanned      atomic.Uint64
	missed       atomic.Uint64
}

// Start launches cfg.Burners CPU burners, each locked to its own OS thread,
// and cfg.Readers goroutines that scan st in a loop with a short pause
// between scans. Either count may be zero.
func Start(ctx context.Context, cfg Config, st store.Store) *Load {
	if cfg.Window < 1 {
		cfg.Window = 64
	}
	if st == nil {
		cfg.Readers = 0
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &Load{cancel: cancel, burners: cfg.Burners, readers: cfg.Readers}
	for i := 0; i < cfg.Burners; i++ {
		l.wg.Add(1)
		go l.burn(ctx, int64(i))
	}
	for i := 0; i < cfg.Readers; i++ {
		l.wg.Add(1)
		go l.read(ctx, st, cfg.Window, cfg.Hold)
	}
	return l
}

// Stop ends every generator and waits for them to exit.
func (l *Load) Stop() Stats {
	l.cancel()
	l.wg.Wait()
	return Stats{
		Burners:      l.burners,
		Trajectories: l.trajectories.Load(),
		Readers:      l.readers,
		Reads:        l.reads.Load(),
		Scanned:      l.scanned.Load(),
		Missed:       l.missed.Load(),
	}
}

// burn computes random collatz trajectories until ctx is done.
func (l *Load) burn(ctx context.Context, seed int64) {
	defer l.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rng := rand.New(rand.NewSource(seed))
	longest := 0
	for ctx.Err() == nil {
		steps := 0
		for n := rng.Intn(1_000_000_000) + 2; n > 1; steps++ {
			if n%2 == 0 {
				n /= 2
			} else {
				n = 3*n + 1
			}
		}
		if steps > longest {
			longest = steps
		}
		l.trajectories.Add(1)
	}
}

// read aggregates the recent window in place, the way a dashboard computes
// its figures, and keeps the read side for at least hold.
func (l *Load) read(ctx context.Context, st store.Store, window int, hold time.Duration) {
	defer l.wg.Done()
	var missed uint64
	for ctx.Err() == nil {
		st.Scan(window, func(recent []logic.CycleResult, _ logic.Diagnostics) {
			start := time.Now()
			for _, r := range recent {
				if !r.DeadlineMet {
					missed++
				}
			}
			l.scanned.Add(uint64(len(recent)))
			if rest := hold - time.Since(start); rest > 0 {
				time.Sleep(rest)
			}
		})
		l.reads.Add(1)
		time.Sleep(readPause)
	}
	l.missed.Add(missed)
}
