// Package task implements the sensor and actuator tasks of the control loop.
//
// Each task is written once against coop.Yielder and runs unchanged under
// both engines. Stage durations are measured with the monotonic wall clock;
// store accesses happen outside the timed stages and are charged to the
// cycle's LockWait instead.
package task

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/loopbench/internal/clock"
	"github.com/sweeney/loopbench/internal/coop"
	"github.com/sweeney/loopbench/internal/dispatch"
	"github.com/sweeney/loopbench/internal/live"
	"github.com/sweeney/loopbench/internal/logic"
	"github.com/sweeney/loopbench/internal/store"
)

// Env is shared by every task of one run.
type Env struct {
	Mode   string
	Start  time.Time
	Clock  clock.Clock
	Fabric *dispatch.Fabric
	Store  store.Store
	Live   *live.Ring // optional
	Log    *zap.Logger
}

func (e *Env) offer(s live.Sample) {
	if e.Live != nil {
		e.Live.Offer(s)
	}
}

// count increments c and adds the lock wait to *wait.
func (e *Env) count(y coop.Yielder, c logic.Counter, wait *time.Duration) error {
	w, err := e.Store.Count(y, c)
	*wait += w
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}
	return nil
}

// busyWait spins until d has passed since start, to simulate processing cost.
func busyWait(start time.Time, d time.Duration) {
	for d > 0 && time.Since(start) < d {
	}
}
