// Package dispatch connects the sensor to the actuators: bounded fan-out of
// filtered readings to every actuator and fan-in of feedback to the sensor.
//
// Every blocking wait runs inside the caller's Yielder, so a cooperative task
// gives up its execution context while a queue is full or empty.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sweeney/loopbench/internal/coop"
	"github.com/sweeney/loopbench/internal/logic"
)

// ErrTimeout is returned by Receive when no reading arrived in time.
var ErrTimeout = errors.New("receive timeout")

// Fabric owns one reading queue per actuator and a shared feedback queue.
type Fabric struct {
	readings  []chan logic.FilteredReading
	feedback  chan logic.ActuatorFeedback
	closeOnce sync.Once
}

// New creates a fabric for actuators actuators. Capacities below 1 are raised to 1.
func New(readingCap, feedbackCap, actuators int) *Fabric {
	if readingCap < 1 {
		readingCap = 1
	}
	if feedbackCap < 1 {
		feedbackCap = 1
	}
	f := &Fabric{
		readings: make([]chan logic.FilteredReading, actuators),
		feedback: make(chan logic.ActuatorFeedback, feedbackCap),
	}
	for i := range f.readings {
		f.readings[i] = make(chan logic.FilteredReading, readingCap)
	}
	return f
}

// Actuators returns the number of actuator queues.
func (f *Fabric) Actuators() int {
	return len(f.readings)
}

// Broadcast delivers r to every actuator queue and returns how many queues
// accepted it. Full queues are waited on until timeout, shared across all
// queues, has elapsed since the call.
func (f *Fabric) Broadcast(ctx context.Context, y coop.Yielder, r logic.FilteredReading, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	delivered := 0
	for _, q := range f.readings {
		select {
		case q <- r:
			delivered++
			continue
		default:
		}
		if send(ctx, y, q, r, time.Until(deadline)) {
			delivered++
		}
	}
	return delivered
}

func send[T any](ctx context.Context, y coop.Yielder, q chan<- T, v T, wait time.Duration) bool {
	if wait <= 0 {
		return false
	}
	ok := false
	park(y, func() {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case q <- v:
			ok = true
		case <-timer.C:
		case <-ctx.Done():
		}
	})
	return ok
}

// Receive waits up to timeout for the next reading for actuator i.
func (f *Fabric) Receive(ctx context.Context, y coop.Yielder, i int, timeout time.Duration) (logic.FilteredReading, error) {
	q := f.readings[i]
	select {
	case r := <-q:
		return r, nil
	default:
	}

	var (
		r   logic.FilteredReading
		err error
	)
	park(y, func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case r = <-q:
		case <-timer.C:
			err = ErrTimeout
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return r, err
}

// SendFeedback waits up to timeout for room in the feedback queue.
// It must not be called after CloseFeedback.
func (f *Fabric) SendFeedback(ctx context.Context, y coop.Yielder, fb logic.ActuatorFeedback, timeout time.Duration) bool {
	select {
	case f.feedback <- fb:
		return true
	default:
	}
	return send(ctx, y, f.feedback, fb, timeout)
}

// Drain takes up to max queued feedback items without blocking. It stops
// early once budget has elapsed and reports whether it did.
func (f *Fabric) Drain(max int, budget time.Duration) (batch []logic.ActuatorFeedback, overBudget bool) {
	start := time.Now()
	for len(batch) < max {
		select {
		case fb, ok := <-f.feedback:
			if !ok {
				return batch, false
			}
			batch = append(batch, fb)
		default:
			return batch, false
		}
		if time.Since(start) > budget {
			return batch, true
		}
	}
	return batch, false
}

// CloseFeedback closes the feedback queue. Call it once every actuator has
// exited; the sensor's Remaining then returns.
func (f *Fabric) CloseFeedback() {
	f.closeOnce.Do(func() { close(f.feedback) })
}

// Remaining receives feedback until the queue is closed.
func (f *Fabric) Remaining(y coop.Yielder) []logic.ActuatorFeedback {
	var out []logic.ActuatorFeedback
	park(y, func() {
		for fb := range f.feedback {
			out = append(out, fb)
		}
	})
	return out
}

// Backlog returns the current depth of every reading queue and of the
// feedback queue.
func (f *Fabric) Backlog() (readings []int, feedback int) {
	readings = make([]int, len(f.readings))
	for i, q := range f.readings {
		readings[i] = len(q)
	}
	return readings, len(f.feedback)
}

func park(y coop.Yielder, wait func()) {
	if y == nil {
		wait()
		return
	}
	y.Park(wait)
}
