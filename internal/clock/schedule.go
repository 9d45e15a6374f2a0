package clock

import (
	"context"
	"time"

	"github.com/sweeney/loopbench/internal/coop"
)

// Schedule computes drift-free wake times: the nth wake is start + n*period,
// never last wake + period, so an overrun in one cycle does not shift the
// ones after it. Not safe for concurrent use.
type Schedule struct {
	start  time.Time
	period time.Duration
	n      int64
}

// NewSchedule anchors a schedule at start.
func NewSchedule(start time.Time, period time.Duration) *Schedule {
	return &Schedule{start: start, period: period}
}

// At returns the nth wake time.
func (s *Schedule) At(n int64) time.Time {
	return s.start.Add(time.Duration(n) * s.period)
}

// Next returns the next wake time and advances the schedule.
func (s *Schedule) Next() time.Time {
	t := s.At(s.n)
	s.n++
	return t
}

// Cycle returns how many wake times Next has handed out.
func (s *Schedule) Cycle() int64 {
	return s.n
}

// Period returns the schedule period.
func (s *Schedule) Period() time.Duration {
	return s.period
}

// SleepUntil blocks until c reaches t or ctx is done.
func SleepUntil(ctx context.Context, c Clock, t time.Time) error {
	d := t.Sub(c.Now())
	if d <= 0 {
		return ctx.Err()
	}
	timer := c.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

// Wake describes how a wait for a scheduled instant ended.
type Wake struct {
	At      time.Time     // when the task actually resumed
	Late    time.Duration // At minus the scheduled instant, never negative
	Overrun bool          // the instant had already passed, no wait happened
}

// Wait suspends the task until wake. When wake is already in the past it
// returns immediately with Overrun set instead of sleeping negative time.
// Cooperative tasks sleep inside y.Park so their execution context is free.
func Wait(ctx context.Context, y coop.Yielder, c Clock, wake time.Time) (Wake, error) {
	now := c.Now()
	if !now.Before(wake) {
		return Wake{At: now, Late: now.Sub(wake), Overrun: now.After(wake)}, ctx.Err()
	}

	var err error
	if y == nil {
		err = SleepUntil(ctx, c, wake)
	} else {
		y.Park(func() { err = SleepUntil(ctx, c, wake) })
	}

	now = c.Now()
	w := Wake{At: now}
	if now.After(wake) {
		w.Late = now.Sub(wake)
	}
	return w, err
}
