// Package live keeps the most recent raw samples of a run for monitoring.
//
// Producers are the timed tasks, so Offer never blocks: if an observer holds
// the lock the sample is dropped and counted instead.
package live

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/loopbench/internal/logic"
)

// SampleKind distinguishes sensor readings from actuator feedback.
type SampleKind string

const (
	KindReading  SampleKind = "reading"
	KindFeedback SampleKind = "feedback"
)

// Sample is one raw value shown on a live dashboard.
type Sample struct {
	Kind   SampleKind    `json:"kind"`
	Offset time.Duration `json:"offset_ns"` // since run start
	ID     uint64        `json:"id"`

	// Reading fields
	Force       float64 `json:"force,omitempty"`
	Smoothed    float64 `json:"smoothed,omitempty"`
	Position    float64 `json:"position,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Anomaly     bool    `json:"anomaly,omitempty"`

	// Feedback fields
	Actuator logic.ActuatorKind `json:"actuator,omitempty"`
	Status   logic.Status       `json:"status,omitempty"`
	Output   float64            `json:"output,omitempty"`
	Error    float64            `json:"error,omitempty"`
}

// FromReading builds a reading sample.
func FromReading(r logic.FilteredReading, offset time.Duration) Sample {
	return Sample{
		Kind:        KindReading,
		Offset:      offset,
		ID:          r.ID,
		Force:       r.Force,
		Smoothed:    r.Smoothed,
		Position:    r.Position,
		Temperature: r.Temperature,
		Anomaly:     r.Anomaly,
	}
}

// FromFeedback builds a feedback sample.
func FromFeedback(fb logic.ActuatorFeedback, offset time.Duration) Sample {
	return Sample{
		Kind:     KindFeedback,
		Offset:   offset,
		ID:       fb.ReadingID,
		Actuator: fb.Kind,
		Status:   fb.Status,
		Output:   fb.Output,
		Error:    fb.Error,
	}
}

// Ring is a fixed-capacity buffer that overwrites its oldest sample when full.
type Ring struct {
	mu       sync.Mutex
	buf      []Sample
	head     int // next write position
	count    int
	overflow bool

	dropped atomic.Uint64 // samples skipped because the lock was busy
	log     *zap.Logger
}

// New creates a ring holding capacity samples. A nil logger disables logging.
func New(capacity int, log *zap.Logger) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ring{buf: make([]Sample, capacity), log: log}
}

// Offer stores s unless the ring is busy. It reports whether s was stored.
func (r *Ring) Offer(s Sample) bool {
	if !r.mu.TryLock() {
		r.dropped.Add(1)
		return false
	}
	r.push(s)
	r.mu.Unlock()
	return true
}

func (r *Ring) push(s Sample) {
	if r.count == len(r.buf) {
		if !r.overflow {
			r.log.Debug("live buffer full, overwriting oldest", zap.Int("capacity", len(r.buf)))
			r.overflow = true
		}
		r.buf[r.head] = s
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	r.count++
}

// Recent returns up to n of the newest samples, oldest first.
func (r *Ring) Recent(n int) []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Sample, n)
	start := (r.head - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of stored samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Dropped returns how many samples Offer skipped.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}
