package source

import (
	"errors"
	"sync"
	"time"

	"github.com/sweeney/loopbench/internal/logic"
)

// Sample is a single scripted reading.
type Sample struct {
	Force       float64
	Position    float64
	Temperature float64
}

// Scripted is a test double that returns scripted readings.
// It is safe for concurrent use so tests can inspect it while a run is live.
type Scripted struct {
	mu sync.Mutex

	// Samples contains scripted readings. Each call to Read consumes the next.
	Samples []Sample

	// index tracks current position in Samples
	index int

	// Compensations records every Compensate delta.
	Compensations []float64

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read
	ReadError error
}

// NewScripted creates a Scripted source with the given samples.
func NewScripted(samples ...Sample) *Scripted {
	return &Scripted{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (s *Scripted) Read(id uint64, now time.Time) (logic.SensorReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadError != nil {
		return logic.SensorReading{}, s.ReadError
	}
	if len(s.Samples) == 0 {
		return logic.SensorReading{}, errors.New("no samples configured")
	}

	sample := s.Samples[s.index]
	if s.index < len(s.Samples)-1 {
		s.index++
	}
	return logic.SensorReading{
		ID:          id,
		Generated:   now,
		Force:       sample.Force,
		Position:    sample.Position,
		Temperature: sample.Temperature,
	}, nil
}

// Compensate records delta.
func (s *Scripted) Compensate(delta float64) {
	s.mu.Lock()
	s.Compensations = append(s.Compensations, delta)
	s.mu.Unlock()
}

// Close marks the source as closed.
func (s *Scripted) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}

// CompensationCount returns how many times Compensate was called.
func (s *Scripted) CompensationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Compensations)
}

// Reset rewinds to the first sample.
func (s *Scripted) Reset() {
	s.mu.Lock()
	s.index = 0
	s.Closed = false
	s.Compensations = nil
	s.mu.Unlock()
}
