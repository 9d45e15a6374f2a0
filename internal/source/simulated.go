package source

import (
	"math"
	"math/rand"
	"time"

	"github.com/sweeney/loopbench/internal/logic"
)

// Simulated generates force as a sum of slow oscillations plus seeded noise,
// a slowly wandering position and a bounded temperature drift.
// Not safe for concurrent use; owned by the sensor task.
type Simulated struct {
	rng         *rand.Rand
	noise       float64
	position    float64
	temperature float64
}

// NewSimulated creates a simulated source. noise is the amplitude of the
// uniform noise added to force and position; seed makes runs repeatable.
func NewSimulated(seed int64, noise float64) *Simulated {
	return &Simulated{
		rng:         rand.New(rand.NewSource(seed)),
		noise:       noise,
		position:    BasePosition,
		temperature: BaseTemperature,
	}
}

// Read returns the reading for cycle id.
func (s *Simulated) Read(id uint64, now time.Time) (logic.SensorReading, error) {
	n := float64(id)
	force := BaseForce + math.Sin(n*0.1)*10 + math.Cos(n*0.05)*5
	s.position += math.Sin(n*0.02) * 0.1
	s.temperature += math.Sin(n*0.01) * 0.5
	s.temperature = math.Max(MinTemperature, math.Min(MaxTemperature, s.temperature))

	if s.noise > 0 {
		force += (s.rng.Float64()*2 - 1) * s.noise
	}
	pos := s.position
	if s.noise > 0 {
		pos += (s.rng.Float64()*2 - 1) * s.noise * 0.1
	}

	return logic.SensorReading{
		ID:          id,
		Generated:   now,
		Force:       force,
		Position:    pos,
		Temperature: s.temperature,
	}, nil
}

// Compensate shifts the position base.
func (s *Simulated) Compensate(delta float64) {
	s.position += delta
}

// Close is a no-op.
func (s *Simulated) Close() error {
	return nil
}
