// Package source provides sensor reading sources with a simulation
// abstraction. The simulated implementation produces a deterministic,
// seeded signal. The scripted implementation allows exact test inputs.
package source

import (
	"time"

	"github.com/sweeney/loopbench/internal/logic"
)

// Source produces sensor readings.
type Source interface {
	// Read returns the reading for one sensor cycle. id is the cycle number
	// and now the time the reading is taken.
	Read(id uint64, now time.Time) (logic.SensorReading, error)

	// Compensate shifts the position base by delta. The sensor calls it
	// with the correction derived from actuator feedback.
	Compensate(delta float64)

	// Close releases the source.
	Close() error
}

// Signal defaults.
const (
	BaseForce       = 50.0
	BasePosition    = 10.0
	BaseTemperature = 25.0
	MinTemperature  = 20.0
	MaxTemperature  = 30.0
)
