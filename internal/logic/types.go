// Package logic contains the pure domain logic of the control loop: the data
// model, the PID control law, the sensor filter and anomaly screen, status
// classification and sensor recalibration.
// This package has NO goroutines, no I/O and never sleeps.
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"
)

// ActuatorKind names the deadline class of an actuator.
type ActuatorKind string

const (
	KindFast   ActuatorKind = "FAST"   // gripper
	KindMedium ActuatorKind = "MEDIUM" // motor
	KindSlow   ActuatorKind = "SLOW"   // stabilizer
)

// Kinds lists every actuator kind in dispatch order.
var Kinds = []ActuatorKind{KindFast, KindMedium, KindSlow}

// ParseKind converts a config string into an ActuatorKind.
func ParseKind(s string) (ActuatorKind, error) {
	switch k := ActuatorKind(s); k {
	case KindFast, KindMedium, KindSlow:
		return k, nil
	}
	return "", fmt.Errorf("unknown actuator kind %q", s)
}

// Status is the control status reported by an actuator.
type Status string

const (
	StatusNormal     Status = "NORMAL"
	StatusCorrecting Status = "CORRECTING"
	StatusEmergency  Status = "EMERGENCY"
)

// SensorReading is one raw sample produced by the sensor. Immutable after creation.
type SensorReading struct {
	ID          uint64
	Generated   time.Time
	Force       float64
	Position    float64
	Temperature float64
}

// FilteredReading is a reading after smoothing and anomaly screening.
type FilteredReading struct {
	SensorReading
	Smoothed  float64 // moving average of raw force
	Anomaly   bool    // |Smoothed| > Threshold
	Threshold float64 // threshold in effect when screened
}

// ControllerState is the private state of one PID controller.
type ControllerState struct {
	Integral  float64
	PrevError float64
}

// ActuatorFeedback is produced once per actuator cycle and routed to the sensor.
type ActuatorFeedback struct {
	ReadingID uint64
	Kind      ActuatorKind
	Status    Status
	Output    float64
	Error     float64
	// Escalated is set only on the cycle whose status entered Emergency.
	Escalated bool
	Sent      time.Time
}

// Diagnostics holds the per-run event counters.
type Diagnostics struct {
	Anomalies        uint64 `json:"anomalies" yaml:"anomalies"`
	Emergencies      uint64 `json:"emergencies" yaml:"emergencies"`
	TransmitMisses   uint64 `json:"transmit_misses" yaml:"transmit_misses"`
	FeedbackMisses   uint64 `json:"feedback_misses" yaml:"feedback_misses"`
	DroppedReadings  uint64 `json:"dropped_readings" yaml:"dropped_readings"`
	DroppedFeedback  uint64 `json:"dropped_feedback" yaml:"dropped_feedback"`
	ReceiveTimeouts  uint64 `json:"receive_timeouts" yaml:"receive_timeouts"`
	FeedbackSent     uint64 `json:"feedback_sent" yaml:"feedback_sent"`
	FeedbackObserved uint64 `json:"feedback_observed" yaml:"feedback_observed"`
}

// Counter identifies one Diagnostics field.
type Counter int

const (
	CountAnomaly Counter = iota
	CountEmergency
	CountTransmitMiss
	CountFeedbackMiss
	CountDroppedReading
	CountDroppedFeedback
	CountReceiveTimeout
	CountFeedbackSent
	CountFeedbackObserved
	NumCounters
)

// Add increments the field named by c.
func (d *Diagnostics) Add(c Counter, n uint64) {
	switch c {
	case CountAnomaly:
		d.Anomalies += n
	case CountEmergency:
		d.Emergencies += n
	case CountTransmitMiss:
		d.TransmitMisses += n
	case CountFeedbackMiss:
		d.FeedbackMisses += n
	case CountDroppedReading:
		d.DroppedReadings += n
	case CountDroppedFeedback:
		d.DroppedFeedback += n
	case CountReceiveTimeout:
		d.ReceiveTimeouts += n
	case CountFeedbackSent:
		d.FeedbackSent += n
	case CountFeedbackObserved:
		d.FeedbackObserved += n
	}
}

// FromCounts builds Diagnostics from a counter-indexed array.
func FromCounts(c [NumCounters]uint64) Diagnostics {
	var d Diagnostics
	for i, n := range c {
		d.Add(Counter(i), n)
	}
	return d
}

// CycleResult is the timing record of one completed task cycle.
type CycleResult struct {
	CycleID   uint64
	Mode      string
	Actuator  *ActuatorKind // nil for sensor cycles
	Generated time.Time
	Offset    time.Duration // Generated relative to run start

	Processing time.Duration
	LockWait   time.Duration
	Transfer   time.Duration // transmission (sensor) or feedback send (actuator)
	Total      time.Duration

	Deadline    time.Duration
	DeadlineMet bool
	Lateness    time.Duration

	// Jitter is how late the task started the cycle: past its scheduled
	// wake for the sensor, after the reading was generated for an actuator.
	Jitter  time.Duration
	Overrun bool // the sensor's wake time had already passed
}

// Close derives Total, DeadlineMet and Lateness from the stage durations.
// It must be called again whenever a stage duration changes.
func (c *CycleResult) Close() {
	c.Total = c.Processing + c.LockWait + c.Transfer
	c.DeadlineMet = c.Total <= c.Deadline
	c.Lateness = 0
	if !c.DeadlineMet {
		c.Lateness = c.Total - c.Deadline
	}
}

// Stage returns "sensor" or the actuator kind.
func (c CycleResult) Stage() string {
	if c.Actuator == nil {
		return "sensor"
	}
	return string(*c.Actuator)
}

// KindPtr returns a pointer to a copy of k, for CycleResult.Actuator.
func KindPtr(k ActuatorKind) *ActuatorKind {
	return &k
}
