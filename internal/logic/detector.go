package logic

// Thresholds separates the status bands by absolute error.
type Thresholds struct {
	Correcting float64 // |err| above this is at least Correcting
	Emergency  float64 // |err| above this is Emergency
}

// DefaultThresholds returns the 5.0 / 10.0 bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Correcting: 5.0, Emergency: 10.0}
}

// Classify maps an absolute error to a status.
func (t Thresholds) Classify(absErr float64) Status {
	switch {
	case absErr > t.Emergency:
		return StatusEmergency
	case absErr > t.Correcting:
		return StatusCorrecting
	default:
		return StatusNormal
	}
}

// StatusCounts tracks how many cycles were spent in each status.
type StatusCounts struct {
	Normal      int
	Correcting  int
	Emergency   int
	Escalations int
}

// StatusTracker detects transitions into Emergency for one actuator.
// Emergencies are counted once per transition, not once per cycle spent there.
type StatusTracker struct {
	current Status
	counts  StatusCounts
}

// NewStatusTracker creates a tracker starting in Normal.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{current: StatusNormal}
}

// Observe records the status of one cycle and reports whether it entered
// Emergency on this cycle.
func (d *StatusTracker) Observe(s Status) bool {
	switch s {
	case StatusNormal:
		d.counts.Normal++
	case StatusCorrecting:
		d.counts.Correcting++
	case StatusEmergency:
		d.counts.Emergency++
	}

	escalated := s == StatusEmergency && d.current != StatusEmergency
	if escalated {
		d.counts.Escalations++
	}
	d.current = s
	return escalated
}

// Current returns the most recently observed status.
func (d *StatusTracker) Current() Status {
	return d.current
}

// Counts returns a copy of the per-status counters.
func (d *StatusTracker) Counts() StatusCounts {
	return d.counts
}
