package logic

// CalibrationConfig bounds dynamic recalibration of the anomaly threshold.
type CalibrationConfig struct {
	Ceiling float64 // initial and maximum threshold
	Floor   float64 // tightest threshold allowed
	Step    float64 // adjustment per feedback event
}

// DefaultCalibrationConfig returns ceiling 80, floor 60, step 1.
func DefaultCalibrationConfig() CalibrationConfig {
	return CalibrationConfig{Ceiling: 80.0, Floor: 60.0, Step: 1.0}
}

// Adjustment describes what one Apply call changed.
type Adjustment struct {
	Threshold      float64
	ThresholdDelta float64
	Window         int
	Compensation   float64 // to be added to the source's position base
	AtFloor        bool
}

// Calibration holds the sensor's adaptive screening parameters.
// Not safe for concurrent use; owned by the sensor task.
type Calibration struct {
	cfg       CalibrationConfig
	threshold float64
}

// NewCalibration starts at the ceiling.
func NewCalibration(cfg CalibrationConfig) *Calibration {
	if cfg.Floor > cfg.Ceiling {
		cfg.Floor = cfg.Ceiling
	}
	return &Calibration{cfg: cfg, threshold: cfg.Ceiling}
}

// Threshold returns the anomaly threshold currently in effect.
func (c *Calibration) Threshold() float64 {
	return c.threshold
}

// Apply folds one drained batch of feedback into the calibration. Every
// Emergency tightens the threshold by one step toward the floor. A non-empty
// batch with only Normal feedback relaxes it by one step toward the ceiling.
// The filter window grows on large errors and shrinks on small ones.
func (c *Calibration) Apply(batch []ActuatorFeedback, f *Filter) Adjustment {
	before := c.threshold
	allNormal := len(batch) > 0
	var comp float64

	for _, fb := range batch {
		if fb.Status != StatusNormal {
			allNormal = false
		}
		if fb.Status == StatusEmergency {
			c.threshold -= c.cfg.Step
			if c.threshold < c.cfg.Floor {
				c.threshold = c.cfg.Floor
			}
		}

		abs := fb.Error
		if abs < 0 {
			abs = -abs
		}
		if f != nil {
			switch {
			case abs > 5.0:
				f.Resize(f.Window() + 1)
			case abs < 1.0:
				f.Resize(f.Window() - 1)
			}
		}
		if abs > 3.0 {
			comp += fb.Error * 0.01
		}
	}

	if allNormal {
		c.threshold += c.cfg.Step
		if c.threshold > c.cfg.Ceiling {
			c.threshold = c.cfg.Ceiling
		}
	}

	adj := Adjustment{
		Threshold:      c.threshold,
		ThresholdDelta: c.threshold - before,
		Compensation:   comp,
		AtFloor:        c.threshold == c.cfg.Floor,
	}
	if f != nil {
		adj.Window = f.Window()
	}
	return adj
}
