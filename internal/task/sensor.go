package task

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/loopbench/internal/clock"
	"github.com/sweeney/loopbench/internal/coop"
	"github.com/sweeney/loopbench/internal/live"
	"github.com/sweeney/loopbench/internal/logic"
	"github.com/sweeney/loopbench/internal/source"
)

// SensorConfig parameterizes the sensor task.
//
// A cycle's DeadlineMet is judged against Deadline alone, which covers
// processing, transmission and the feedback drain together. Going over
// TransmitDeadline or FeedbackDeadline is counted in the diagnostics
// (TransmitMisses, FeedbackMisses) but does not by itself mark the cycle
// missed: a slow broadcast that still fits the whole-cycle budget is
// recorded as met.
type SensorConfig struct {
	Period           time.Duration
	Deadline         time.Duration // whole cycle
	TransmitDeadline time.Duration
	FeedbackDeadline time.Duration
	ProcessingTime   time.Duration // minimum processing stage, busy-waited
	SendTimeout      time.Duration // broadcast wait on full queues
	FeedbackBatch    int           // max feedback items per drain
	Calibration      logic.CalibrationConfig
}

// Sensor produces one reading per period, screens it, fans it out and folds
// actuator feedback back into its calibration.
type Sensor struct {
	env *Env
	cfg SensorConfig
	src source.Source

	filter  *logic.Filter
	cal     *logic.Calibration
	atFloor bool
	cycles  uint64
}

// NewSensor creates the sensor task.
func NewSensor(env *Env, cfg SensorConfig, src source.Source) *Sensor {
	if cfg.FeedbackBatch < 1 {
		cfg.FeedbackBatch = 64
	}
	return &Sensor{
		env:    env,
		cfg:    cfg,
		src:    src,
		filter: logic.NewFilter(logic.DefaultWindow),
		cal:    logic.NewCalibration(cfg.Calibration),
	}
}

// Threshold returns the anomaly threshold currently in effect.
// Only meaningful once Run has returned.
func (s *Sensor) Threshold() float64 { return s.cal.Threshold() }

// Cycles returns how many cycles completed. Only meaningful once Run has returned.
func (s *Sensor) Cycles() uint64 { return s.cycles }

// Run executes cycles until ctx is done, then receives every remaining
// feedback item until the fabric's feedback queue is closed.
func (s *Sensor) Run(ctx context.Context, y coop.Yielder) error {
	sched := clock.NewSchedule(s.env.Start, s.cfg.Period)
	for {
		wake := sched.Next()
		w, err := clock.Wait(ctx, y, s.env.Clock, wake)
		if err != nil {
			break
		}
		if err := s.cycle(ctx, y, uint64(sched.Cycle()-1), w); err != nil {
			return fmt.Errorf("sensor cycle %d: %w", sched.Cycle()-1, err)
		}
		s.cycles++
	}

	var wait time.Duration
	if err := s.observe(y, s.env.Fabric.Remaining(y), &wait); err != nil {
		return fmt.Errorf("sensor final drain: %w", err)
	}
	return nil
}

func (s *Sensor) cycle(ctx context.Context, y coop.Yielder, id uint64, w clock.Wake) error {
	env := s.env
	reading, err := s.src.Read(id, w.At)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	start := time.Now()
	fr := s.filter.Screen(reading, s.cal.Threshold())
	busyWait(start, s.cfg.ProcessingTime)
	processing := time.Since(start)

	start = time.Now()
	delivered := env.Fabric.Broadcast(ctx, y, fr, s.cfg.SendTimeout)
	transmit := time.Since(start)

	start = time.Now()
	batch, _ := env.Fabric.Drain(s.cfg.FeedbackBatch, s.cfg.FeedbackDeadline)
	drain := time.Since(start)

	var wait time.Duration
	if fr.Anomaly {
		if err := env.count(y, logic.CountAnomaly, &wait); err != nil {
			return err
		}
	}
	for i := delivered; i < env.Fabric.Actuators(); i++ {
		if err := env.count(y, logic.CountDroppedReading, &wait); err != nil {
			return err
		}
	}
	if transmit > s.cfg.TransmitDeadline {
		if err := env.count(y, logic.CountTransmitMiss, &wait); err != nil {
			return err
		}
	}
	if drain > s.cfg.FeedbackDeadline {
		if err := env.count(y, logic.CountFeedbackMiss, &wait); err != nil {
			return err
		}
	}
	if err := s.observe(y, batch, &wait); err != nil {
		return err
	}
	env.offer(live.FromReading(fr, w.At.Sub(env.Start)))

	r := logic.CycleResult{
		CycleID:    id,
		Mode:       env.Mode,
		Generated:  w.At,
		Offset:     w.At.Sub(env.Start),
		Processing: processing,
		LockWait:   wait,
		Transfer:   transmit + drain,
		Deadline:   s.cfg.Deadline,
		Jitter:     w.Late,
		Overrun:    w.Overrun,
	}
	r.Close()
	if _, err := env.Store.Append(y, r); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return nil
}

// observe counts a drained feedback batch and applies it to the calibration.
func (s *Sensor) observe(y coop.Yielder, batch []logic.ActuatorFeedback, wait *time.Duration) error {
	if len(batch) == 0 {
		return nil
	}
	env := s.env
	now := env.Clock.Now()
	for _, fb := range batch {
		if err := env.count(y, logic.CountFeedbackObserved, wait); err != nil {
			return err
		}
		if fb.Status == logic.StatusEmergency && fb.Escalated {
			if err := env.count(y, logic.CountEmergency, wait); err != nil {
				return err
			}
		}
		env.offer(live.FromFeedback(fb, now.Sub(env.Start)))
	}

	adj := s.cal.Apply(batch, s.filter)
	if adj.Compensation != 0 {
		s.src.Compensate(adj.Compensation)
	}
	if adj.AtFloor && !s.atFloor {
		env.Log.Info("anomaly threshold reached floor",
			zap.String("mode", env.Mode),
			zap.Float64("threshold", adj.Threshold))
	}
	s.atFloor = adj.AtFloor
	return nil
}
