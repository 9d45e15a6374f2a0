package task

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sweeney/loopbench/internal/coop"
	"github.com/sweeney/loopbench/internal/dispatch"
	"github.com/sweeney/loopbench/internal/logic"
)

// ActuatorSpec describes one actuator of the run.
type ActuatorSpec struct {
	Kind     logic.ActuatorKind `mapstructure:"kind" yaml:"kind" json:"kind"`
	Deadline time.Duration      `mapstructure:"deadline" yaml:"deadline" json:"deadline"`
	Setpoint float64            `mapstructure:"setpoint" yaml:"setpoint" json:"setpoint"`
}

// DefaultActuators returns the gripper, motor and stabilizer.
func DefaultActuators() []ActuatorSpec {
	return []ActuatorSpec{
		{Kind: logic.KindFast, Deadline: 1 * time.Millisecond},
		{Kind: logic.KindMedium, Deadline: 2 * time.Millisecond},
		{Kind: logic.KindSlow, Deadline: 1500 * time.Microsecond},
	}
}

// ActuatorConfig parameterizes one actuator task.
type ActuatorConfig struct {
	ActuatorSpec
	Index          int           // reading queue in the fabric
	Dt             time.Duration // control interval, the sensor period
	ReceiveTimeout time.Duration
	SendTimeout    time.Duration
	ProcessingTime time.Duration
	Gains          logic.Gains
	Thresholds     logic.Thresholds
}

// Actuator runs a PID controller on every reading it receives and reports
// its status back to the sensor.
type Actuator struct {
	env *Env
	cfg ActuatorConfig

	state   logic.ControllerState
	tracker *logic.StatusTracker
	cycles  uint64
}

// NewActuator creates an actuator task.
func NewActuator(env *Env, cfg ActuatorConfig) *Actuator {
	return &Actuator{env: env, cfg: cfg, tracker: logic.NewStatusTracker()}
}

// Kind returns the actuator kind.
func (a *Actuator) Kind() logic.ActuatorKind { return a.cfg.Kind }

// StatusCounts returns cycles spent per status. Only meaningful once Run has returned.
func (a *Actuator) StatusCounts() logic.StatusCounts { return a.tracker.Counts() }

// Cycles returns how many cycles completed. Only meaningful once Run has returned.
func (a *Actuator) Cycles() uint64 { return a.cycles }

// Run receives readings until ctx is done. A receive timeout is counted and
// skips the cycle.
func (a *Actuator) Run(ctx context.Context, y coop.Yielder) error {
	for ctx.Err() == nil {
		r, err := a.env.Fabric.Receive(ctx, y, a.cfg.Index, a.cfg.ReceiveTimeout)
		switch {
		case errors.Is(err, dispatch.ErrTimeout):
			var wait time.Duration
			if err := a.env.count(y, logic.CountReceiveTimeout, &wait); err != nil {
				return fmt.Errorf("actuator %s: %w", a.cfg.Kind, err)
			}
			continue
		case err != nil:
			return nil
		}
		if err := a.cycle(ctx, y, r); err != nil {
			return fmt.Errorf("actuator %s cycle %d: %w", a.cfg.Kind, r.ID, err)
		}
		a.cycles++
	}
	return nil
}

func (a *Actuator) cycle(ctx context.Context, y coop.Yielder, r logic.FilteredReading) error {
	env := a.env
	received := env.Clock.Now()

	start := time.Now()
	e := a.cfg.Setpoint - r.Position
	var out float64
	out, a.state = a.cfg.Gains.Step(a.state, e, a.cfg.Dt.Seconds())
	status := a.cfg.Thresholds.Classify(math.Abs(e))
	escalated := a.tracker.Observe(status)
	busyWait(start, a.cfg.ProcessingTime)
	processing := time.Since(start)

	fb := logic.ActuatorFeedback{
		ReadingID: r.ID,
		Kind:      a.cfg.Kind,
		Status:    status,
		Output:    out,
		Error:     e,
		Escalated: escalated,
		Sent:      env.Clock.Now(),
	}
	start = time.Now()
	sent := env.Fabric.SendFeedback(ctx, y, fb, a.cfg.SendTimeout)
	transfer := time.Since(start)

	var wait time.Duration
	c := logic.CountFeedbackSent
	if !sent {
		c = logic.CountDroppedFeedback
	}
	if err := env.count(y, c, &wait); err != nil {
		return err
	}

	res := logic.CycleResult{
		CycleID:    r.ID,
		Mode:       env.Mode,
		Actuator:   logic.KindPtr(a.cfg.Kind),
		Generated:  r.Generated,
		Offset:     r.Generated.Sub(env.Start),
		Processing: processing,
		LockWait:   wait,
		Transfer:   transfer,
		Deadline:   a.cfg.Deadline,
	}
	if lag := received.Sub(r.Generated); lag > 0 {
		res.Jitter = lag
	}
	res.Close()
	if _, err := env.Store.Append(y, res); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return nil
}
