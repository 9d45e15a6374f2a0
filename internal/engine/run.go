package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/loopbench/internal/clock"
	"github.com/sweeney/loopbench/internal/config"
	"github.com/sweeney/loopbench/internal/coop"
	"github.com/sweeney/loopbench/internal/dispatch"
	"github.com/sweeney/loopbench/internal/live"
	"github.com/sweeney/loopbench/internal/load"
	"github.com/sweeney/loopbench/internal/logic"
	"github.com/sweeney/loopbench/internal/source"
	"github.com/sweeney/loopbench/internal/store"
	"github.com/sweeney/loopbench/internal/task"
)

// ActuatorSummary is the per-actuator outcome of a run.
type ActuatorSummary struct {
	Kind   logic.ActuatorKind `json:"kind" yaml:"kind"`
	Cycles uint64             `json:"cycles" yaml:"cycles"`
	Status logic.StatusCounts `json:"status" yaml:"status"`
}

// Result is everything one run produced.
type Result struct {
	RunID    string        `json:"run_id" yaml:"run_id"`
	Mode     string        `json:"mode" yaml:"mode"`
	Strategy string        `json:"strategy" yaml:"strategy"`
	Config   config.Config `json:"config" yaml:"config"`
	Started  time.Time     `json:"started" yaml:"started"`
	Finished time.Time     `json:"finished" yaml:"finished"`

	Cycles      []logic.CycleResult `json:"-" yaml:"-"`
	Diagnostics logic.Diagnostics   `json:"diagnostics" yaml:"diagnostics"`

	SensorCycles   uint64            `json:"sensor_cycles" yaml:"sensor_cycles"`
	FinalThreshold float64           `json:"final_threshold" yaml:"final_threshold"`
	Actuators      []ActuatorSummary `json:"actuators" yaml:"actuators"`
	Scheduler      *coop.PoolStats   `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Load           load.Stats        `json:"load" yaml:"load"`
	LiveDropped    uint64            `json:"live_dropped" yaml:"live_dropped"`
}

// Snapshot is a point-in-time view of a live run. It is a value type, safe
// to use after the call returns.
type Snapshot struct {
	RunID       string
	Mode        string
	Strategy    string
	Elapsed     time.Duration
	Duration    time.Duration
	Progress    float64 // 0..1
	Cycles      int     // recorded so far
	Recent      []logic.CycleResult
	Samples     []live.Sample
	Diagnostics logic.Diagnostics
	Backlog     []int // per-actuator reading queue depth
	Feedback    int   // feedback queue depth
	Done        bool
}

// Option customizes a run.
type Option func(*options)

type options struct {
	log    *zap.Logger
	clock  clock.Clock
	source source.Source
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock replaces the wall clock used for scheduling.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithSource replaces the simulated sensor source.
func WithSource(s source.Source) Option {
	return func(o *options) { o.source = s }
}

// Run is one experiment in progress.
type Run struct {
	id     string
	cfg    config.Config
	eng    Engine
	log    *zap.Logger
	start  time.Time
	clock  clock.Clock
	cancel context.CancelFunc

	store  store.Store
	fabric *dispatch.Fabric
	ring   *live.Ring
	src    source.Source

	sensor    *task.Sensor
	actuators []*task.Actuator

	done   chan struct{}
	result *Result
	err    error
}

// Start validates cfg and launches a run in mode. It returns once every task
// has been started; the run ends after cfg.Duration or when ctx is done.
func Start(ctx context.Context, cfg config.Config, mode string, opts ...Option) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eng, err := New(mode, cfg.CoopWorkers)
	if err != nil {
		return nil, err
	}

	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.source == nil {
		o.source = source.NewSimulated(cfg.Seed, cfg.Noise)
	}

	st, err := store.New(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	id := uuid.New().String()
	log := o.log.With(zap.String("run_id", id), zap.String("mode", mode))
	n := len(cfg.Actuators)
	r := &Run{
		id:     id,
		cfg:    cfg,
		eng:    eng,
		log:    log,
		clock:  o.clock,
		store:  st,
		fabric: dispatch.New(cfg.ChannelCapacity, cfg.ChannelCapacity*n, n),
		ring:   live.New(cfg.LiveCapacity, log),
		src:    o.source,
		done:   make(chan struct{}),
	}
	r.start = r.clock.Now()

	env := &task.Env{
		Mode:   mode,
		Start:  r.start,
		Clock:  r.clock,
		Fabric: r.fabric,
		Store:  st,
		Live:   r.ring,
		Log:    log,
	}
	r.sensor = task.NewSensor(env, task.SensorConfig{
		Period:           cfg.SensorPeriod,
		Deadline:         cfg.SensorDeadline,
		TransmitDeadline: cfg.TransmitDeadline,
		FeedbackDeadline: cfg.FeedbackDeadline,
		ProcessingTime:   cfg.ProcessingTime,
		SendTimeout:      cfg.SendTimeout,
		FeedbackBatch:    cfg.ChannelCapacity * n,
		Calibration:      cfg.Calibration(),
	}, r.src)
	for i, spec := range cfg.Actuators {
		r.actuators = append(r.actuators, task.NewActuator(env, task.ActuatorConfig{
			ActuatorSpec:   spec,
			Index:          i,
			Dt:             cfg.SensorPeriod,
			ReceiveTimeout: cfg.ReceiveTimeout,
			SendTimeout:    cfg.SendTimeout,
			ProcessingTime: cfg.ProcessingTime,
			Gains:          logic.DefaultGains(),
			Thresholds:     logic.DefaultThresholds(),
		}))
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	r.cancel = cancel
	log.Info("run started",
		zap.String("strategy", cfg.Strategy),
		zap.Duration("duration", cfg.Duration),
		zap.Duration("sensor_period", cfg.SensorPeriod))
	go r.execute(runCtx)
	return r, nil
}

func (r *Run) execute(ctx context.Context) {
	defer close(r.done)
	defer r.cancel()

	var failOnce sync.Once
	fail := func(err error) {
		failOnce.Do(func() {
			r.log.Error("task failed, aborting run", zap.Error(err))
			r.store.Poison(err)
			r.cancel()
		})
	}

	ld := load.Start(ctx, load.Config{
		Burners: r.cfg.LoadThreads,
		Readers: r.cfg.ContentionReaders,
		Hold:    r.cfg.ContentionHold,
	}, r.store)

	var actuators, sensor errgroup.Group
	for _, a := range r.actuators {
		name := "actuator " + string(a.Kind())
		r.eng.Go(&actuators, ctx, guard(name, a.Run, fail))
	}
	r.eng.Go(&sensor, ctx, guard("sensor", r.sensor.Run, fail))

	actErr := actuators.Wait()
	// No actuator can send any more, so the sensor's final drain terminates.
	r.fabric.CloseFeedback()
	sensErr := sensor.Wait()
	loadStats := ld.Stop()

	cycles, drainErr := r.store.Drain()
	if err := r.src.Close(); err != nil {
		r.log.Warn("close source", zap.Error(err))
	}

	res := &Result{
		RunID:          r.id,
		Mode:           r.eng.Mode(),
		Strategy:       r.cfg.Strategy,
		Config:         r.cfg,
		Started:        r.start,
		Finished:       r.clock.Now(),
		Cycles:         cycles,
		Diagnostics:    r.store.Diagnostics(),
		SensorCycles:   r.sensor.Cycles(),
		FinalThreshold: r.sensor.Threshold(),
		Load:           loadStats,
		LiveDropped:    r.ring.Dropped(),
	}
	for _, a := range r.actuators {
		res.Actuators = append(res.Actuators, ActuatorSummary{
			Kind:   a.Kind(),
			Cycles: a.Cycles(),
			Status: a.StatusCounts(),
		})
	}
	if c, ok := r.eng.(*Cooperative); ok {
		stats := c.Pool.Stats()
		res.Scheduler = &stats
	}

	err := errors.Join(actErr, sensErr)
	if err == nil && drainErr != nil {
		err = drainErr
	}
	if err == nil && len(cycles) == 0 {
		err = fmt.Errorf("%w: %+v", ErrNoResults, res.Diagnostics)
	}
	if err != nil {
		err = fmt.Errorf("%s run: %w", r.eng.Mode(), err)
	}

	r.result, r.err = res, err
	r.log.Info("run finished",
		zap.Int("cycles", len(cycles)),
		zap.Uint64("sensor_cycles", res.SensorCycles),
		zap.Uint64("anomalies", res.Diagnostics.Anomalies),
		zap.Uint64("emergencies", res.Diagnostics.Emergencies),
		zap.Error(err))
}

// ID returns the run's unique ID.
func (r *Run) ID() string { return r.id }

// Mode returns the run's concurrency mode.
func (r *Run) Mode() string { return r.eng.Mode() }

// Config returns the configuration the run was started with.
func (r *Run) Config() config.Config { return r.cfg }

// Done is closed once the run has finished and its result is available.
func (r *Run) Done() <-chan struct{} { return r.done }

// Stop ends the run early. Wait still returns a result.
func (r *Run) Stop() { r.cancel() }

// Wait blocks until the run has finished and returns its result. The result
// is non-nil even when err is not, so callers can report what happened.
func (r *Run) Wait() (*Result, error) {
	<-r.done
	return r.result, r.err
}

// Snapshot returns the n most recent cycle results and live samples. It never
// blocks the tasks: samples come from a ring the tasks only try-lock, and
// reading the store holds its read side for a bounded copy of n entries.
func (r *Run) Snapshot(n int) Snapshot {
	elapsed := r.clock.Now().Sub(r.start)
	progress := float64(elapsed) / float64(r.cfg.Duration)
	if progress > 1 {
		progress = 1
	}
	backlog, feedback := r.fabric.Backlog()
	s := Snapshot{
		RunID:       r.id,
		Mode:        r.eng.Mode(),
		Strategy:    r.cfg.Strategy,
		Elapsed:     elapsed,
		Duration:    r.cfg.Duration,
		Progress:    progress,
		Cycles:      r.store.Len(),
		Recent:      r.store.Recent(n),
		Samples:     r.ring.Recent(n),
		Diagnostics: r.store.Diagnostics(),
		Backlog:     backlog,
		Feedback:    feedback,
	}
	select {
	case <-r.done:
		s.Done = true
		s.Progress = 1
	default:
	}
	return s
}

// Execute runs one mode to completion.
func Execute(ctx context.Context, cfg config.Config, mode string, opts ...Option) (*Result, error) {
	r, err := Start(ctx, cfg, mode, opts...)
	if err != nil {
		return nil, err
	}
	return r.Wait()
}

// RunModes runs every mode cfg.Mode selects, one after the other, so that
// the modes never compete for the CPU. started, if non-nil, is called with
// each run as it starts so a monitor can attach. It stops at the first
// failing run and returns the results collected so far.
func RunModes(ctx context.Context, cfg config.Config, started func(*Run), opts ...Option) ([]*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	modes, err := Modes(cfg.Mode)
	if err != nil {
		return nil, err
	}

	var results []*Result
	for _, mode := range modes {
		r, err := Start(ctx, cfg, mode, opts...)
		if err != nil {
			return results, err
		}
		if started != nil {
			started(r)
		}
		res, err := r.Wait()
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	return results, nil
}
