// Package status provides a thread-safe tracker of harness state.
// It is read by the HTTP handlers and the MQTT system events.
package status

import (
	"sync"
	"time"
)

// Phase is what the harness is doing.
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhaseRunning Phase = "RUNNING"
	PhaseDone    Phase = "DONE"
	PhaseFailed  Phase = "FAILED"
)

// Config contains harness configuration for display.
type Config struct {
	Name         string
	Modes        []string
	Strategy     string
	Duration     time.Duration
	SensorPeriod time.Duration
	Broker       string
	HTTPAddr     string
	DBPath       string
}

// ActiveRun describes the run in progress.
type ActiveRun struct {
	ID       string
	Mode     string
	Strategy string
	Started  time.Time
}

// RunSummary is the outcome of a finished run.
type RunSummary struct {
	ID          string
	Mode        string
	Strategy    string
	Cycles      int
	Compliance  float64
	Anomalies   uint64
	Emergencies uint64
	Elapsed     time.Duration
	Err         string
}

// Snapshot is a point-in-time view of harness state.
// It is a value type: safe to use after the lock is released.
type Snapshot struct {
	Phase         Phase
	Active        *ActiveRun
	Completed     []RunSummary
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the harness started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable harness state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates an idle Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Phase:     PhaseIdle,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Begin marks a run as active.
func (t *Tracker) Begin(run ActiveRun) {
	t.mu.Lock()
	t.snap.Phase = PhaseRunning
	t.snap.Active = &run
	t.mu.Unlock()
}

// Finish records a finished run and clears the active one. The phase stays
// RUNNING until End.
func (t *Tracker) Finish(s RunSummary) {
	t.mu.Lock()
	t.snap.Active = nil
	t.snap.Completed = append(t.snap.Completed, s)
	t.mu.Unlock()
}

// End marks the session finished, FAILED if any run failed.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Active = nil
	t.snap.Phase = PhaseDone
	for _, s := range t.snap.Completed {
		if s.Err != "" {
			t.snap.Phase = PhaseFailed
			return
		}
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the harness state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.Active != nil {
		a := *s.Active
		s.Active = &a
	}
	s.Completed = append([]RunSummary(nil), s.Completed...)
	s.Config.Modes = append([]string(nil), s.Config.Modes...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
