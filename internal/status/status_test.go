package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Name:         "default",
		Modes:        []string{"threaded", "cooperative"},
		Strategy:     "rwlock",
		Duration:     10 * time.Second,
		SensorPeriod: 10 * time.Millisecond,
		Broker:       "tcp://localhost:1883",
		HTTPAddr:     ":8080",
	}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(start, testConfig())

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Phase != PhaseIdle {
		t.Errorf("Phase: got %s, want IDLE", snap.Phase)
	}
	if snap.Active != nil {
		t.Error("expected no active run initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.Config.Strategy != "rwlock" {
		t.Errorf("Config.Strategy: got %q", snap.Config.Strategy)
	}
}

func TestRunLifecycle(t *testing.T) {
	tr := NewTracker(time.Now(), testConfig())

	tr.Begin(ActiveRun{ID: "a", Mode: "threaded", Strategy: "rwlock", Started: time.Now()})
	snap := tr.Snapshot()
	if snap.Phase != PhaseRunning {
		t.Errorf("Phase: got %s, want RUNNING", snap.Phase)
	}
	if snap.Active == nil || snap.Active.ID != "a" {
		t.Fatalf("Active: got %+v", snap.Active)
	}

	tr.Finish(RunSummary{ID: "a", Mode: "threaded", Cycles: 400, Compliance: 0.99})
	snap = tr.Snapshot()
	if snap.Active != nil {
		t.Error("Finish should clear the active run")
	}
	if snap.Phase != PhaseRunning {
		t.Errorf("Phase after Finish: got %s, want RUNNING", snap.Phase)
	}
	if len(snap.Completed) != 1 || snap.Completed[0].Cycles != 400 {
		t.Errorf("Completed: got %+v", snap.Completed)
	}

	tr.End()
	if got := tr.Snapshot().Phase; got != PhaseDone {
		t.Errorf("Phase after End: got %s, want DONE", got)
	}
}

func TestEndWithFailedRun(t *testing.T) {
	tr := NewTracker(time.Now(), testConfig())
	tr.Finish(RunSummary{ID: "a"})
	tr.Finish(RunSummary{ID: "b", Err: "cooperative run: store poisoned"})
	tr.End()
	if got := tr.Snapshot().Phase; got != PhaseFailed {
		t.Errorf("Phase: got %s, want FAILED", got)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}
	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Now().Add(-5 * time.Minute)
	tr := NewTracker(start, Config{})

	up := tr.Snapshot().Uptime()
	if up < 5*time.Minute || up > 5*time.Minute+time.Second {
		t.Errorf("Uptime: got %v, want ~5m", up)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), testConfig())
	tr.Begin(ActiveRun{ID: "a"})
	tr.Finish(RunSummary{ID: "a"})
	tr.Begin(ActiveRun{ID: "b"})

	snap := tr.Snapshot()
	snap.Active.ID = "mutated"
	snap.Completed[0].ID = "mutated"
	snap.Config.Modes[0] = "mutated"

	again := tr.Snapshot()
	if again.Active.ID != "b" {
		t.Errorf("Active mutated through snapshot: %q", again.Active.ID)
	}
	if again.Completed[0].ID != "a" {
		t.Errorf("Completed mutated through snapshot: %q", again.Completed[0].ID)
	}
	if again.Config.Modes[0] != "threaded" {
		t.Errorf("Modes mutated through snapshot: %q", again.Config.Modes[0])
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Phase:     PhaseRunning,
		StartTime: start,
		Now:       start.Add(90 * time.Second),
		Active:    &ActiveRun{ID: "b", Mode: "cooperative", Strategy: "atomic", Started: start.Add(60 * time.Second)},
		Completed: []RunSummary{{ID: "a", Mode: "threaded", Cycles: 10, Compliance: 0.5, Elapsed: 1500 * time.Millisecond}},
		Config:    testConfig(),
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status
	if s.Phase != "RUNNING" {
		t.Errorf("Phase: got %s", s.Phase)
	}
	if s.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds: got %d, want 90", s.UptimeSeconds)
	}
	if s.Active == nil || s.Active.ElapsedSeconds != 30 {
		t.Errorf("Active: got %+v", s.Active)
	}
	if len(s.Completed) != 1 || s.Completed[0].ElapsedMs != 1500 {
		t.Errorf("Completed: got %+v", s.Completed)
	}
	if s.Config.DurationMs != 10000 || s.Config.SensorPeriodUs != 10000 {
		t.Errorf("Config: got %+v", s.Config)
	}
	if s.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("MQTT.Broker: got %q", s.MQTT.Broker)
	}
	if s.Event != "" || s.Reason != "" {
		t.Error("web status should carry no event or reason")
	}
}

func TestFormatJSONEmpty(t *testing.T) {
	data := FormatJSON(Snapshot{})
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if raw["status"]["phase"] != "IDLE" {
		t.Errorf("phase: got %v, want IDLE", raw["status"]["phase"])
	}
	if _, ok := raw["status"]["active"]; ok {
		t.Error("active should be omitted when no run is active")
	}
	if c, ok := raw["status"]["completed"].([]any); !ok || len(c) != 0 {
		t.Errorf("completed: got %v, want []", raw["status"]["completed"])
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{Phase: PhaseDone, StartTime: time.Now(), Now: time.Now()}
	var parsed StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("event/reason: got %q/%q", parsed.Status.Event, parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	data := FormatStatusEvent(Snapshot{}, "ONLINE", "")
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["status"]["reason"]; ok {
		t.Error("reason should be omitted when empty")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), testConfig())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Begin(ActiveRun{ID: "x"})
			tr.Finish(RunSummary{ID: "x", Cycles: i})
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = FormatJSON(tr.Snapshot())
		}
	}()

	wg.Wait()
}
