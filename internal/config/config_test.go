package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/loopbench/internal/logic"
	"github.com/sweeney/loopbench/internal/task"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	c := Default()
	c.SensorPeriod = 0
	c.Strategy = "spinlock"
	c.Mode = "parallel"
	c.ThresholdFloor = 90
	c.ContentionHold = -time.Millisecond
	c.Actuators = append(c.Actuators, task.ActuatorSpec{Kind: logic.KindFast, Deadline: time.Millisecond})

	err := c.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("got %v, want ErrInvalid", err)
	}
	for _, want := range []string{"sensor_period", "strategy", "mode", "threshold_floor", "contention_hold", "duplicate kind FAST"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	c := Default()
	c.Actuators = []task.ActuatorSpec{{Kind: "TURBO", Deadline: time.Millisecond}}
	if err := c.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("got %v, want ErrInvalid", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatal(err)
	}
	d := Default()
	if cfg.SensorPeriod != d.SensorPeriod || cfg.Strategy != d.Strategy || len(cfg.Actuators) != 3 {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	body := `
name: contention
duration: 2s
sensor_period: 5ms
strategy: rwlock
mode: cooperative
coop_workers: 2
contention_hold: 1ms
actuators:
  - kind: FAST
    deadline: 500us
    setpoint: 1.5
  - kind: SLOW
    deadline: 3ms
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOOPBENCH_STRATEGY", "atomic")
	t.Setenv("LOOPBENCH_LOAD_THREADS", "3")

	cfg, err := Load(NewViper(), path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Name != "contention" {
		t.Errorf("Name: got %q", cfg.Name)
	}
	if cfg.Duration != 2*time.Second || cfg.SensorPeriod != 5*time.Millisecond {
		t.Errorf("durations: got %v / %v", cfg.Duration, cfg.SensorPeriod)
	}
	if cfg.Strategy != "atomic" {
		t.Errorf("Strategy: got %q, want env override atomic", cfg.Strategy)
	}
	if cfg.LoadThreads != 3 {
		t.Errorf("LoadThreads: got %d, want 3", cfg.LoadThreads)
	}
	if cfg.Mode != ModeCooperative || cfg.CoopWorkers != 2 {
		t.Errorf("mode: got %q/%d", cfg.Mode, cfg.CoopWorkers)
	}
	if cfg.ContentionHold != time.Millisecond {
		t.Errorf("ContentionHold: got %v, want 1ms", cfg.ContentionHold)
	}
	if len(cfg.Actuators) != 2 {
		t.Fatalf("actuators: got %d, want 2", len(cfg.Actuators))
	}
	a := cfg.Actuators[0]
	if a.Kind != logic.KindFast || a.Deadline != 500*time.Microsecond || a.Setpoint != 1.5 {
		t.Errorf("actuator 0: got %+v", a)
	}
	// Untouched keys keep their defaults.
	if cfg.FeedbackDeadline != 500*time.Microsecond {
		t.Errorf("FeedbackDeadline: got %v", cfg.FeedbackDeadline)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("sensor_period: -1ms\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(NewViper(), path); !errors.Is(err, ErrInvalid) {
		t.Errorf("got %v, want ErrInvalid", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCalibration(t *testing.T) {
	c := Default()
	cal := c.Calibration()
	if cal.Ceiling != 80 || cal.Floor != 60 || cal.Step != 1 {
		t.Errorf("got %+v", cal)
	}
}
