// Package config holds the experiment configuration. Values come from
// defaults, an optional config file and LOOPBENCH_* environment variables,
// in increasing priority; command-line flags bound by the caller win over all.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sweeney/loopbench/internal/logic"
	"github.com/sweeney/loopbench/internal/store"
	"github.com/sweeney/loopbench/internal/task"
)

// ErrInvalid is returned for a configuration that must not be run.
var ErrInvalid = errors.New("invalid config")

// EnvPrefix prefixes environment overrides, e.g. LOOPBENCH_SENSOR_PERIOD=5ms.
const EnvPrefix = "LOOPBENCH"

// Run modes.
const (
	ModeThreaded    = "threaded"
	ModeCooperative = "cooperative"
	ModeBoth        = "both"
)

// Config is one experiment.
type Config struct {
	Name         string        `mapstructure:"name" yaml:"name" json:"name"`
	Duration     time.Duration `mapstructure:"duration" yaml:"duration" json:"duration"`
	SensorPeriod time.Duration `mapstructure:"sensor_period" yaml:"sensor_period" json:"sensor_period"`
	Strategy     string        `mapstructure:"strategy" yaml:"strategy" json:"strategy"`
	Mode         string        `mapstructure:"mode" yaml:"mode" json:"mode"`

	LoadThreads       int           `mapstructure:"load_threads" yaml:"load_threads" json:"load_threads"`
	ContentionReaders int           `mapstructure:"contention_readers" yaml:"contention_readers" json:"contention_readers"`
	ContentionHold    time.Duration `mapstructure:"contention_hold" yaml:"contention_hold" json:"contention_hold"`
	ProcessingTime    time.Duration `mapstructure:"processing_time" yaml:"processing_time" json:"processing_time"`
	CoopWorkers       int           `mapstructure:"coop_workers" yaml:"coop_workers" json:"coop_workers"`
	ChannelCapacity   int           `mapstructure:"channel_capacity" yaml:"channel_capacity" json:"channel_capacity"`

	AnomalyThreshold float64 `mapstructure:"anomaly_threshold" yaml:"anomaly_threshold" json:"anomaly_threshold"`
	ThresholdFloor   float64 `mapstructure:"threshold_floor" yaml:"threshold_floor" json:"threshold_floor"`
	ThresholdStep    float64 `mapstructure:"threshold_step" yaml:"threshold_step" json:"threshold_step"`

	SensorDeadline   time.Duration `mapstructure:"sensor_deadline" yaml:"sensor_deadline" json:"sensor_deadline"`
	TransmitDeadline time.Duration `mapstructure:"transmit_deadline" yaml:"transmit_deadline" json:"transmit_deadline"`
	FeedbackDeadline time.Duration `mapstructure:"feedback_deadline" yaml:"feedback_deadline" json:"feedback_deadline"`
	ReceiveTimeout   time.Duration `mapstructure:"receive_timeout" yaml:"receive_timeout" json:"receive_timeout"`
	SendTimeout      time.Duration `mapstructure:"send_timeout" yaml:"send_timeout" json:"send_timeout"`

	LiveCapacity int     `mapstructure:"live_capacity" yaml:"live_capacity" json:"live_capacity"`
	Seed         int64   `mapstructure:"seed" yaml:"seed" json:"seed"`
	Noise        float64 `mapstructure:"noise" yaml:"noise" json:"noise"`

	Actuators []task.ActuatorSpec `mapstructure:"actuators" yaml:"actuators" json:"actuators"`
}

// Default returns the reference experiment: 10ms sensor period, the three
// standard actuators, mutex strategy, both modes for 10 seconds each.
func Default() Config {
	return Config{
		Name:             "default",
		Duration:         10 * time.Second,
		SensorPeriod:     10 * time.Millisecond,
		Strategy:         store.StrategyMutex,
		Mode:             ModeBoth,
		ContentionHold:   200 * time.Microsecond,
		CoopWorkers:      1,
		ChannelCapacity:  16,
		AnomalyThreshold: 80,
		ThresholdFloor:   60,
		ThresholdStep:    1,
		SensorDeadline:   800 * time.Microsecond,
		TransmitDeadline: 100 * time.Microsecond,
		FeedbackDeadline: 500 * time.Microsecond,
		ReceiveTimeout:   50 * time.Millisecond,
		SendTimeout:      time.Millisecond,
		LiveCapacity:     1024,
		Seed:             1,
		Noise:            2,
		Actuators:        task.DefaultActuators(),
	}
}

// Calibration returns the sensor calibration bounds.
func (c Config) Calibration() logic.CalibrationConfig {
	return logic.CalibrationConfig{
		Ceiling: c.AnomalyThreshold,
		Floor:   c.ThresholdFloor,
		Step:    c.ThresholdStep,
	}
}

// Validate reports every problem at once, wrapped in ErrInvalid.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			add("%s must be positive, got %v", name, d)
		}
	}

	positive("duration", c.Duration)
	positive("sensor_period", c.SensorPeriod)
	positive("sensor_deadline", c.SensorDeadline)
	positive("transmit_deadline", c.TransmitDeadline)
	positive("feedback_deadline", c.FeedbackDeadline)
	positive("receive_timeout", c.ReceiveTimeout)
	positive("send_timeout", c.SendTimeout)
	if c.ProcessingTime < 0 {
		add("processing_time must not be negative, got %v", c.ProcessingTime)
	}

	if !store.Valid(c.Strategy) {
		add("strategy must be one of %s, got %q", strings.Join(store.Strategies, ", "), c.Strategy)
	}
	switch c.Mode {
	case ModeThreaded, ModeCooperative, ModeBoth:
	default:
		add("mode must be threaded, cooperative or both, got %q", c.Mode)
	}

	if c.LoadThreads < 0 {
		add("load_threads must not be negative, got %d", c.LoadThreads)
	}
	if c.ContentionReaders < 0 {
		add("contention_readers must not be negative, got %d", c.ContentionReaders)
	}
	if c.ContentionHold < 0 {
		add("contention_hold must not be negative, got %v", c.ContentionHold)
	}
	if c.CoopWorkers < 1 {
		add("coop_workers must be at least 1, got %d", c.CoopWorkers)
	}
	if c.ChannelCapacity < 1 {
		add("channel_capacity must be at least 1, got %d", c.ChannelCapacity)
	}
	if c.LiveCapacity < 1 {
		add("live_capacity must be at least 1, got %d", c.LiveCapacity)
	}

	if c.AnomalyThreshold <= 0 {
		add("anomaly_threshold must be positive, got %v", c.AnomalyThreshold)
	}
	if c.ThresholdFloor <= 0 || c.ThresholdFloor > c.AnomalyThreshold {
		add("threshold_floor must be in (0, %v], got %v", c.AnomalyThreshold, c.ThresholdFloor)
	}
	if c.ThresholdStep <= 0 {
		add("threshold_step must be positive, got %v", c.ThresholdStep)
	}
	if c.Noise < 0 {
		add("noise must not be negative, got %v", c.Noise)
	}

	if len(c.Actuators) == 0 {
		add("at least one actuator is required")
	}
	seen := make(map[logic.ActuatorKind]bool)
	for i, a := range c.Actuators {
		if _, err := logic.ParseKind(string(a.Kind)); err != nil {
			add("actuators[%d]: %v", i, err)
		}
		if seen[a.Kind] {
			add("actuators[%d]: duplicate kind %s", i, a.Kind)
		}
		seen[a.Kind] = true
		if a.Deadline <= 0 {
			add("actuators[%d]: deadline must be positive, got %v", i, a.Deadline)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// NewViper returns a viper instance carrying every default and reading
// LOOPBENCH_* environment overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("name", d.Name)
	v.SetDefault("duration", d.Duration)
	v.SetDefault("sensor_period", d.SensorPeriod)
	v.SetDefault("strategy", d.Strategy)
	v.SetDefault("mode", d.Mode)
	v.SetDefault("load_threads", d.LoadThreads)
	v.SetDefault("contention_readers", d.ContentionReaders)
	v.SetDefault("contention_hold", d.ContentionHold)
	v.SetDefault("processing_time", d.ProcessingTime)
	v.SetDefault("coop_workers", d.CoopWorkers)
	v.SetDefault("channel_capacity", d.ChannelCapacity)
	v.SetDefault("anomaly_threshold", d.AnomalyThreshold)
	v.SetDefault("threshold_floor", d.ThresholdFloor)
	v.SetDefault("threshold_step", d.ThresholdStep)
	v.SetDefault("sensor_deadline", d.SensorDeadline)
	v.SetDefault("transmit_deadline", d.TransmitDeadline)
	v.SetDefault("feedback_deadline", d.FeedbackDeadline)
	v.SetDefault("receive_timeout", d.ReceiveTimeout)
	v.SetDefault("send_timeout", d.SendTimeout)
	v.SetDefault("live_capacity", d.LiveCapacity)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("noise", d.Noise)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path (any format viper supports; empty
// path skips the file) into v, then decodes and validates the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Default()
	cfg.Actuators = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Actuators) == 0 {
		cfg.Actuators = task.DefaultActuators()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
