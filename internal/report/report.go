// Package report turns recorded cycles into statistics: deadline compliance
// and latency distributions per pipeline stage, and comparisons between runs.
package report

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sweeney/loopbench/internal/engine"
	"github.com/sweeney/loopbench/internal/logic"
)

// Latency summarizes a duration distribution.
type Latency struct {
	Mean   time.Duration `json:"mean" yaml:"mean"`
	StdDev time.Duration `json:"stddev" yaml:"stddev"`
	Min    time.Duration `json:"min" yaml:"min"`
	P50    time.Duration `json:"p50" yaml:"p50"`
	P95    time.Duration `json:"p95" yaml:"p95"`
	P99    time.Duration `json:"p99" yaml:"p99"`
	Max    time.Duration `json:"max" yaml:"max"`
}

// NewLatency computes the distribution of ds. Zero for no samples.
func NewLatency(ds []time.Duration) Latency {
	if len(ds) == 0 {
		return Latency{}
	}
	xs := make([]float64, len(ds))
	for i, d := range ds {
		xs[i] = float64(d)
	}
	sort.Float64s(xs)

	q := func(p float64) time.Duration {
		return time.Duration(stat.Quantile(p, stat.Empirical, xs, nil))
	}
	l := Latency{
		Mean: time.Duration(stat.Mean(xs, nil)),
		Min:  time.Duration(xs[0]),
		P50:  q(0.50),
		P95:  q(0.95),
		P99:  q(0.99),
		Max:  time.Duration(xs[len(xs)-1]),
	}
	if len(xs) > 1 {
		l.StdDev = time.Duration(stat.StdDev(xs, nil))
	}
	return l
}

// Stage is the compliance of one pipeline stage: the sensor or one actuator.
type Stage struct {
	Name       string        `json:"name" yaml:"name"`
	Deadline   time.Duration `json:"deadline" yaml:"deadline"`
	Cycles     int           `json:"cycles" yaml:"cycles"`
	Met        int           `json:"met" yaml:"met"`
	Compliance float64       `json:"compliance" yaml:"compliance"` // Met/Cycles, 0..1
	Overruns   int           `json:"overruns" yaml:"overruns"`

	Total      Latency `json:"total" yaml:"total"`
	Processing Latency `json:"processing" yaml:"processing"`
	LockWait   Latency `json:"lock_wait" yaml:"lock_wait"`
	Transfer   Latency `json:"transfer" yaml:"transfer"`
	Jitter     Latency `json:"jitter" yaml:"jitter"`
	Lateness   Latency `json:"lateness" yaml:"lateness"` // of missed cycles only
}

// Summary is the report of one run.
type Summary struct {
	RunID       string            `json:"run_id" yaml:"run_id"`
	Name        string            `json:"name" yaml:"name"`
	Mode        string            `json:"mode" yaml:"mode"`
	Strategy    string            `json:"strategy" yaml:"strategy"`
	Started     time.Time         `json:"started" yaml:"started"`
	Elapsed     time.Duration     `json:"elapsed" yaml:"elapsed"`
	Cycles      int               `json:"cycles" yaml:"cycles"`
	Met         int               `json:"met" yaml:"met"`
	Compliance  float64           `json:"compliance" yaml:"compliance"`
	Stages      []Stage           `json:"stages" yaml:"stages"`
	Diagnostics logic.Diagnostics `json:"diagnostics" yaml:"diagnostics"`
}

// Summarize reports a finished run.
func Summarize(res *engine.Result) Summary {
	s := SummarizeCycles(res.Cycles)
	s.RunID = res.RunID
	s.Name = res.Config.Name
	s.Mode = res.Mode
	s.Strategy = res.Strategy
	s.Started = res.Started
	s.Elapsed = res.Finished.Sub(res.Started)
	s.Diagnostics = res.Diagnostics
	return s
}

// SummarizeCycles computes compliance and latencies from cycles alone.
// Stages are ordered sensor first, then actuators in dispatch order.
func SummarizeCycles(cycles []logic.CycleResult) Summary {
	type acc struct {
		stage                                         Stage
		total, proc, wait, transfer, jitter, lateness []time.Duration
	}
	by := make(map[string]*acc)
	var s Summary
	for _, c := range cycles {
		name := c.Stage()
		a := by[name]
		if a == nil {
			a = &acc{stage: Stage{Name: name, Deadline: c.Deadline}}
			by[name] = a
		}
		a.stage.Cycles++
		if c.DeadlineMet {
			a.stage.Met++
			s.Met++
		} else {
			a.lateness = append(a.lateness, c.Lateness)
		}
		if c.Overrun {
			a.stage.Overruns++
		}
		a.total = append(a.total, c.Total)
		a.proc = append(a.proc, c.Processing)
		a.wait = append(a.wait, c.LockWait)
		a.transfer = append(a.transfer, c.Transfer)
		a.jitter = append(a.jitter, c.Jitter)
	}
	s.Cycles = len(cycles)
	s.Compliance = ratio(s.Met, s.Cycles)

	for _, name := range stageOrder(by) {
		a := by[name]
		st := a.stage
		st.Compliance = ratio(st.Met, st.Cycles)
		st.Total = NewLatency(a.total)
		st.Processing = NewLatency(a.proc)
		st.LockWait = NewLatency(a.wait)
		st.Transfer = NewLatency(a.transfer)
		st.Jitter = NewLatency(a.jitter)
		st.Lateness = NewLatency(a.lateness)
		s.Stages = append(s.Stages, st)
	}
	return s
}

// Stage returns the named stage, if present.
func (s Summary) Stage(name string) (Stage, bool) {
	for _, st := range s.Stages {
		if st.Name == name {
			return st, true
		}
	}
	return Stage{}, false
}

func stageOrder[T any](by map[string]T) []string {
	known := []string{"sensor"}
	for _, k := range logic.Kinds {
		known = append(known, string(k))
	}
	var out []string
	for _, name := range known {
		if _, ok := by[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
