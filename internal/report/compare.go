package report

import "time"

// StageDelta compares one stage between two runs. Positive deltas mean B is
// higher than A.
type StageDelta struct {
	Name            string        `json:"name" yaml:"name"`
	ComplianceA     float64       `json:"compliance_a" yaml:"compliance_a"`
	ComplianceB     float64       `json:"compliance_b" yaml:"compliance_b"`
	ComplianceDelta float64       `json:"compliance_delta" yaml:"compliance_delta"`
	MeanDelta       time.Duration `json:"mean_delta" yaml:"mean_delta"`
	P99Delta        time.Duration `json:"p99_delta" yaml:"p99_delta"`
	LockWaitDelta   time.Duration `json:"lock_wait_delta" yaml:"lock_wait_delta"`
}

// Comparison is the side-by-side of two runs.
type Comparison struct {
	A      string       `json:"a" yaml:"a"` // mode/strategy label
	B      string       `json:"b" yaml:"b"`
	Stages []StageDelta `json:"stages" yaml:"stages"`
	// Better names the run with higher overall compliance, ties broken by
	// lower mean sensor latency. Empty when they are indistinguishable.
	Better string `json:"better,omitempty" yaml:"better,omitempty"`
}

// Label identifies a run in comparisons.
func (s Summary) Label() string {
	return s.Mode + "/" + s.Strategy
}

// Compare compares every stage present in both runs.
func Compare(a, b Summary) Comparison {
	c := Comparison{A: a.Label(), B: b.Label()}
	for _, sa := range a.Stages {
		sb, ok := b.Stage(sa.Name)
		if !ok {
			continue
		}
		c.Stages = append(c.Stages, StageDelta{
			Name:            sa.Name,
			ComplianceA:     sa.Compliance,
			ComplianceB:     sb.Compliance,
			ComplianceDelta: sb.Compliance - sa.Compliance,
			MeanDelta:       sb.Total.Mean - sa.Total.Mean,
			P99Delta:        sb.Total.P99 - sa.Total.P99,
			LockWaitDelta:   sb.LockWait.Mean - sa.LockWait.Mean,
		})
	}

	switch {
	case a.Compliance > b.Compliance:
		c.Better = c.A
	case b.Compliance > a.Compliance:
		c.Better = c.B
	default:
		sa, okA := a.Stage("sensor")
		sb, okB := b.Stage("sensor")
		if okA && okB {
			if sa.Total.Mean < sb.Total.Mean {
				c.Better = c.A
			} else if sb.Total.Mean < sa.Total.Mean {
				c.Better = c.B
			}
		}
	}
	return c
}
