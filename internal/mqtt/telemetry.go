package mqtt

import (
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/loopbench/internal/engine"
	"github.com/sweeney/loopbench/internal/report"
)

// Telemetry reports run lifecycles through a Publisher. Publish failures are
// logged and never propagate to the run.
type Telemetry struct {
	pub Publisher
	log *zap.Logger
	now func() time.Time
}

// NewTelemetry wraps pub. A nil pub makes every method a no-op.
func NewTelemetry(pub Publisher, log *zap.Logger) *Telemetry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Telemetry{pub: pub, log: log, now: time.Now}
}

// Started announces a run that has just been launched.
func (t *Telemetry) Started(r *engine.Run) {
	if t == nil || t.pub == nil {
		return
	}
	cfg := r.Config()
	t.check("run", t.pub.PublishRun(RunEvent{
		Timestamp: t.now(),
		Type:      EventStarted,
		RunID:     r.ID(),
		Name:      cfg.Name,
		Mode:      r.Mode(),
		Strategy:  cfg.Strategy,
	}))
}

// Finished announces the end of a run and, when it produced results, its
// summary.
func (t *Telemetry) Finished(res *engine.Result, err error) {
	if t == nil || t.pub == nil || res == nil {
		return
	}
	ev := RunEvent{
		Timestamp: t.now(),
		Type:      EventFinished,
		RunID:     res.RunID,
		Name:      res.Config.Name,
		Mode:      res.Mode,
		Strategy:  res.Strategy,
	}
	if err != nil {
		ev.Type = EventFailed
		ev.Err = err
	}
	t.check("run", t.pub.PublishRun(ev))
	if len(res.Cycles) > 0 {
		t.check("summary", t.pub.PublishSummary(report.Summarize(res)))
	}
}

// System publishes a harness lifecycle event, stamped now if unset.
func (t *Telemetry) System(event SystemEvent) {
	if t == nil || t.pub == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now()
	}
	t.check("system", t.pub.PublishSystem(event))
}

func (t *Telemetry) check(what string, err error) {
	if err != nil {
		t.log.Warn("publish error", zap.String("message", what), zap.Error(err))
	}
}
