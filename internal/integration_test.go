package internal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/loopbench/internal/config"
	"github.com/sweeney/loopbench/internal/engine"
	"github.com/sweeney/loopbench/internal/mqtt"
	"github.com/sweeney/loopbench/internal/persist"
	"github.com/sweeney/loopbench/internal/report"
	"github.com/sweeney/loopbench/internal/source"
	"github.com/sweeney/loopbench/internal/status"
)

// TestIntegrationFullFlow drives both engines from a scripted source through
// telemetry, the status tracker, persistence and reporting using fakes.
func TestIntegrationFullFlow(t *testing.T) {
	cfg := config.Default()
	cfg.Duration = 150 * time.Millisecond
	cfg.SensorPeriod = 5 * time.Millisecond
	cfg.Mode = config.ModeBoth

	// Position 7 puts every actuator in Correcting: |0-7| is between the
	// Correcting and Emergency thresholds.
	src := source.NewScripted(source.Sample{Force: 50, Position: 7})

	publisher := mqtt.NewFakePublisher()
	tel := mqtt.NewTelemetry(publisher, nil)
	tracker := status.NewTracker(time.Now(), status.Config{Name: cfg.Name, Strategy: cfg.Strategy})

	db, err := persist.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	started := func(r *engine.Run) {
		tracker.Begin(status.ActiveRun{ID: r.ID(), Mode: r.Mode(), Started: time.Now()})
		tel.Started(r)
	}
	results, err := engine.RunModes(context.Background(), cfg, started, engine.WithSource(src))
	if err != nil {
		t.Fatalf("RunModes: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	ctx := context.Background()
	for i, res := range results {
		tel.Finished(res, nil)
		tracker.Finish(status.RunSummary{ID: res.RunID, Mode: res.Mode, Cycles: len(res.Cycles)})
		if err := db.SaveRun(ctx, res); err != nil {
			t.Fatalf("result %d: save: %v", i, err)
		}

		d := res.Diagnostics
		if d.Emergencies != 0 {
			t.Errorf("%s: expected no emergencies, got %d", res.Mode, d.Emergencies)
		}
		if d.FeedbackSent != d.FeedbackObserved {
			t.Errorf("%s: feedback sent %d, observed %d", res.Mode, d.FeedbackSent, d.FeedbackObserved)
		}
		for _, a := range res.Actuators {
			if a.Status.Correcting == 0 || a.Status.Normal != 0 || a.Status.Emergency != 0 {
				t.Errorf("%s %s: status counts %+v, want Correcting only", res.Mode, a.Kind, a.Status)
			}
		}
	}
	tracker.End()

	// Published events: STARTED, FINISHED per run, plus a summary each.
	want := []mqtt.EventType{mqtt.EventStarted, mqtt.EventStarted, mqtt.EventFinished, mqtt.EventFinished}
	got := publisher.Events()
	if len(got) != len(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
	if len(publisher.Summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(publisher.Summaries))
	}
	var payload mqtt.SummaryPayload
	if err := json.Unmarshal(publisher.Payloads[len(publisher.Payloads)-1], &payload); err != nil {
		t.Fatalf("summary payload: %v", err)
	}
	if payload.Summary.Mode != config.ModeCooperative {
		t.Errorf("last summary mode: got %s, want cooperative", payload.Summary.Mode)
	}

	snap := tracker.Snapshot()
	if snap.Phase != status.PhaseDone || len(snap.Completed) != 2 {
		t.Errorf("tracker: phase %s, %d completed", snap.Phase, len(snap.Completed))
	}

	// Stored runs report the same as the live results.
	runs, err := db.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 stored runs, got %d", len(runs))
	}
	for _, res := range results {
		stored, err := db.LoadRun(ctx, res.RunID)
		if err != nil {
			t.Fatalf("load %s: %v", res.RunID, err)
		}
		live, again := report.Summarize(res), report.Summarize(stored)
		if live.Cycles != again.Cycles || live.Met != again.Met {
			t.Errorf("%s: stored summary %d/%d, live %d/%d", res.Mode, again.Met, again.Cycles, live.Met, live.Cycles)
		}
	}
	cmp := report.Compare(report.Summarize(results[0]), report.Summarize(results[1]))
	if cmp.A != "threaded/mutex" || cmp.B != "cooperative/mutex" {
		t.Errorf("comparison labels: %s vs %s", cmp.A, cmp.B)
	}
}
