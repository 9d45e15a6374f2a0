package web

import (
	"encoding/json"

	"github.com/sweeney/loopbench/internal/engine"
	"github.com/sweeney/loopbench/internal/live"
	"github.com/sweeney/loopbench/internal/logic"
)

// LiveJSON is the JSON representation of a live run snapshot.
type LiveJSON struct {
	Live LiveInner `json:"live"`
}

// LiveInner contains the live snapshot details. Durations are microseconds.
type LiveInner struct {
	RunID       string            `json:"run_id"`
	Mode        string            `json:"mode"`
	Strategy    string            `json:"strategy"`
	ElapsedMs   int64             `json:"elapsed_ms"`
	DurationMs  int64             `json:"duration_ms"`
	Progress    float64           `json:"progress"`
	Done        bool              `json:"done"`
	Cycles      int               `json:"cycles"`
	Backlog     []int             `json:"backlog"`
	Feedback    int               `json:"feedback_backlog"`
	Diagnostics logic.Diagnostics `json:"diagnostics"`
	Recent      []CycleJSON       `json:"recent"`
	Samples     []live.Sample     `json:"samples"`
}

// CycleJSON is the JSON representation of one cycle result.
type CycleJSON struct {
	CycleID      uint64 `json:"cycle_id"`
	Stage        string `json:"stage"`
	ProcessingUs int64  `json:"processing_us"`
	LockWaitUs   int64  `json:"lock_wait_us"`
	TransferUs   int64  `json:"transfer_us"`
	TotalUs      int64  `json:"total_us"`
	DeadlineUs   int64  `json:"deadline_us"`
	DeadlineMet  bool   `json:"deadline_met"`
	JitterUs     int64  `json:"jitter_us"`
	Overrun      bool   `json:"overrun,omitempty"`
}

func formatLive(snap engine.Snapshot) []byte {
	lj := LiveJSON{
		Live: LiveInner{
			RunID:       snap.RunID,
			Mode:        snap.Mode,
			Strategy:    snap.Strategy,
			ElapsedMs:   snap.Elapsed.Milliseconds(),
			DurationMs:  snap.Duration.Milliseconds(),
			Progress:    snap.Progress,
			Done:        snap.Done,
			Cycles:      snap.Cycles,
			Backlog:     snap.Backlog,
			Feedback:    snap.Feedback,
			Diagnostics: snap.Diagnostics,
			Recent:      make([]CycleJSON, 0, len(snap.Recent)),
			Samples:     snap.Samples,
		},
	}
	if lj.Live.Samples == nil {
		lj.Live.Samples = []live.Sample{}
	}
	for _, c := range snap.Recent {
		lj.Live.Recent = append(lj.Live.Recent, CycleJSON{
			CycleID:      c.CycleID,
			Stage:        c.Stage(),
			ProcessingUs: c.Processing.Microseconds(),
			LockWaitUs:   c.LockWait.Microseconds(),
			TransferUs:   c.Transfer.Microseconds(),
			TotalUs:      c.Total.Microseconds(),
			DeadlineUs:   c.Deadline.Microseconds(),
			DeadlineMet:  c.DeadlineMet,
			JitterUs:     c.Jitter.Microseconds(),
			Overrun:      c.Overrun,
		})
	}

	data, _ := json.MarshalIndent(lj, "", "  ")
	return data
}
