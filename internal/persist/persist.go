// Package persist provides SQLite-backed storage of finished runs.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sweeney/loopbench/internal/engine"
	"github.com/sweeney/loopbench/internal/logic"
)

// ErrNotFound is returned for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// timeLayout has fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB stores runs and their cycle results.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path and runs migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		mode TEXT NOT NULL,
		strategy TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		config TEXT NOT NULL,
		diagnostics TEXT NOT NULL,
		details TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cycles (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		cycle_id INTEGER NOT NULL,
		mode TEXT NOT NULL,
		stage TEXT NOT NULL,
		generated_ns INTEGER NOT NULL,
		offset_ns INTEGER NOT NULL,
		processing_ns INTEGER NOT NULL,
		lock_wait_ns INTEGER NOT NULL,
		transfer_ns INTEGER NOT NULL,
		total_ns INTEGER NOT NULL,
		deadline_ns INTEGER NOT NULL,
		deadline_met INTEGER NOT NULL,
		lateness_ns INTEGER NOT NULL,
		jitter_ns INTEGER NOT NULL,
		overrun INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := d.db.Exec(schema)
	return err
}

// details holds the Result fields that have no column of their own.
type details struct {
	SensorCycles   uint64                   `json:"sensor_cycles"`
	FinalThreshold float64                  `json:"final_threshold"`
	Actuators      []engine.ActuatorSummary `json:"actuators"`
	LiveDropped    uint64                   `json:"live_dropped"`
}

// SaveRun stores res and all of its cycles in one transaction.
func (d *DB) SaveRun(ctx context.Context, res *engine.Result) error {
	cfg, err := json.Marshal(res.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	diag, err := json.Marshal(res.Diagnostics)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}
	det, err := json.Marshal(details{
		SensorCycles:   res.SensorCycles,
		FinalThreshold: res.FinalThreshold,
		Actuators:      res.Actuators,
		LiveDropped:    res.LiveDropped,
	})
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, name, mode, strategy, started_at, finished_at, config, diagnostics, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Config.Name, res.Mode, res.Strategy,
		res.Started.UTC().Format(timeLayout), res.Finished.UTC().Format(timeLayout),
		string(cfg), string(diag), string(det))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cycles (run_id, seq, cycle_id, mode, stage, generated_ns, offset_ns,
			processing_ns, lock_wait_ns, transfer_ns, total_ns, deadline_ns, deadline_met,
			lateness_ns, jitter_ns, overrun)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare cycles: %w", err)
	}
	defer stmt.Close()

	for i, c := range res.Cycles {
		var generated int64
		if !c.Generated.IsZero() {
			generated = c.Generated.UnixNano()
		}
		_, err := stmt.ExecContext(ctx,
			res.RunID, i, int64(c.CycleID), c.Mode, c.Stage(), generated, int64(c.Offset),
			int64(c.Processing), int64(c.LockWait), int64(c.Transfer), int64(c.Total),
			int64(c.Deadline), c.DeadlineMet, int64(c.Lateness), int64(c.Jitter), c.Overrun)
		if err != nil {
			return fmt.Errorf("insert cycle %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RunInfo is one row of the run listing.
type RunInfo struct {
	ID         string
	Name       string
	Mode       string
	Strategy   string
	Started    time.Time
	Finished   time.Time
	Cycles     int
	Compliance float64
}

// ListRuns returns the most recent runs first, at most limit (0 for all).
func (d *DB) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.mode, r.strategy, r.started_at, r.finished_at,
			COUNT(c.seq), COALESCE(AVG(c.deadline_met), 0)
		FROM runs r LEFT JOIN cycles c ON c.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			ri                RunInfo
			started, finished string
		)
		if err := rows.Scan(&ri.ID, &ri.Name, &ri.Mode, &ri.Strategy, &started, &finished, &ri.Cycles, &ri.Compliance); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if ri.Started, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if ri.Finished, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// LoadRun returns a stored run with its cycles.
func (d *DB) LoadRun(ctx context.Context, id string) (*engine.Result, error) {
	var (
		res               engine.Result
		started, finished string
		cfg, diag, det    string
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, mode, strategy, started_at, finished_at, config, diagnostics, details
		FROM runs WHERE id = ?`, id).
		Scan(&res.RunID, &res.Mode, &res.Strategy, &started, &finished, &cfg, &diag, &det)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	if res.Started, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if res.Finished, err = time.Parse(timeLayout, finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &res.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := json.Unmarshal([]byte(diag), &res.Diagnostics); err != nil {
		return nil, fmt.Errorf("decode diagnostics: %w", err)
	}
	var dt details
	if err := json.Unmarshal([]byte(det), &dt); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	res.SensorCycles = dt.SensorCycles
	res.FinalThreshold = dt.FinalThreshold
	res.Actuators = dt.Actuators
	res.LiveDropped = dt.LiveDropped

	if res.Cycles, err = d.LoadCycles(ctx, id); err != nil {
		return nil, err
	}
	return &res, nil
}

// LoadCycles returns the cycles of a run in record order.
func (d *DB) LoadCycles(ctx context.Context, runID string) ([]logic.CycleResult, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT cycle_id, mode, stage, generated_ns, offset_ns, processing_ns, lock_wait_ns,
			transfer_ns, total_ns, deadline_ns, deadline_met, lateness_ns, jitter_ns, overrun
		FROM cycles WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []logic.CycleResult
	for rows.Next() {
		var (
			c                                                                     logic.CycleResult
			id                                                                    int64
			stage                                                                 string
			generated                                                             int64
			offset, processing, wait, transfer, total, deadline, lateness, jitter int64
		)
		if err := rows.Scan(&id, &c.Mode, &stage, &generated, &offset, &processing, &wait,
			&transfer, &total, &deadline, &c.DeadlineMet, &lateness, &jitter, &c.Overrun); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		c.CycleID = uint64(id)
		if stage != "sensor" {
			k, err := logic.ParseKind(stage)
			if err != nil {
				return nil, fmt.Errorf("cycle %d: %w", id, err)
			}
			c.Actuator = logic.KindPtr(k)
		}
		if generated != 0 {
			c.Generated = time.Unix(0, generated)
		}
		c.Offset = time.Duration(offset)
		c.Processing = time.Duration(processing)
		c.LockWait = time.Duration(wait)
		c.Transfer = time.Duration(transfer)
		c.Total = time.Duration(total)
		c.Deadline = time.Duration(deadline)
		c.Lateness = time.Duration(lateness)
		c.Jitter = time.Duration(jitter)
		out = append(out, c)
	}
	return out, rows.Err()
}
