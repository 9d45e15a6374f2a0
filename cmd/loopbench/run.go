package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sweeney/loopbench/internal/config"
	"github.com/sweeney/loopbench/internal/engine"
	"github.com/sweeney/loopbench/internal/monitor"
	"github.com/sweeney/loopbench/internal/mqtt"
	"github.com/sweeney/loopbench/internal/persist"
	"github.com/sweeney/loopbench/internal/report"
	"github.com/sweeney/loopbench/internal/status"
	"github.com/sweeney/loopbench/internal/web"
)

type runOptions struct {
	configPath string
	csvDir     string
	dbPath     string
	broker     string
	httpAddr   string
	format     string
	monitor    bool
	linger     bool
}

// experimentFlags maps command-line flags to config keys.
var experimentFlags = map[string]string{
	"name":               "name",
	"mode":               "mode",
	"strategy":           "strategy",
	"duration":           "duration",
	"sensor-period":      "sensor_period",
	"load-threads":       "load_threads",
	"contention-readers": "contention_readers",
	"contention-hold":    "contention_hold",
	"processing-time":    "processing_time",
	"coop-workers":       "coop_workers",
	"seed":               "seed",
}

// addExperimentFlags defines the config overrides on fs.
func addExperimentFlags(fs *pflag.FlagSet) {
	d := config.Default()
	fs.String("name", d.Name, "experiment name")
	fs.String("mode", d.Mode, "run mode: threaded, cooperative or both")
	fs.String("strategy", d.Strategy, "shared state strategy: mutex, rwlock or atomic")
	fs.Duration("duration", d.Duration, "duration of each run")
	fs.Duration("sensor-period", d.SensorPeriod, "sensor period")
	fs.Int("load-threads", d.LoadThreads, "CPU burner threads")
	fs.Int("contention-readers", d.ContentionReaders, "goroutines reading the shared store")
	fs.Duration("contention-hold", d.ContentionHold, "how long each contention reader holds the store's read side")
	fs.Duration("processing-time", d.ProcessingTime, "fixed processing time per cycle (0: real work only)")
	fs.Int("coop-workers", d.CoopWorkers, "execution contexts of the cooperative engine")
	fs.Int64("seed", d.Seed, "simulation seed")
}

// loadConfig resolves defaults, the config file, the environment and
// explicitly set flags, in increasing priority.
func loadConfig(fs *pflag.FlagSet, path string) (config.Config, error) {
	v := config.NewViper()
	if err := bindFlags(v, fs); err != nil {
		return config.Config{}, err
	}
	return config.Load(v, path)
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flag, key := range experimentFlags {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func newRunCmd(g *globals) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark in one or both modes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := g.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			cfg, err := loadConfig(cmd.Flags(), o.configPath)
			if err != nil {
				return err
			}
			return runBench(cmd.Context(), cmd.OutOrStdout(), cfg, o, log)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "config file (yaml, json or toml)")
	f.StringVar(&o.csvDir, "csv-dir", "", "write each run's cycles as CSV into this directory")
	f.StringVar(&o.dbPath, "db", "", "store runs in this SQLite database")
	f.StringVar(&o.broker, "broker", "", "publish run telemetry to this MQTT broker, e.g. tcp://localhost:1883")
	f.StringVar(&o.httpAddr, "http", "", "serve the status page on this address, e.g. :8080")
	f.StringVar(&o.format, "format", "text", "report format: text, yaml or json")
	f.BoolVar(&o.monitor, "monitor", false, "show a live terminal view while running")
	f.BoolVar(&o.linger, "linger", false, "keep the status page up after the runs until interrupted")
	addExperimentFlags(f)
	return cmd
}

// session wires one invocation's runs to the status tracker, telemetry and
// status page.
type session struct {
	log     *zap.Logger
	tracker *status.Tracker
	tel     *mqtt.Telemetry
	srv     *web.Server

	wg sync.WaitGroup
}

// started is called by the engine as each run starts.
func (s *session) started(r *engine.Run) {
	cfg := r.Config()
	s.log.Info("run started", zap.String("run_id", r.ID()), zap.String("mode", r.Mode()), zap.String("strategy", cfg.Strategy))
	s.tracker.Begin(status.ActiveRun{ID: r.ID(), Mode: r.Mode(), Strategy: cfg.Strategy, Started: time.Now()})
	if s.srv != nil {
		s.srv.SetRun(r)
	}
	s.tel.Started(r)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := r.Wait()
		s.finished(res, err)
	}()
}

func (s *session) finished(res *engine.Result, err error) {
	if res == nil {
		return
	}
	rs := status.RunSummary{
		ID:          res.RunID,
		Mode:        res.Mode,
		Strategy:    res.Strategy,
		Cycles:      len(res.Cycles),
		Anomalies:   res.Diagnostics.Anomalies,
		Emergencies: res.Diagnostics.Emergencies,
		Elapsed:     res.Finished.Sub(res.Started),
	}
	if len(res.Cycles) > 0 {
		rs.Compliance = report.SummarizeCycles(res.Cycles).Compliance
	}
	if err != nil {
		rs.Err = err.Error()
	}
	s.tracker.Finish(rs)
	s.tel.Finished(res, err)
}

func runBench(ctx context.Context, out io.Writer, cfg config.Config, o *runOptions, log *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := checkFormat(o.format); err != nil {
		return err
	}
	modes, err := engine.Modes(cfg.Mode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &session{
		log: log,
		tracker: status.NewTracker(time.Now(), status.Config{
			Name:         cfg.Name,
			Modes:        modes,
			Strategy:     cfg.Strategy,
			Duration:     cfg.Duration,
			SensorPeriod: cfg.SensorPeriod,
			Broker:       o.broker,
			HTTPAddr:     o.httpAddr,
			DBPath:       o.dbPath,
		}),
	}

	var db *persist.DB
	if o.dbPath != "" {
		if db, err = persist.Open(o.dbPath); err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
	}

	var (
		pub  mqtt.Publisher
		conn mqtt.ConnectionStatus
	)
	if o.broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{Broker: o.broker, Logger: log})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		pub, conn = p, p
		s.tracker.SetMQTTConnected(p.IsConnected())
	}
	s.tel = mqtt.NewTelemetry(pub, log)
	s.tel.System(systemEvent(s.tracker, "ONLINE", ""))

	if o.httpAddr != "" {
		s.srv = web.New(o.httpAddr, s.tracker)
		go func() {
			if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server error", zap.Error(err))
			}
		}()
		defer s.srv.Shutdown(context.Background())
		log.Info("http status server listening", zap.String("addr", o.httpAddr))
	}

	var results []*engine.Result
	exec := func(ctx context.Context, started func(*engine.Run)) error {
		var err error
		results, err = engine.RunModes(ctx, cfg, started, engine.WithLogger(log))
		return err
	}
	if o.monitor {
		err = monitor.Watch(ctx, 8, func(ctx context.Context, started func(*engine.Run)) error {
			return exec(ctx, func(r *engine.Run) {
				s.started(r)
				started(r)
			})
		})
	} else {
		err = exec(ctx, s.started)
	}
	s.wg.Wait()
	s.tracker.End()

	interrupted := errors.Is(err, context.Canceled)
	if interrupted {
		log.Warn("interrupted, reporting partial results")
		err = nil
	}

	for _, res := range results {
		if perr := persistResult(ctx, db, o.csvDir, res); perr != nil {
			err = errors.Join(err, perr)
		}
	}
	if werr := writeReport(out, o.format, results); werr != nil {
		err = errors.Join(err, werr)
	}

	reason := ""
	if interrupted {
		reason = "interrupted"
	}
	if conn != nil {
		s.tracker.SetMQTTConnected(conn.IsConnected())
	}
	s.tel.System(systemEvent(s.tracker, "SHUTDOWN", reason))

	if o.linger && s.srv != nil && !interrupted {
		log.Info("runs finished, status page stays up until interrupted")
		<-ctx.Done()
	}
	return err
}

func systemEvent(tr *status.Tracker, event, reason string) mqtt.SystemEvent {
	snap := tr.Snapshot()
	return mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
}

// persistResult stores res in db and as CSV in dir; either may be unset.
// Persistence runs after every mode has finished so it never competes with
// a measured run for the CPU.
func persistResult(ctx context.Context, db *persist.DB, dir string, res *engine.Result) error {
	if db != nil {
		// The run context may be cancelled already; the save must still happen.
		if err := db.SaveRun(context.WithoutCancel(ctx), res); err != nil {
			return fmt.Errorf("save run %s: %w", res.RunID, err)
		}
	}
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create csv dir: %w", err)
	}
	path := filepath.Join(dir, csvName(res))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	if err := report.WriteCSV(f, res.Cycles); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func csvName(res *engine.Result) string {
	id := res.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%s_%s_%s.csv", res.Config.Name, res.Mode, res.Strategy, id)
}

func checkFormat(format string) error {
	switch format {
	case "text", "yaml", "json":
		return nil
	}
	return fmt.Errorf("unknown format %q (want text, yaml or json)", format)
}

// output is the machine-readable report of an invocation.
type output struct {
	Runs       []report.Summary   `json:"runs" yaml:"runs"`
	Comparison *report.Comparison `json:"comparison,omitempty" yaml:"comparison,omitempty"`
}

func writeReport(w io.Writer, format string, results []*engine.Result) error {
	var o output
	for _, res := range results {
		if len(res.Cycles) == 0 {
			continue
		}
		o.Runs = append(o.Runs, report.Summarize(res))
	}
	return writeSummaries(w, format, o)
}

func writeSummaries(w io.Writer, format string, o output) error {
	if len(o.Runs) >= 2 && o.Comparison == nil {
		c := report.Compare(o.Runs[0], o.Runs[1])
		o.Comparison = &c
	}
	switch format {
	case "yaml":
		return report.WriteYAML(w, o)
	case "json":
		return report.WriteJSON(w, o)
	}
	if err := report.WriteText(w, o.Runs...); err != nil {
		return err
	}
	if o.Comparison != nil {
		return report.WriteComparison(w, *o.Comparison)
	}
	return nil
}
