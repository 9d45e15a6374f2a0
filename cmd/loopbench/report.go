package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/loopbench/internal/persist"
	"github.com/sweeney/loopbench/internal/report"
)

func newReportCmd(g *globals) *cobra.Command {
	var (
		dbPath string
		csvs   []string
		format string
	)
	cmd := &cobra.Command{
		Use:   "report [run-id...]",
		Short: "Report on stored runs; two runs are also compared",
		Example: `  loopbench report --db runs.db 3f2a... 9c1b...
  loopbench report --csv out/default_threaded_mutex_3f2a.csv --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if len(args) == 0 && len(csvs) == 0 {
				return errors.New("nothing to report: give run IDs with --db, or --csv files")
			}
			if len(args) > 0 && dbPath == "" {
				return errors.New("run IDs need --db")
			}

			var o output
			if len(args) > 0 {
				db, err := persist.Open(dbPath)
				if err != nil {
					return fmt.Errorf("open db: %w", err)
				}
				defer db.Close()
				for _, id := range args {
					res, err := db.LoadRun(cmd.Context(), id)
					if err != nil {
						return err
					}
					o.Runs = append(o.Runs, report.Summarize(res))
				}
			}
			for _, path := range csvs {
				s, err := summarizeCSV(path)
				if err != nil {
					return err
				}
				o.Runs = append(o.Runs, s)
			}
			return writeSummaries(cmd.OutOrStdout(), format, o)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database written by run --db")
	cmd.Flags().StringArrayVar(&csvs, "csv", nil, "CSV file written by run --csv-dir (repeatable)")
	cmd.Flags().StringVar(&format, "format", "text", "report format: text, yaml or json")
	return cmd
}

// summarizeCSV reports on one CSV export. The file name carries no
// reliable metadata, so the run is labelled from its cycles' mode.
func summarizeCSV(path string) (report.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return report.Summary{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	cycles, err := report.ReadCSV(f)
	if err != nil {
		return report.Summary{}, fmt.Errorf("%s: %w", path, err)
	}
	s := report.SummarizeCycles(cycles)
	s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if len(cycles) > 0 {
		s.Mode = cycles[0].Mode
	}
	s.Strategy = "csv"
	return s, nil
}

func newRunsCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs stored in a database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return errors.New("--db is required")
			}
			db, err := persist.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			runs, err := db.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMODE\tSTRATEGY\tSTARTED\tCYCLES\tCOMPLIANCE")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%.2f%%\n",
					r.ID, r.Name, r.Mode, r.Strategy, r.Started.Local().Format("2006-01-02 15:04:05"), r.Cycles, r.Compliance*100)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database written by run --db")
	cmd.Flags().IntVar(&limit, "limit", 20, "most recent runs to list (0 for all)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), path)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "config file (yaml, json or toml)")
	addExperimentFlags(cmd.Flags())
	return cmd
}
