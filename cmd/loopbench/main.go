// Command loopbench runs control-loop benchmarks and reports on them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/loopbench/internal/logging"
)

// globals are the root command's persistent flags.
type globals struct {
	logLevel string
	logDev   bool
}

func (g *globals) logger() (*zap.Logger, error) {
	return logging.New(g.logLevel, g.logDev)
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "loopbench",
		Short: "Soft-real-time control loop benchmark",
		Long: `loopbench drives a simulated sensor and three actuator controllers through a
timed pipeline and measures deadline compliance, latency and lock contention
under threaded and cooperative scheduling.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&g.logDev, "log-dev", false, "human-readable console logs")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newReportCmd(g))
	root.AddCommand(newRunsCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
