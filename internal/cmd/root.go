// Package cmd wires the pipeline's CLI surface (spec §6) on top of
// cobra, following the teacher's rootCmd/init()/per-subcommand flag
// registration pattern (internal/cmd/crawl.go).
package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/3leaps/blaulicht/internal/config"
	"github.com/3leaps/blaulicht/internal/observability"
)

var (
	cfgFile  string
	envFile  string
	quiet    bool
	jsonLogs bool
	logLevel string

	cfg        *config.Config
	metrics    *observability.Metrics
	metricsReg *prometheus.Registry
)

var rootCmd = &cobra.Command{
	Use:   "blaulicht",
	Short: "Police press-release ingestion and enrichment pipeline",
	Long: `blaulicht scrapes press releases from Germany's 16 state police
portals, classifies and extracts structured facts with an LLM, geocodes
locations, and pushes normalized records to the crime-map store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile, envFile)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "failed to load configuration", err)
		}
		if err := loaded.Validate(); err != nil {
			return exitError(foundry.ExitInvalidArgument, "invalid configuration", err)
		}
		cfg = loaded

		level := logLevel
		if level == "" && !quiet {
			level = cfg.LogLevel
		}
		logger, err := observability.New(observability.Config{Level: level, JSON: jsonLogs, Quiet: quiet})
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "failed to build logger", err)
		}
		observability.CLILogger = logger

		metrics, metricsReg = observability.NewMetrics()
		observability.ServeMetrics(cfg.MetricsAddr, metricsReg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to .env file")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "force JSON log encoding")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error)")
}

// Execute runs the root command; callers translate a returned error into
// the process exit code via ExitCode.
func Execute() error {
	return rootCmd.Execute()
}

// commandError pairs a foundry exit code with the underlying cause,
// generalizing the teacher's string-embedded code into a typed error so
// main doesn't have to parse strings to recover it.
type commandError struct {
	code int
	msg  string
	err  error
}

func (e *commandError) Error() string {
	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

func (e *commandError) Unwrap() error { return e.err }

// ExitCode maps err to the process exit code: 0 if err is nil, 1 otherwise.
// Per spec §6 the pipeline only distinguishes success (0) from failure
// (1) at the process level; the foundry code is retained on the error
// for richer log detail even though main always exits 1 on any failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

func exitError(code int, message string, err error) error {
	return &commandError{code: code, msg: message, err: err}
}
