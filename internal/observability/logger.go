// Package observability wires up structured logging (and, optionally,
// metrics) for every component of the pipeline.
//
// Each component receives its own named child logger (logger.Named("scraper"),
// logger.Named("enrich"), ...) instead of reaching for a package-level
// global or a bare log.Printf, this keeps progress lines attributable to
// a component and lets callers silence progress without silencing errors.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Default: "info".
	Level string

	// JSON forces JSON encoding even on a TTY. Progress-only runs on an
	// interactive terminal default to a human console encoder.
	JSON bool

	// Quiet suppresses info-level progress lines while still surfacing
	// warnings and errors.
	Quiet bool
}

// New builds a *zap.Logger from Config. The returned logger is the root
// logger for the process; components should call .Named(component) on it
// rather than constructing their own.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Quiet {
		level = zapcore.WarnLevel
	}
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err == nil {
			// explicit level always wins over Quiet
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.JSON || !isTerminal(os.Stderr) {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)
	return zap.New(core, zap.AddCaller()), nil
}

// CLILogger is the root logger used by the internal/cmd layer before a
// component-specific logger is constructed. Set once by the root command's
// PersistentPreRunE.
var CLILogger = zap.NewNop()

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
