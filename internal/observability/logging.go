// Package observability wires structured logging and Prometheus metrics
// for the kernel and its components.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures the process-wide logger installed at startup.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	// Defaults to "info".
	Level string

	// Format selects "json" or "text" output. JSON is the default and
	// the recommended production format.
	Format string

	// Output is the log destination. Defaults to os.Stderr.
	Output io.Writer

	// AddSource includes file and line in each record.
	AddSource bool
}

// NewLogger builds a slog.Logger from the config. It does not install
// the logger as the process default; the entry point decides that.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}
	return slog.New(handler)
}

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// LogLevelFromString converts a level name to a slog.Level, defaulting
// to LevelInfo for anything unrecognized.
func LogLevelFromString(s string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(s)]; ok {
		return lvl
	}
	return slog.LevelInfo
}
