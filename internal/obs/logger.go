// Package obs wires the ambient observability stack: structured logging,
// metrics, and tracing, kept thin and provided through fx so every
// component receives the same *slog.Logger instance.
package obs

import (
	"log/slog"
	"os"
)

// LoggerConfig controls the process-wide slog handler.
type LoggerConfig struct {
	Level string // debug|info|warn|error
	JSON  bool
}

// NewLogger builds the process-wide logger. Handler choice follows the
// teacher's convention of bracketed, uppercase event tags as the log
// message ("SESSION_CLOSED", "COMMIT_ACCEPTED") with structured fields
// for the rest.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
