package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/policy-core/permissioncore/internal/config"
)

// newLogger builds the structured logger used by every command, writing to
// stderr so stdout stays free for decision/report output (the same split
// the teacher's stdio transport relies on to keep its protocol stream
// clean).
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parseLogLevel converts a string log level to slog.Level, defaulting to
// info for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
