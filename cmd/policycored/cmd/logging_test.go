package cmd

import (
	"log/slog"
	"testing"

	"github.com/policy-core/permissioncore/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_DevModeForcesDebugRegardlessOfLogLevel(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{LogLevel: "error", DevMode: true}
	logger := newLogger(cfg)

	if !logger.Enabled(nil, slog.LevelDebug) {
		t.Error("expected DevMode to force debug-level logging on regardless of LogLevel")
	}
}

func TestNewLogger_UsesConfiguredLevelOutsideDevMode(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{LogLevel: "error"}
	logger := newLogger(cfg)

	if logger.Enabled(nil, slog.LevelWarn) {
		t.Error("expected warn-level logging to be disabled when LogLevel is error")
	}
	if !logger.Enabled(nil, slog.LevelError) {
		t.Error("expected error-level logging to stay enabled")
	}
}
