// Package log configures the process-wide slog default shared by the API,
// worker and scheduler binaries.
package log

import (
	"log/slog"
	"os"
)

// Setup installs the default logger at the given level. An unknown level
// name falls back to info so a typo in the configuration never silences a
// binary.
func Setup(logLevel string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithModule returns the default logger tagged with a subsystem name; every
// package keys its lines on the "module" attribute.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
