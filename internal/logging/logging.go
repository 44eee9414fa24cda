// Package logging provides shared structured logging helpers.
//
// Loggers are dependency-injected, never global: each component takes
// an optional *slog.Logger in its Config and scopes it once at
// construction via slog.With("component", ...). Output format, level,
// and destination are decided only in main(); components never call
// slog.SetDefault or read global logger state.
package logging

import (
	"io"
	"log/slog"
	"math"
)

// Discard returns a logger that drops all output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(math.MaxInt),
	}))
}

// Default returns the provided logger if non-nil, otherwise a discard
// logger. This is the standard pattern for optional logger fields:
//
//	func New(cfg Config) *Store {
//	    logger := logging.Default(cfg.Logger).With("component", "registry")
//	    ...
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}
