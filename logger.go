package codemode

import (
	"io"
	"log/slog"
	"os"
)

// NopLogger returns a logger that discards all output. It is the default
// when no WithLogger option is supplied.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StderrLogger returns a text logger writing to stderr at the given level,
// handy for debugging server handshakes.
func StderrLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
