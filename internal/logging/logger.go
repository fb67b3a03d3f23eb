// Package logging provides structured logging for go-monitoring-agent.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configure a logger.
type Options struct {
	// Format is "json" or "text". Anything else falls back to text.
	Format string

	// Level is "debug", "info", "warn" or "error".
	Level string

	// Verbose forces the debug level.
	Verbose bool

	// Output defaults to stderr.
	Output io.Writer
}

// New creates a structured logger. Debug loggers include the source
// location.
func New(opts Options) *slog.Logger {
	logLevel := parseLevel(opts.Level)
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(handler)
}

// NewLogger creates a logger writing to stderr.
func NewLogger(format, level string, verbose bool) *slog.Logger {
	return New(Options{Format: format, Level: level, Verbose: verbose})
}

// NewLoggerWithWriter creates a logger that writes to a custom writer.
// Useful for testing.
func NewLoggerWithWriter(w io.Writer, format, level string) *slog.Logger {
	return New(Options{Format: format, Level: level, Output: w})
}

// Discard returns a logger that drops everything. The dashboard owns the
// terminal while it runs.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenFile opens path for appending log records.
func OpenFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
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

// SetDefault sets the default logger for the slog package.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
