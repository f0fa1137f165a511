// Package logger builds the slog loggers used by the CLI and the server.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

type config struct {
	level  slog.Level
	format string
	source bool
	writer io.Writer
}

// Option configures a logger created with New.
type Option func(*config)

// WithLevel parses debug, info, warn or error. Unknown values mean info.
func WithLevel(level string) Option {
	return func(c *config) {
		c.level = ParseLevel(level)
	}
}

// WithFormat selects text, json or pretty output.
func WithFormat(format string) Option {
	return func(c *config) {
		c.format = strings.ToLower(strings.TrimSpace(format))
	}
}

// WithWriter overrides the output writer. Defaults to os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.writer = w
	}
}

// WithSource includes source file:line in log output.
func WithSource(source bool) Option {
	return func(c *config) {
		c.source = source
	}
}

// New creates a logger from opts.
func New(opts ...Option) *slog.Logger {
	c := &config{level: slog.LevelInfo, format: "text", writer: os.Stderr}
	for _, opt := range opts {
		opt(c)
	}

	switch c.format {
	case "json":
		return slog.New(slog.NewJSONHandler(c.writer, &slog.HandlerOptions{Level: c.level, AddSource: c.source}))
	case "pretty":
		h := charmlog.NewWithOptions(c.writer, charmlog.Options{
			Level:           charmlog.Level(c.level),
			ReportTimestamp: true,
			ReportCaller:    c.source,
		})
		return slog.New(h)
	default:
		return slog.New(slog.NewTextHandler(c.writer, &slog.HandlerOptions{Level: c.level, AddSource: c.source}))
	}
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l
}
