// Package logging builds the slog loggers used across conductor.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type options struct {
	w    io.Writer
	json bool
}

// Option configures New.
type Option func(*options)

// WithJSON switches to one JSON object per line, for log collectors.
func WithJSON() Option {
	return func(o *options) { o.json = true }
}

// WithWriter overrides the default Stderr destination.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.w = w }
}

// New creates a configured application logger.
// It writes to Stderr so Stdout stays free for the conversation and for
// JSON-RPC. The "error" key is renamed to "err".
func New(level slog.Level, opts ...Option) *slog.Logger {
	o := options{w: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	hopts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}
	if o.json {
		return slog.New(slog.NewJSONHandler(o.w, hopts))
	}
	return slog.New(slog.NewTextHandler(o.w, hopts))
}

// ParseLevel maps a config name onto a level. ok is false for "off" and
// for unknown names, which callers treat as info.
func ParseLevel(name string) (level slog.Level, ok bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// NewNop returns a no-op logger.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
