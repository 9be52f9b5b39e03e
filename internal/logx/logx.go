package logx

import (
	"context"
	"io"
	"strings"

	"pkt.systems/pslog"
)

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID string) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithMethod annotates the logger with an rpc method name.
func WithMethod(log pslog.Logger, method string) pslog.Logger {
	if method != "" {
		log = log.With("method", method)
	}
	return log
}

// WithBuffer annotates the logger with engine buffer metadata when
// available.
func WithBuffer(log pslog.Logger, buffer int, path string) pslog.Logger {
	if buffer > 0 {
		log = log.With("buffer", buffer)
	}
	if path != "" {
		log = log.With("path", path)
	}
	return log
}

// ContextWithSession attaches a session-annotated logger to the context.
func ContextWithSession(ctx context.Context, log pslog.Logger, sessionID string) context.Context {
	return pslog.ContextWithLogger(ctx, WithSession(log, sessionID))
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// New builds a logger writing to w. Console mode is used for humans,
// structured mode for log files consumed by tools.
func New(w io.Writer, level string, console bool) pslog.Logger {
	opts := pslog.Options{Mode: pslog.ModeStructured, NoColor: true}
	if console {
		opts.Mode = pslog.ModeConsole
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		opts.MinLevel = pslog.TraceLevel
	case "debug":
		opts.MinLevel = pslog.DebugLevel
	case "warn", "warning":
		opts.MinLevel = pslog.WarnLevel
	case "error":
		opts.MinLevel = pslog.ErrorLevel
	default:
		opts.MinLevel = pslog.InfoLevel
	}
	return pslog.NewWithOptions(w, opts)
}
