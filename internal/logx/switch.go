package logx

import (
	"slices"
	"sync/atomic"

	"pkt.systems/pslog"
)

// Switch is a pslog.Logger whose destination can be replaced while it is in
// use. Loggers derived from it with With follow every later Set, so a
// component built once keeps logging at the reloaded level.
type Switch struct {
	target  *atomic.Pointer[pslog.Logger]
	keyvals []any
	cache   atomic.Pointer[derived]
}

var _ pslog.Logger = (*Switch)(nil)

type derived struct {
	base   *pslog.Logger
	logger pslog.Logger
}

// NewSwitch creates a switch that initially writes to logger.
func NewSwitch(logger pslog.Logger) *Switch {
	s := &Switch{target: new(atomic.Pointer[pslog.Logger])}
	s.Set(logger)
	return s
}

// Set replaces the destination for the switch and every logger derived
// from it.
func (s *Switch) Set(logger pslog.Logger) {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	s.target.Store(&logger)
}

func (s *Switch) current() pslog.Logger {
	base := s.target.Load()
	if len(s.keyvals) == 0 {
		return *base
	}
	if d := s.cache.Load(); d != nil && d.base == base {
		return d.logger
	}
	logger := (*base).With(s.keyvals...)
	s.cache.Store(&derived{base: base, logger: logger})
	return logger
}

func (s *Switch) Trace(msg string, keyvals ...any) { s.current().Trace(msg, keyvals...) }
func (s *Switch) Debug(msg string, keyvals ...any) { s.current().Debug(msg, keyvals...) }
func (s *Switch) Info(msg string, keyvals ...any)  { s.current().Info(msg, keyvals...) }
func (s *Switch) Warn(msg string, keyvals ...any)  { s.current().Warn(msg, keyvals...) }
func (s *Switch) Error(msg string, keyvals ...any) { s.current().Error(msg, keyvals...) }
func (s *Switch) Fatal(msg string, keyvals ...any) { s.current().Fatal(msg, keyvals...) }
func (s *Switch) Panic(msg string, keyvals ...any) { s.current().Panic(msg, keyvals...) }

// Log emits msg at level.
func (s *Switch) Log(level pslog.Level, msg string, keyvals ...any) {
	s.current().Log(level, msg, keyvals...)
}

// With returns a derived logger that still follows Set.
func (s *Switch) With(keyvals ...any) pslog.Logger {
	if len(keyvals) == 0 {
		return s
	}
	return &Switch{target: s.target, keyvals: append(slices.Clip(s.keyvals), keyvals...)}
}

// WithLogLevel, LogLevel and LogLevelFromEnv derive from the current
// destination and do not follow later Set calls.
func (s *Switch) WithLogLevel() pslog.Logger { return s.current().WithLogLevel() }

func (s *Switch) LogLevel(level pslog.Level) pslog.Logger { return s.current().LogLevel(level) }

func (s *Switch) LogLevelFromEnv(key string) pslog.Logger { return s.current().LogLevelFromEnv(key) }
