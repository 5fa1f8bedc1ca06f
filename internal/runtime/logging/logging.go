// Package logging defines the minimal structured logging contract used by
// mcpwire components. Applications can adapt their own loggers by
// implementing ServiceLogger, or wrap a slog.Logger directly.
package logging

import (
	"context"
	"log/slog"
)

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// LevelTrace sits below slog.LevelDebug and is used for per-frame wire logs.
const LevelTrace = slog.LevelDebug - 4

// ServiceLogger is the logging contract required by mcpwire components.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// NewSlogServiceLogger wraps a slog.Logger so it satisfies the ServiceLogger
// interface.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("mcpwire: slog logger cannot be nil")
	}
	return &slogServiceLogger{inner: log}
}

type slogServiceLogger struct {
	inner *slog.Logger
}

func (s *slogServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return s
	}
	return &slogServiceLogger{inner: s.inner.With(toAttrs(fields)...)}
}

func (s *slogServiceLogger) Debug(msg string, fields LogFields) {
	s.inner.Debug(msg, toAttrs(fields)...)
}

func (s *slogServiceLogger) Info(msg string, fields LogFields) {
	s.inner.Info(msg, toAttrs(fields)...)
}

func (s *slogServiceLogger) Error(msg string, err error, fields LogFields) {
	attrs := toAttrs(fields)
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	s.inner.Error(msg, attrs...)
}

func (s *slogServiceLogger) Trace(msg string, fields LogFields) {
	s.inner.Log(context.Background(), LevelTrace, msg, toAttrs(fields)...)
}

func toAttrs(fields LogFields) []any {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]any, 0, len(fields))
	for key, value := range fields {
		attrs = append(attrs, slog.Any(key, value))
	}
	return attrs
}

// NopLogger discards all log output. Useful in tests.
type NopLogger struct{}

func (NopLogger) With(LogFields) ServiceLogger          { return NopLogger{} }
func (NopLogger) Debug(string, LogFields)               {}
func (NopLogger) Info(string, LogFields)                {}
func (NopLogger) Error(string, error, LogFields)        {}
func (NopLogger) Trace(string, LogFields)               {}
