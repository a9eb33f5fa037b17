package connector

import "go.uber.org/zap"

// RequestLogger is the interface used by [Connector] for logging HTTP
// requests, retries, and token lifecycle events. Implement this interface to
// integrate with your logging library and supply the implementation via
// [WithRequestLogger].
type RequestLogger interface {
	Errorf(format string, v ...any)
	Warnf(format string, v ...any)
	Debugf(format string, v ...any)
}

// NoopLogger is a [RequestLogger] that silently discards all log messages.
// It is the default logger used when no logger is provided to [New].
type NoopLogger struct{}

func (l *NoopLogger) Errorf(_ string, _ ...any) {}
func (l *NoopLogger) Warnf(_ string, _ ...any)  {}
func (l *NoopLogger) Debugf(_ string, _ ...any) {}

// ZapLogger adapts a [go.uber.org/zap] logger to the [RequestLogger]
// interface. Messages logged by this package never contain credential
// material, so no redaction is applied here.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps l for use with [WithRequestLogger].
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{s: l.Sugar()}
}

func (l *ZapLogger) Errorf(format string, v ...any) { l.s.Errorf(format, v...) }
func (l *ZapLogger) Warnf(format string, v ...any)  { l.s.Warnf(format, v...) }
func (l *ZapLogger) Debugf(format string, v ...any) { l.s.Debugf(format, v...) }
