package h1dispatch

import "go.uber.org/zap"

// zapLogger adapts a *zap.SugaredLogger to the Logger interface so
// that callers who already run zap elsewhere in their service do not
// need a second logging convention for dispatcher faults.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps l as a Logger.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Printf(format string, args ...any) {
	z.s.Infof(format, args...)
}
