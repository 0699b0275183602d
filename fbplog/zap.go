package fbplog

import "go.uber.org/zap"

// zapLogger adapts a *zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZap builds the default Logger implementation backed by zap. Passing
// nil uses zap.NewProduction (falling back to a no-op logger if that
// construction fails, which only happens under broken logging sinks).
func NewZap(l *zap.Logger) Logger {
	if l == nil {
		var err error
		l, err = zap.NewProduction()
		if err != nil {
			return Nop{}
		}
	}
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Info(msg string, args ...any)  { z.s.Infow(msg, args...) }
func (z *zapLogger) Error(msg string, args ...any) { z.s.Errorw(msg, args...) }
func (z *zapLogger) Warn(msg string, args ...any)  { z.s.Warnw(msg, args...) }
func (z *zapLogger) Debug(msg string, args ...any) { z.s.Debugw(msg, args...) }
