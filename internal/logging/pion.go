package logging

import (
	"context"
	"fmt"
	"log/slog"

	pionlog "github.com/pion/logging"
)

// levelTrace sits below slog's debug; pion is very chatty at trace.
const levelTrace = slog.LevelDebug - 4

// PionFactory routes pion's internal logs into slog. Each pion scope
// (ice, dtls, pc, ...) becomes a "scope" attribute.
type PionFactory struct {
	Logger *slog.Logger
}

var _ pionlog.LoggerFactory = PionFactory{}

// NewPionFactory bridges to logger, or to slog.Default() when nil.
func NewPionFactory(logger *slog.Logger) PionFactory {
	return PionFactory{Logger: logger}
}

func (f PionFactory) NewLogger(scope string) pionlog.LeveledLogger {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &pionLogger{log: logger.With("scope", "pion/"+scope)}
}

type pionLogger struct {
	log *slog.Logger
}

func (l *pionLogger) logf(level slog.Level, format string, args ...any) {
	if !l.log.Enabled(context.Background(), level) {
		return
	}
	l.log.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *pionLogger) Trace(msg string) { l.logf(levelTrace, "%s", msg) }
func (l *pionLogger) Tracef(format string, args ...any) {
	l.logf(levelTrace, format, args...)
}
func (l *pionLogger) Debug(msg string) { l.logf(slog.LevelDebug, "%s", msg) }
func (l *pionLogger) Debugf(format string, args ...any) {
	l.logf(slog.LevelDebug, format, args...)
}
func (l *pionLogger) Info(msg string) { l.logf(slog.LevelInfo, "%s", msg) }
func (l *pionLogger) Infof(format string, args ...any) {
	l.logf(slog.LevelInfo, format, args...)
}
func (l *pionLogger) Warn(msg string) { l.logf(slog.LevelWarn, "%s", msg) }
func (l *pionLogger) Warnf(format string, args ...any) {
	l.logf(slog.LevelWarn, format, args...)
}
func (l *pionLogger) Error(msg string) { l.logf(slog.LevelError, "%s", msg) }
func (l *pionLogger) Errorf(format string, args ...any) {
	l.logf(slog.LevelError, format, args...)
}
