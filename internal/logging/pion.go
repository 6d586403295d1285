package logging

import (
	"strings"

	plog "github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

// PionLoggerFactory routes pion's scoped loggers into the process logger.
type PionLoggerFactory struct{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) plog.LeveledLogger {
	return &pionLogger{entry: For("pion").WithField("scope", scope)}
}

type pionLogger struct {
	entry *logrus.Entry
}

// pion is chatty at debug level; trace only shows up with --debug.
func (l *pionLogger) Trace(msg string) { l.entry.Trace(strings.TrimSpace(msg)) }
func (l *pionLogger) Tracef(format string, args ...interface{}) {
	l.entry.Tracef(format, args...)
}
func (l *pionLogger) Debug(msg string) { l.entry.Debug(strings.TrimSpace(msg)) }
func (l *pionLogger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}
func (l *pionLogger) Info(msg string) { l.entry.Info(strings.TrimSpace(msg)) }
func (l *pionLogger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}
func (l *pionLogger) Warn(msg string) { l.entry.Warn(strings.TrimSpace(msg)) }
func (l *pionLogger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}
func (l *pionLogger) Error(msg string) { l.entry.Error(strings.TrimSpace(msg)) }
func (l *pionLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}
