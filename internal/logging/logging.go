package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	logger    = newLogger(os.Stderr)
	debugMode atomic.Bool
)

var throttledDebugLogMu sync.Mutex
var throttledDebugLogState = make(map[string]time.Time)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return l
}

// Setup は出力先とデバッグモードを設定する
func Setup(w io.Writer, debug bool) {
	logger.SetOutput(w)
	debugMode.Store(debug)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

// Logger returns the process logger.
func Logger() *logrus.Logger {
	return logger
}

// For returns an entry tagged with the component name.
func For(component string) *logrus.Entry {
	return logger.WithField("component", component)
}

// DebugLog prints debug messages only when debug mode is enabled
func DebugLog(format string, v ...interface{}) {
	if debugMode.Load() {
		logger.Debugf(format, v...)
	}
}

// DebugLogPeriodic prints a debug message at most once per interval for each key.
// interval <= 0 の場合は毎回出力する。
func DebugLogPeriodic(key string, interval time.Duration, format string, v ...interface{}) {
	if !debugMode.Load() {
		return
	}
	if interval <= 0 {
		DebugLog(format, v...)
		return
	}

	now := time.Now()

	throttledDebugLogMu.Lock()
	last, exists := throttledDebugLogState[key]
	if exists && now.Sub(last) < interval {
		throttledDebugLogMu.Unlock()
		return
	}
	throttledDebugLogState[key] = now
	throttledDebugLogMu.Unlock()

	DebugLog(format, v...)
}

// IsDebug reports whether --debug is active.
func IsDebug() bool {
	return debugMode.Load()
}
