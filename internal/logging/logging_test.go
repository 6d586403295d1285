package logging

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebugLogGatedByDebugMode(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, false)
	DebugLog("hidden %d", 1)
	assert.Empty(t, buf.String())

	Setup(&buf, true)
	defer Setup(&bytes.Buffer{}, false)
	DebugLog("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
}

func TestDebugLogPeriodicThrottlesPerKey(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, true)
	defer Setup(&bytes.Buffer{}, false)

	for i := 0; i < 5; i++ {
		DebugLogPeriodic("test.periodic", time.Hour, "tick %d", i)
	}
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("tick")))

	DebugLogPeriodic("test.other", time.Hour, "other")
	assert.Contains(t, buf.String(), "other")
}

func TestForAddsComponentField(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, false)
	defer Setup(&bytes.Buffer{}, false)

	For("router").Info("chain linked")
	assert.Contains(t, buf.String(), "component=router")
	assert.Contains(t, buf.String(), "chain linked")
}

func TestPionLoggerFactory(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, false)
	defer Setup(&bytes.Buffer{}, false)

	l := PionLoggerFactory{}.NewLogger("ice")
	l.Warnf("candidate %s failed", "host")
	l.Debug("not shown")
	assert.Contains(t, buf.String(), "scope=ice")
	assert.Contains(t, buf.String(), "candidate host failed")
	assert.NotContains(t, buf.String(), "not shown")
}
