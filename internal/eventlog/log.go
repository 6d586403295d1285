// Package eventlog keeps the rolling, human readable session history shown
// next to the video.
package eventlog

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of lines kept before the oldest is evicted.
const DefaultCapacity = 100

// Log is a bounded, insertion-ordered list of lines. It is safe for use from
// any goroutine; every critical section is a plain slice operation.
type Log struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	total    uint64
	mirror   logrus.FieldLogger
}

// New returns a log holding at most capacity lines. capacity <= 0 selects
// DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		lines:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Mirror copies every added line to l at info level.
func (g *Log) Mirror(l logrus.FieldLogger) *Log {
	g.mu.Lock()
	g.mirror = l
	g.mu.Unlock()
	return g
}

// Add appends a formatted line, evicting the oldest one on overflow.
func (g *Log) Add(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)

	g.mu.Lock()
	g.lines = append(g.lines, line)
	if len(g.lines) > g.capacity {
		copy(g.lines, g.lines[1:])
		g.lines[len(g.lines)-1] = ""
		g.lines = g.lines[:len(g.lines)-1]
	}
	g.total++
	mirror := g.mirror
	g.mu.Unlock()

	if mirror != nil {
		mirror.Info(line)
	}
}

// Snapshot returns a copy of the current lines, oldest first.
func (g *Log) Snapshot() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.copyLocked()
}

// TrySnapshot is Snapshot for the render tick: when the log is busy it
// reports false instead of waiting.
func (g *Log) TrySnapshot() ([]string, uint64, bool) {
	if !g.mu.TryLock() {
		return nil, 0, false
	}
	defer g.mu.Unlock()
	return g.copyLocked(), g.total, true
}

func (g *Log) copyLocked() []string {
	out := make([]string, len(g.lines))
	copy(out, g.lines)
	return out
}

// Len returns the number of lines currently held.
func (g *Log) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lines)
}

// Total returns how many lines were ever added, including evicted ones.
func (g *Log) Total() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}
