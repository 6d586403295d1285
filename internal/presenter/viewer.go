// Package presenter is the render side: a per-tick facade over the pipeline
// and a terminal front end built on it.
package presenter

import (
	"github.com/Azunyan1111/go-webrtc-viewer/internal/eventlog"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/framecell"
)

// Controller is the pipeline as seen from the render loop.
type Controller interface {
	Start() error
	Stop()
	IsRunning() bool
	Frames() *framecell.Cell
	Log() *eventlog.Log
}

// Viewer answers the questions a render tick asks. It is meant to be used
// from the single goroutine that draws.
type Viewer struct {
	ctrl Controller

	lines []string
	total uint64
	seen  uint64
}

// NewViewer wraps ctrl.
func NewViewer(ctrl Controller) *Viewer {
	return &Viewer{ctrl: ctrl}
}

// PollFrame returns the newest decoded frame, or false before the first one.
func (v *Viewer) PollFrame() (*framecell.VideoFrame, bool) {
	return v.ctrl.Frames().Poll()
}

// PollLog returns the event log as of this tick. When the log is busy the
// previous tick's snapshot is returned.
func (v *Viewer) PollLog() []string {
	v.refresh()
	return v.lines
}

// PollNewLines returns the lines added since the previous call. Lines that
// were evicted in between are lost.
func (v *Viewer) PollNewLines() []string {
	v.refresh()
	n := v.total - v.seen
	if n > uint64(len(v.lines)) {
		n = uint64(len(v.lines))
	}
	v.seen = v.total
	return v.lines[len(v.lines)-int(n):]
}

func (v *Viewer) refresh() {
	lines, total, ok := v.ctrl.Log().TrySnapshot()
	if !ok {
		return
	}
	v.lines, v.total = lines, total
}

func (v *Viewer) IsRunning() bool { return v.ctrl.IsRunning() }

// RequestStart starts the pipeline. A build failure is returned and is also
// in the event log.
func (v *Viewer) RequestStart() error { return v.ctrl.Start() }

func (v *Viewer) RequestStop() { v.ctrl.Stop() }
