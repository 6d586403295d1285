package internal

import (
	"context"
	"time"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
)

const pacingWaitLogInterval = time.Second

// Pacer は再生位置 (PTS) を壁時計に対応づけ、フレームを記録時と同じ間隔で流す。
// 最初の PTS を受け取った時刻が起点になる。
type Pacer struct {
	origin  time.Time
	anchor  time.Duration
	synced  bool
	maxWait time.Duration // PTS が飛んだときの待機上限
}

// NewPacer returns a pacer that never sleeps longer than maxWait at once.
func NewPacer(maxWait time.Duration) *Pacer {
	return &Pacer{maxWait: maxWait}
}

// due returns the wall time pts should be played at. ok is false before the
// first frame and when pts lies before the anchor.
func (p *Pacer) due(pts time.Duration) (at time.Time, ok bool) {
	if !p.synced || pts < p.anchor {
		return time.Time{}, false
	}
	return p.origin.Add(pts - p.anchor), true
}

func (p *Pacer) anchorAt(pts time.Duration) {
	p.origin, p.anchor, p.synced = time.Now(), pts, true
}

// Wait blocks until pts is due. Frames that are already late return at once.
// A pts behind the anchor (a loop, a seek) re-anchors instead of waiting.
func (p *Pacer) Wait(ctx context.Context, pts time.Duration) error {
	at, ok := p.due(pts)
	if !ok {
		p.anchorAt(pts)
		return ctx.Err()
	}
	d := time.Until(at)
	if d <= 0 {
		return ctx.Err()
	}
	if d > p.maxWait {
		logging.DebugLog("Pacing: PTS %v is %v ahead, waiting only %v\n", pts, d, p.maxWait)
		d = p.maxWait
	}
	logging.DebugLogPeriodic("pacer.wait", pacingWaitLogInterval, "Pacing: waiting %v (PTS: %v)\n", d, pts)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return ctx.Err()
}

// ShouldDrop reports whether the frame at pts is more than threshold late.
// A threshold of zero or less disables dropping. When a frame is later than
// maxWait the pacer re-anchors on it rather than dropping everything after it.
func (p *Pacer) ShouldDrop(pts, threshold time.Duration) bool {
	if threshold <= 0 {
		return false
	}
	at, ok := p.due(pts)
	if !ok {
		return false
	}
	late := time.Since(at)
	switch {
	case late <= threshold:
		return false
	case p.maxWait > 0 && late > p.maxWait:
		logging.DebugLog("Pacing: PTS %v is %v late, re-anchoring\n", pts, late)
		p.anchorAt(pts)
		return false
	default:
		logging.DebugLog("Dropping frame: PTS %v is %v late (threshold %v)\n", pts, late, threshold)
		return true
	}
}

// Reset forgets the anchor; the next Wait starts a new timeline.
func (p *Pacer) Reset() {
	*p = Pacer{maxWait: p.maxWait}
}
