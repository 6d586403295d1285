// Package pipeline holds the GStreamer plumbing shared by the sources, the
// track router and the controller.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
)

var initOnce sync.Once

// Init initializes GStreamer once per process.
func Init() {
	initOnce.Do(func() {
		gst.Init(nil)
		logging.For("gstreamer").Debug("GStreamer initialized")
	})
}

// Available returns an error naming the first element factory that is not
// installed.
func Available(factories ...string) error {
	Init()
	for _, name := range factories {
		if gst.Find(name) == nil {
			return fmt.Errorf("gstreamer element %q is not installed", name)
		}
	}
	return nil
}

// New returns an empty pipeline.
func New(name string) (*gst.Pipeline, error) {
	Init()
	p, err := gst.NewPipeline(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return p, nil
}

// Handle is a non-owning reference to a pipeline. Callers never keep the
// pipeline itself: they reach it through With, which stops running once the
// owner has called Release.
type Handle struct {
	mu sync.RWMutex
	p  *gst.Pipeline
}

// NewHandle returns a live handle to p.
func NewHandle(p *gst.Pipeline) *Handle {
	return &Handle{p: p}
}

// With runs fn while the pipeline is alive and reports whether it ran.
// fn must not call With or Release on the same handle.
func (h *Handle) With(fn func(p *gst.Pipeline)) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.p == nil {
		return false
	}
	fn(h.p)
	return true
}

// Alive reports whether Release has not been called yet.
func (h *Handle) Alive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.p != nil
}

// Release waits for running With calls and makes every later one a no-op.
func (h *Handle) Release() {
	h.mu.Lock()
	h.p = nil
	h.mu.Unlock()
}
