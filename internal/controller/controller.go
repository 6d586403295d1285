// Package controller owns the lifetime of the receive pipeline: building it,
// supervising its bus and tearing it down.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tinyzimmer/go-gst/gst"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/eventlog"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/framecell"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/pipeline"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/router"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/session"
)

// Source is the network source. Started inside a pipeline, it announces
// tracks as unlinked src pads and reports the signaling lifecycle.
type Source interface {
	Signalling() *session.Channel
	Tracks() <-chan *router.Track
	// Start adds the source to p and begins receiving.
	Start(p *gst.Pipeline) error
	// Stop ends the session and waits for the receive loops.
	Stop()
}

// SourceFactory creates the source for one pipeline.
type SourceFactory func(cfg session.SourceConfig) (Source, error)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// Config wires the controller to its collaborators.
type Config struct {
	NewSource SourceFactory
	Elements  router.ElementFactory
	Frames    *framecell.Cell
	Log       *eventlog.Log
}

// Stats is a snapshot of the current run.
type Stats struct {
	RunID         string
	StartedAt     time.Time
	FramesWritten uint64
	FramesDropped uint64
	ChainsBuilt   uint64
	ChainsFailed  uint64
}

// run is everything that lives and dies with one pipeline.
type run struct {
	id       string
	started  time.Time
	pipeline *gst.Pipeline
	handle   *pipeline.Handle
	source   Source
	router   *router.Router
	cancel   context.CancelFunc
}

// Controller starts and stops the pipeline. Running and holding a pipeline
// are the same fact: both are changed together under mu. Start and Stop are
// serialized by lifecycle, so a Start never races another Start or a Stop.
type Controller struct {
	cfg Config
	log *logrus.Entry

	lifecycle sync.Mutex

	mu  sync.Mutex
	cur *run
}

// New returns an idle controller.
func New(cfg Config) (*Controller, error) {
	if cfg.NewSource == nil {
		return nil, errors.New("controller: source factory is required")
	}
	if cfg.Elements == nil {
		return nil, errors.New("controller: element factory is required")
	}
	if cfg.Frames == nil {
		cfg.Frames = framecell.New()
	}
	if cfg.Log == nil {
		cfg.Log = eventlog.New(eventlog.DefaultCapacity)
	}
	return &Controller{cfg: cfg, log: logging.For("controller")}, nil
}

// Frames returns the cell decoded frames are published to.
func (c *Controller) Frames() *framecell.Cell { return c.cfg.Frames }

// Log returns the event log.
func (c *Controller) Log() *eventlog.Log { return c.cfg.Log }

// IsRunning reports whether a pipeline exists.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

// State returns Idle or Running.
func (c *Controller) State() State {
	if c.IsRunning() {
		return StateRunning
	}
	return StateIdle
}

// Start builds the pipeline and sets it playing. It does nothing when a
// pipeline is already running. On failure nothing is left behind.
func (c *Controller) Start() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.IsRunning() {
		return nil
	}

	r, err := c.build()
	if err != nil {
		c.log.WithError(err).Error("pipeline start failed")
		c.cfg.Log.Add("Error: %v", err)
		return err
	}

	c.mu.Lock()
	c.cur = r
	c.cfg.Log.Add("Pipeline started")
	c.mu.Unlock()

	go c.supervise(r)
	c.log.WithField("run_id", r.id).Info("pipeline started")
	return nil
}

func (c *Controller) build() (*run, error) {
	p, err := pipeline.New("viewer")
	if err != nil {
		return nil, &PipelineBuildError{Step: "create pipeline", Err: err}
	}
	src, err := c.cfg.NewSource(session.DefaultSourceConfig())
	if err != nil {
		return nil, &PipelineBuildError{Step: "create source", Err: err}
	}

	h := pipeline.NewHandle(p)
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:       uuid.NewString(),
		started:  time.Now(),
		pipeline: p,
		handle:   h,
		source:   src,
		router:   router.New(h, c.cfg.Elements, c.cfg.Frames, c.cfg.Log),
		cancel:   cancel,
	}

	monitor := session.NewMonitor(c.cfg.Log)
	src.Signalling().Subscribe(func(ev session.Event) {
		h.With(func(*gst.Pipeline) { monitor.Handle(ev) })
	})
	go r.router.Run(ctx, src.Tracks())

	if err := src.Start(p); err != nil {
		c.teardown(r)
		return nil, &PipelineBuildError{Step: "start source", Err: err}
	}
	if err := p.SetState(gst.StatePlaying); err != nil {
		c.teardown(r)
		return nil, &PipelineBuildError{Step: "set playing", Err: err}
	}
	return r, nil
}

// Stop tears the pipeline down. It is a no-op when idle. Once it returns,
// nothing from the stopped pipeline reaches the frame cell or the log.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	r := c.cur
	c.cur = nil
	c.mu.Unlock()
	if r == nil {
		return
	}
	c.teardown(r)
	c.log.WithField("run_id", r.id).Info("pipeline stopped")
	c.cfg.Log.Add("Pipeline stopped")
}

// teardown silences the run before stopping it: signaling stops reaching the
// monitor and the handle is released, which waits for in-flight chain builds
// and frame writes. Then the source stops and every element goes to NULL.
func (c *Controller) teardown(r *run) {
	r.cancel()
	r.source.Signalling().Close()
	r.handle.Release()
	r.source.Stop()
	if err := r.pipeline.SetState(gst.StateNull); err != nil {
		c.log.WithError(err).Warn("pipeline did not reach NULL cleanly")
	}
}

// Stats describes the current run; it is zero when idle.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return Stats{}
	}
	written, dropped := c.cfg.Frames.Stats()
	built, failed := r.router.Stats()
	return Stats{
		RunID:         r.id,
		StartedAt:     r.started,
		FramesWritten: written,
		FramesDropped: dropped,
		ChainsBuilt:   built,
		ChainsFailed:  failed,
	}
}
