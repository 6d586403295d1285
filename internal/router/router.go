// Package router turns arriving tracks into processing chains.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/framecell"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/pipeline"
)

// Kind is the media kind of a track.
type Kind int

const (
	KindUnknown Kind = iota
	KindAudio
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Classify derives the kind from a pad name. Only the "audio" and "video"
// prefixes are recognised, case-insensitively.
func Classify(padName string) Kind {
	name := strings.ToLower(padName)
	switch {
	case strings.HasPrefix(name, "audio"):
		return KindAudio
	case strings.HasPrefix(name, "video"):
		return KindVideo
	default:
		return KindUnknown
	}
}

// Stage names, also the element factory names.
const (
	StageVideoConvert  = "videoconvert"
	StageVideoScale    = "videoscale"
	StageQueue         = "queue"
	StageAppSink       = "appsink"
	StageAudioConvert  = "audioconvert"
	StageAudioResample = "audioresample"
	StageAudioSink     = "autoaudiosink"
)

// DefaultVideoCaps is what the appsink accepts unless the factory narrows it.
const DefaultVideoCaps = "video/x-raw,format=RGBA"

var chains = map[Kind][]string{
	KindVideo: {StageVideoConvert, StageVideoScale, StageQueue, StageAppSink},
	KindAudio: {StageAudioConvert, StageAudioResample, StageQueue, StageAudioSink},
}

// Stages returns the chain layout for kind.
func Stages(k Kind) []string {
	return append([]string(nil), chains[k]...)
}

// Track is a stream the source exposes inside the pipeline as an unlinked
// src pad.
type Track struct {
	Name  string
	Pad   *gst.Pad
	Media string
}

// ElementFactory creates chain elements.
type ElementFactory interface {
	Make(kind, name string) (*gst.Element, error)
}

// Logger receives one line per built or failed chain.
type Logger interface {
	Add(format string, args ...interface{})
}

// Router builds one chain per arriving track inside a pipeline it does not
// own. Every change to the pipeline, and every write to the frame cell or the
// log, happens inside the handle, so nothing gets through once the owner has
// released it.
type Router struct {
	pipeline  *pipeline.Handle
	factory   ElementFactory
	frames    *framecell.Cell
	log       Logger
	videoCaps string

	built  atomic.Uint64
	failed atomic.Uint64
}

// New returns a router for the pipeline h refers to. Decoded video frames go to frames.
func New(h *pipeline.Handle, factory ElementFactory, frames *framecell.Cell, log Logger) *Router {
	caps := DefaultVideoCaps
	if f, ok := factory.(interface{ SinkCaps() string }); ok {
		caps = f.SinkCaps()
	}
	return &Router{
		pipeline:  h,
		factory:   factory,
		frames:    frames,
		log:       log,
		videoCaps: caps,
	}
}

// Run handles tracks until ctx is done or tracks is closed.
func (r *Router) Run(ctx context.Context, tracks <-chan *Track) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tracks:
			if !ok {
				return
			}
			// failures are logged by HandleTrack and stay confined to the track
			_ = r.HandleTrack(t)
		}
	}
}

// Stats returns the number of chains built and failed.
func (r *Router) Stats() (built, failed uint64) {
	return r.built.Load(), r.failed.Load()
}

// HandleTrack builds the chain for t. Tracks of unknown kind are ignored, as
// are tracks whose pipeline is gone by the time the chain is ready.
func (r *Router) HandleTrack(t *Track) error {
	if t == nil || t.Pad == nil {
		return nil
	}
	kind := Classify(t.Name)
	if kind == KindUnknown {
		logging.DebugLog("[router] ignoring pad %s\n", t.Name)
		return nil
	}

	stages := chains[kind]
	elems := make([]*gst.Element, 0, len(stages))
	for _, stage := range stages {
		e, err := r.factory.Make(stage, fmt.Sprintf("%s-%s", stage, t.Name))
		if err == nil {
			err = r.configure(stage, e)
		}
		if err != nil {
			var cbe error
			r.pipeline.With(func(*gst.Pipeline) { cbe = r.report(t, stage, err) })
			return cbe
		}
		elems = append(elems, e)
	}

	var cbe error
	alive := r.pipeline.With(func(p *gst.Pipeline) {
		if stage, err := link(p, t, stages, elems); err != nil {
			unwind(p, t, elems)
			cbe = r.report(t, stage, err)
			return
		}
		r.built.Add(1)
		r.log.Add("%s chain linked: %s (%s)", kind, t.Name, t.Media)
	})
	if !alive {
		logging.DebugLog("[router] pipeline gone, dropping chain for %s\n", t.Name)
	}
	return cbe
}

// link adds elems to p and links t's pad through them. Elements are brought
// to the pipeline's state sink first, so nothing upstream pushes into an
// element that is not ready yet. It returns the stage that failed.
func link(p *gst.Pipeline, t *Track, stages []string, elems []*gst.Element) (string, error) {
	if err := p.AddMany(elems...); err != nil {
		return stages[0], err
	}
	if ret := t.Pad.Link(elems[0].GetStaticPad("sink")); ret != gst.PadLinkOK {
		return stages[0], fmt.Errorf("linking %s returned %v", t.Name, ret)
	}
	for i := 0; i+1 < len(elems); i++ {
		if err := elems[i].Link(elems[i+1]); err != nil {
			return stages[i+1], err
		}
	}
	for i := len(elems) - 1; i >= 0; i-- {
		if !elems[i].SyncStateWithParent() {
			return stages[i], errors.New("could not follow the pipeline state")
		}
	}
	return "", nil
}

// unwind removes a half-built chain and leaves t's pad unlinked.
func unwind(p *gst.Pipeline, t *Track, elems []*gst.Element) {
	if sink := elems[0].GetStaticPad("sink"); sink != nil && t.Pad.IsLinked() {
		t.Pad.Unlink(sink)
	}
	for _, e := range elems {
		_ = e.SetState(gst.StateNull)
		if err := p.Remove(e); err != nil {
			logging.DebugLog("[router] removing %s: %v\n", e.GetName(), err)
		}
	}
}

// report counts and logs a failed chain. Callers hold the handle.
func (r *Router) report(t *Track, stage string, err error) error {
	r.failed.Add(1)
	cbe := &ChainBuildError{Pad: t.Name, Stage: stage, Err: err}
	r.log.Add("Error: %v", cbe)
	return cbe
}

func (r *Router) configure(stage string, e *gst.Element) error {
	switch stage {
	case StageQueue:
		// keep only the newest buffer
		for _, prop := range []struct {
			name  string
			value interface{}
		}{
			{"max-size-buffers", uint(1)},
			{"max-size-bytes", uint(0)},
			{"max-size-time", uint64(0)},
		} {
			if err := e.SetProperty(prop.name, prop.value); err != nil {
				return err
			}
		}
	case StageAppSink:
		sink := app.SinkFromElement(e)
		sink.SetCaps(gst.NewCapsFromString(r.videoCaps))
		for _, prop := range []struct {
			name  string
			value interface{}
		}{
			{"sync", false},
			{"max-buffers", uint(1)},
			{"drop", true},
		} {
			if err := e.SetProperty(prop.name, prop.value); err != nil {
				return err
			}
		}
		sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: r.newSample})
	}
	return nil
}

// newSample overwrites the frame cell with the decoded frame.
func (r *Router) newSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}
	frame, err := frameFromSample(sample)
	if err != nil {
		logging.DebugLogPeriodic("router-sample", 5*time.Second, "[router] skipping sample: %v\n", err)
		return gst.FlowOK
	}
	if !r.pipeline.With(func(*gst.Pipeline) { r.frames.Store(frame) }) {
		return gst.FlowFlushing
	}
	logging.DebugLogPeriodic("router-frame", 5*time.Second, "[router] frame %dx%d\n", frame.Width, frame.Height)
	return gst.FlowOK
}

// frameFromSample copies an RGBA sample out of GStreamer, which reuses the buffer.
func frameFromSample(sample *gst.Sample) (*framecell.VideoFrame, error) {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, errors.New("sample without buffer")
	}
	caps := sample.GetCaps()
	if caps == nil {
		return nil, errors.New("sample without caps")
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return nil, errors.New("caps without structure")
	}
	width, werr := structure.GetValue("width")
	height, herr := structure.GetValue("height")
	if werr != nil || herr != nil {
		return nil, fmt.Errorf("caps without size: %v %v", werr, herr)
	}
	w, wok := width.(int)
	h, hok := height.(int)
	if !wok || !hok || w <= 0 || h <= 0 {
		return nil, fmt.Errorf("bad frame size %v x %v", width, height)
	}

	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	data := mapInfo.Bytes()
	if len(data) < w*h*4 {
		return nil, fmt.Errorf("rgba buffer is %d bytes, want %d", len(data), w*h*4)
	}
	return framecell.NewVideoFrame(uint32(w), uint32(h), data[:w*h*4])
}
