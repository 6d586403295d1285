package elements

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/pipeline"
)

const (
	h264Caps = "video/x-h264,stream-format=byte-stream,alignment=au"
	// 同じ種類の警告はこの間隔で1回だけバスに出す
	warnInterval = 5 * time.Second
)

// Reporter receives decoder failures of a head. *pipeline.Origin is one.
type Reporter interface {
	Error(err error, debug string) bool
	Warning(err error, debug string) bool
}

// Head carries one received track into the pipeline:
//
//	VP8:  appsrc name=video_N caps=video/x-raw,format=RGBA   (libvpx)
//	H264: appsrc name=video_N ! h264parse ! avdec_h264
//	Opus: appsrc name=audio_N caps=audio/x-raw,format=S16LE  (libopus)
//
// Its src pad is left unlinked for the track router. Nothing is pushed
// until a chain is linked to it.
type Head struct {
	name   string
	format Format
	report Reporter
	src    *app.Source
	elems  []*gst.Element
	pad    *gst.Pad

	mu       sync.Mutex
	vp8      *vp8Decoder
	opus     *opusDecoder
	caps     string
	lastWarn time.Time
	closed   bool

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewHead creates the elements for a track called name. They belong to no
// pipeline until Attach.
func NewHead(name string, format Format, report Reporter) (*Head, error) {
	pipeline.Init()

	srcElem, err := gst.NewElementWithName("appsrc", name)
	if err != nil {
		return nil, fmt.Errorf("failed to create appsrc: %w", err)
	}
	for _, prop := range []struct {
		name  string
		value interface{}
	}{
		{"is-live", true},
		{"format", gst.FormatTime},
		{"do-timestamp", true},
		{"block", false},
	} {
		if err := srcElem.SetProperty(prop.name, prop.value); err != nil {
			return nil, fmt.Errorf("appsrc %s: %w", prop.name, err)
		}
	}

	h := &Head{
		name:   name,
		format: format,
		report: report,
		src:    app.SrcFromElement(srcElem),
		elems:  []*gst.Element{srcElem},
	}

	switch format.Media {
	case MediaH264:
		h.src.SetCaps(gst.NewCapsFromString(h264Caps))
		parse, err := gst.NewElementWithName("h264parse", name+"-h264parse")
		if err != nil {
			return nil, fmt.Errorf("failed to create h264parse: %w", err)
		}
		dec, err := gst.NewElementWithName("avdec_h264", name+"-avdec_h264")
		if err != nil {
			return nil, fmt.Errorf("failed to create avdec_h264: %w", err)
		}
		h.elems = append(h.elems, parse, dec)
	case MediaVP8:
		// caps は最初のフレームのサイズが分かってから
	case MediaOpus:
		channels := format.Channels
		if channels == 0 {
			channels = 2
		}
		dec, err := newOpusDecoder(channels)
		if err != nil {
			h.report.Error(err, "libopus")
			return nil, err
		}
		h.opus = dec
		h.caps = dec.Caps()
		h.src.SetCaps(gst.NewCapsFromString(h.caps))
	default:
		return nil, fmt.Errorf("no head for %s", format.Media)
	}

	h.pad = h.elems[len(h.elems)-1].GetStaticPad("src")
	if h.pad == nil {
		return nil, fmt.Errorf("%s has no src pad", name)
	}
	return h, nil
}

// Name returns the track name, which is also the appsrc name.
func (h *Head) Name() string { return h.name }

// Format returns the received format.
func (h *Head) Format() Format { return h.format }

// Pad returns the src pad a chain is linked to.
func (h *Head) Pad() *gst.Pad { return h.pad }

// Stats returns buffers pushed into the pipeline and buffers dropped.
func (h *Head) Stats() (pushed, dropped uint64) {
	return h.pushed.Load(), h.dropped.Load()
}

// Attach adds the head to p, links it and brings it to p's state,
// downstream first.
func (h *Head) Attach(p *gst.Pipeline) error {
	if err := p.AddMany(h.elems...); err != nil {
		return fmt.Errorf("failed to add %s: %w", h.name, err)
	}
	if len(h.elems) > 1 {
		if err := gst.ElementLinkMany(h.elems...); err != nil {
			return fmt.Errorf("failed to link %s: %w", h.name, err)
		}
	}
	for i := len(h.elems) - 1; i >= 0; i-- {
		if !h.elems[i].SyncStateWithParent() {
			return fmt.Errorf("%s could not follow the pipeline state", h.elems[i].GetName())
		}
	}
	return nil
}

// Push decodes a frame if needed and pushes it into the pipeline. Frames
// arriving while no chain is linked are dropped with ErrNotLinked.
func (h *Head) Push(data []byte, keyframe bool) error {
	if len(data) == 0 {
		return nil
	}
	if !h.pad.IsLinked() {
		h.dropped.Add(1)
		return ErrNotLinked
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.dropped.Add(1)
		return ErrFlushing
	}

	switch h.format.Media {
	case MediaVP8:
		return h.pushVP8(data, keyframe)
	case MediaOpus:
		pcm, err := h.opus.Decode(data)
		if err != nil {
			h.warn(err, "libopus")
			return nil
		}
		if pcm == nil {
			return nil
		}
		return h.push(pcm)
	default:
		return h.push(data)
	}
}

func (h *Head) pushVP8(data []byte, keyframe bool) error {
	if h.vp8 == nil {
		dec, err := newVPXDecoder()
		if err != nil {
			h.report.Error(err, "libvpx")
			return err
		}
		h.vp8 = dec
	}
	rgba, w, hgt, err := h.vp8.Decode(data, keyframe)
	if err != nil {
		// 1フレームの失敗は致命的ではない。次のフレームを待つ
		h.warn(err, "vp8 frame skipped")
		return nil
	}
	if rgba == nil {
		return nil
	}
	caps := fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d,framerate=0/1", w, hgt)
	if caps != h.caps {
		logging.DebugLog("[%s] caps %s\n", h.name, caps)
		h.src.SetCaps(gst.NewCapsFromString(caps))
		h.caps = caps
	}
	return h.push(rgba)
}

func (h *Head) push(data []byte) error {
	switch ret := h.src.PushBuffer(gst.NewBufferFromBytes(data)); ret {
	case gst.FlowOK:
		h.pushed.Add(1)
		return nil
	case gst.FlowFlushing:
		h.dropped.Add(1)
		return ErrFlushing
	default:
		h.dropped.Add(1)
		return fmt.Errorf("%s: push returned %v", h.name, ret)
	}
}

func (h *Head) warn(err error, debug string) {
	h.dropped.Add(1)
	if time.Since(h.lastWarn) < warnInterval {
		logging.DebugLog("[%s] %s: %v\n", h.name, debug, err)
		return
	}
	h.lastWarn = time.Now()
	h.report.Warning(fmt.Errorf("%s: %w", h.name, err), debug)
}

// Close releases the decoders. Later pushes fail with ErrFlushing.
func (h *Head) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.vp8 != nil {
		h.vp8.Close()
		h.vp8 = nil
	}
	if h.opus != nil {
		h.opus.Close()
		h.opus = nil
	}
}

// IsNotLinked reports whether err only means that no chain took the frame.
func IsNotLinked(err error) bool {
	return errors.Is(err, ErrNotLinked) || errors.Is(err, ErrFlushing)
}
