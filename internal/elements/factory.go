// Package elements makes the GStreamer elements of the per-track chains and
// the heads that carry received tracks into the pipeline. VP8 and Opus are
// decoded in Go with libvpx and libopus; H264 is decoded by avdec_h264.
package elements

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/pipeline"
)

// Audio output modes.
const (
	AudioOutputAuto = "auto"
	AudioOutputNone = "none"
)

// Options configure the elements a Factory makes.
type Options struct {
	// MaxWidth and MaxHeight bound decoded frames; 0 leaves a side unbounded.
	MaxWidth  int
	MaxHeight int
	// AudioOutput is AudioOutputAuto or AudioOutputNone.
	AudioOutput string
}

// DefaultOptions returns unbounded video and audio to the default device.
func DefaultOptions() Options {
	return Options{AudioOutput: AudioOutputAuto}
}

// kinds are the element factories a chain may ask for.
var kinds = map[string]bool{
	"videoconvert":  true,
	"videoscale":    true,
	"queue":         true,
	"appsink":       true,
	"audioconvert":  true,
	"audioresample": true,
	"autoaudiosink": true,
	"fakesink":      true,
}

// Factory makes chain elements by kind.
type Factory struct {
	opts Options
}

// NewFactory returns a factory using opts.
func NewFactory(opts Options) *Factory {
	if opts.AudioOutput == "" {
		opts.AudioOutput = AudioOutputAuto
	}
	return &Factory{opts: opts}
}

// Make returns a new element of the given kind called name.
func (f *Factory) Make(kind, name string) (*gst.Element, error) {
	if !kinds[kind] {
		return nil, fmt.Errorf("no element kind %q", kind)
	}
	pipeline.Init()

	factory := kind
	if kind == "autoaudiosink" && f.opts.AudioOutput == AudioOutputNone {
		factory = "fakesink"
	}
	e, err := gst.NewElementWithName(factory, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", factory, err)
	}
	if factory == "fakesink" {
		// 音声を捨てる場合もクロックに合わせない
		if err := e.SetProperty("sync", false); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// SinkCaps returns the caps the video appsink accepts: RGBA, within the
// configured bounds.
func (f *Factory) SinkCaps() string {
	caps := "video/x-raw,format=RGBA"
	if f.opts.MaxWidth > 0 {
		caps += fmt.Sprintf(",width=[1,%d]", f.opts.MaxWidth)
	}
	if f.opts.MaxHeight > 0 {
		caps += fmt.Sprintf(",height=[1,%d]", f.opts.MaxHeight)
	}
	return caps
}
