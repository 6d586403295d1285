package pipeline

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"
)

// Origin stands in for a Go-side source inside the pipeline. It is an empty
// bin whose name is the source of the bus messages it posts, so the bus
// supervisor sees "webrtcsrc" the same way it would see a native element.
type Origin struct {
	bin *gst.Bin
	bus *gst.Bus
}

// NewOrigin adds an origin called name to p.
func NewOrigin(p *gst.Pipeline, name string) (*Origin, error) {
	bin := gst.NewBin(name)
	if err := p.Add(bin.Element); err != nil {
		return nil, fmt.Errorf("failed to add %s: %w", name, err)
	}
	return &Origin{bin: bin, bus: p.GetPipelineBus()}, nil
}

// Name returns the element name messages are posted under.
func (o *Origin) Name() string { return o.bin.GetName() }

// Error posts an error message. The supervisor treats it as fatal.
func (o *Origin) Error(err error, debug string) bool {
	return o.bus.Post(gst.NewErrorMessage(o.bin.Element, err, debug, nil))
}

// Warning posts a warning message.
func (o *Origin) Warning(err error, debug string) bool {
	return o.bus.Post(gst.NewWarningMessage(o.bin.Element, err, debug, nil))
}

// EOS posts end-of-stream.
func (o *Origin) EOS() bool {
	return o.bus.Post(gst.NewEOSMessage(o.bin.Element))
}

// Latency asks the pipeline to recompute its latency.
func (o *Origin) Latency() bool {
	return o.bus.Post(gst.NewLatencyMessage(o.bin.Element))
}
