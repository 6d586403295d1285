package elements

import (
	"errors"
	"fmt"
	"strings"
)

// Media types of received tracks.
const (
	MediaH264 = "video/x-h264"
	MediaVP8  = "video/x-vp8"
	MediaOpus = "audio/x-opus"
)

var (
	// ErrNotLinked is returned by Push while no chain is linked to the head.
	ErrNotLinked = errors.New("elements: head not linked")
	// ErrFlushing is returned by Push while the pipeline is shutting down.
	ErrFlushing = errors.New("elements: head is flushing")
)

// Format describes a received track. Zero fields are unknown.
type Format struct {
	Media    string
	Width    int
	Height   int
	Rate     int
	Channels int
}

// IsVideo reports whether the media type is a video type.
func (f Format) IsVideo() bool { return strings.HasPrefix(f.Media, "video/") }

// IsAudio reports whether the media type is an audio type.
func (f Format) IsAudio() bool { return strings.HasPrefix(f.Media, "audio/") }

func (f Format) String() string {
	var b strings.Builder
	b.WriteString(f.Media)
	if f.Width > 0 {
		fmt.Fprintf(&b, ",width=%d", f.Width)
	}
	if f.Height > 0 {
		fmt.Fprintf(&b, ",height=%d", f.Height)
	}
	if f.Rate > 0 {
		fmt.Fprintf(&b, ",rate=%d", f.Rate)
	}
	if f.Channels > 0 {
		fmt.Fprintf(&b, ",channels=%d", f.Channels)
	}
	return b.String()
}
