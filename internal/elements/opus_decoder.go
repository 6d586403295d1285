package elements

import (
	"fmt"

	opus "github.com/qrtc/opus-go"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
)

const (
	opusSampleRate = 48000
	// 120ms at 48kHz is the longest Opus frame
	opusMaxFrameSamples = opusSampleRate * 120 / 1000
)

// opusDecoder decodes Opus packets to interleaved S16LE at 48 kHz.
type opusDecoder struct {
	dec      *opus.OpusDecoder
	channels int
	pcm      []byte
}

func newOpusDecoder(channels int) (*opusDecoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opus: only 1 or 2 channels are supported, got %d", channels)
	}
	dec, err := opus.CreateOpusDecoder(&opus.OpusDecoderConfig{
		SampleRate:  opusSampleRate,
		MaxChannels: channels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus decoder: %w", err)
	}
	logging.DebugLog("Opus decoder initialized: %dHz, %d channels\n", opusSampleRate, channels)
	return &opusDecoder{
		dec:      dec,
		channels: channels,
		pcm:      make([]byte, opusMaxFrameSamples*channels*2),
	}, nil
}

// Decode returns a fresh PCM slice, or nil when the packet held no samples.
func (d *opusDecoder) Decode(packet []byte) ([]byte, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	// n is the number of PCM bytes written
	n = min(n, len(d.pcm))
	n -= n % (d.channels * 2)
	if n <= 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, d.pcm[:n])
	return out, nil
}

// Caps returns the raw audio caps of the decoded PCM.
func (d *opusDecoder) Caps() string {
	return fmt.Sprintf("audio/x-raw,format=S16LE,layout=interleaved,rate=%d,channels=%d", opusSampleRate, d.channels)
}

func (d *opusDecoder) Close() {
	if d.dec != nil {
		d.dec.Close()
		d.dec = nil
	}
}
