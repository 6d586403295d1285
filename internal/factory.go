package internal

import (
	"github.com/Azunyan1111/go-webrtc-viewer/internal/controller"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/session"
)

// NewSignaller returns the signaller selected by --signaller.
func NewSignaller() Signaller {
	if SignallerName == SignallerWHEP {
		return NewWHEPSignaller(SignallerURL)
	}
	return NewWSSignaller(SignallerURL)
}

// NewSourceFactory returns the source constructor selected by the flags.
// Every pipeline gets a fresh source.
func NewSourceFactory() controller.SourceFactory {
	return func(cfg session.SourceConfig) (controller.Source, error) {
		if ReplayPath != "" {
			return NewReplaySource("replaysrc", ReplayPath, cfg), nil
		}
		src, err := NewWebRTCSource("webrtcsrc", cfg, NewSignaller(), STUNServers)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}
