package internal

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/elements"
)

// Signaller names accepted by --signaller.
const (
	SignallerWS   = "ws"
	SignallerWHEP = "whep"
)

var (
	SignallerName    string
	SignallerURL     string
	ReplayPath       string
	STUNServers      []string
	AudioOutput      string
	MaxWidth         int
	MaxHeight        int
	SnapshotPath     string
	SnapshotInterval time.Duration
	AutoStart        bool
	DebugMode        bool
)

// RegisterFlags adds the viewer's flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&SignallerName, "signaller", "s", SignallerWS, "Signalling protocol (ws, whep)")
	fs.StringVarP(&SignallerURL, "url", "u", "ws://127.0.0.1:8443", "Signalling server URL (ws) or WHEP endpoint (whep)")
	fs.StringVarP(&ReplayPath, "replay", "r", "", "Play a WebM/Matroska file instead of connecting (VP8/Opus)")
	fs.StringSliceVar(&STUNServers, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	fs.StringVar(&AudioOutput, "audio-output", elements.AudioOutputAuto, "Audio output (auto, none)")
	fs.IntVar(&MaxWidth, "max-width", 0, "Scale frames down to at most this width (0 = unbounded)")
	fs.IntVar(&MaxHeight, "max-height", 0, "Scale frames down to at most this height (0 = unbounded)")
	fs.StringVar(&SnapshotPath, "snapshot", "", "Write the newest frame as PNG to this path")
	fs.DurationVar(&SnapshotInterval, "snapshot-interval", 5*time.Second, "Interval between PNG snapshots")
	fs.BoolVar(&AutoStart, "autostart", false, "Start receiving immediately")
	fs.BoolVarP(&DebugMode, "debug", "d", false, "Enable debug logging")
}

// ParseArgs validates the flag values after parsing.
func ParseArgs() error {
	SignallerName = strings.ToLower(SignallerName)
	switch SignallerName {
	case SignallerWS, SignallerWHEP:
	default:
		return fmt.Errorf("unsupported signaller: %s (supported: ws, whep)", SignallerName)
	}

	if ReplayPath == "" {
		u, err := url.Parse(SignallerURL)
		if err != nil {
			return fmt.Errorf("invalid --url: %w", err)
		}
		switch SignallerName {
		case SignallerWS:
			if u.Scheme != "ws" && u.Scheme != "wss" {
				return fmt.Errorf("--url must be a ws:// or wss:// URL for the ws signaller, got %q", SignallerURL)
			}
		case SignallerWHEP:
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("--url must be an http:// or https:// URL for whep, got %q", SignallerURL)
			}
		}
	} else if _, err := os.Stat(ReplayPath); err != nil {
		return fmt.Errorf("--replay: %w", err)
	}

	AudioOutput = strings.ToLower(AudioOutput)
	if AudioOutput != elements.AudioOutputAuto && AudioOutput != elements.AudioOutputNone {
		return fmt.Errorf("unsupported audio output: %s (supported: auto, none)", AudioOutput)
	}
	if MaxWidth < 0 || MaxHeight < 0 {
		return fmt.Errorf("--max-width and --max-height must not be negative")
	}
	if SnapshotPath != "" && SnapshotInterval <= 0 {
		return fmt.Errorf("--snapshot-interval must be positive")
	}
	return nil
}

// ElementOptions returns the chain element options the flags describe.
func ElementOptions() elements.Options {
	opts := elements.DefaultOptions()
	opts.MaxWidth = MaxWidth
	opts.MaxHeight = MaxHeight
	opts.AudioOutput = AudioOutput
	return opts
}
