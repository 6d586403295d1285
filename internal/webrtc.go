package internal

import (
	"fmt"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/session"
)

type codecEntry struct {
	mimeType    string
	payloadType webrtc.PayloadType
	clockRate   uint32
	channels    uint16
	kind        webrtc.RTPCodecType
}

var knownCodecs = map[string]codecEntry{
	session.CodecH264: {webrtc.MimeTypeH264, 96, 90000, 0, webrtc.RTPCodecTypeVideo},
	session.CodecVP8:  {webrtc.MimeTypeVP8, 97, 90000, 0, webrtc.RTPCodecTypeVideo},
	session.CodecOpus: {webrtc.MimeTypeOpus, 111, 48000, 2, webrtc.RTPCodecTypeAudio},
}

// CreateMediaEngine registers exactly the codecs cfg accepts.
func CreateMediaEngine(cfg session.SourceConfig) (*webrtc.MediaEngine, error) {
	mediaEngine := &webrtc.MediaEngine{}

	register := func(names []string, kind webrtc.RTPCodecType) error {
		for _, name := range names {
			c, ok := knownCodecs[strings.ToUpper(name)]
			if !ok || c.kind != kind {
				return fmt.Errorf("unsupported %s codec: %s", kind, name)
			}
			if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType: c.mimeType, ClockRate: c.clockRate, Channels: c.channels,
				},
				PayloadType: c.payloadType,
			}, kind); err != nil {
				return err
			}
		}
		return nil
	}
	if err := register(cfg.VideoCodecs, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}
	if err := register(cfg.AudioCodecs, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}
	return mediaEngine, nil
}

// NewAPI builds a pion API with the default interceptors and pion logs
// routed to the process logger.
func NewAPI(mediaEngine *webrtc.MediaEngine) (*webrtc.API, error) {
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.LoggerFactory = logging.PionLoggerFactory{}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(settingEngine),
	), nil
}

// PeerConnectionConfig returns the configuration for the given STUN servers.
func PeerConnectionConfig(stunServers []string) webrtc.Configuration {
	config := webrtc.Configuration{}
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return config
}

// AddRecvonlyTransceivers adds one receive-only transceiver per kind cfg accepts.
func AddRecvonlyTransceivers(pc *webrtc.PeerConnection, cfg session.SourceConfig) error {
	kinds := []struct {
		kind   webrtc.RTPCodecType
		codecs []string
	}{
		{webrtc.RTPCodecTypeVideo, cfg.VideoCodecs},
		{webrtc.RTPCodecTypeAudio, cfg.AudioCodecs},
	}
	for _, k := range kinds {
		if len(k.codecs) == 0 {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(k.kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}
