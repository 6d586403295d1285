package session

import "time"

// Codec names as the signaller offers them.
const (
	CodecH264 = "H264"
	CodecVP8  = "VP8"
	CodecOpus = "OPUS"
)

// TargetLatency is applied to every transport once it is ready.
const TargetLatency = 20 * time.Millisecond

// SourceConfig configures the network source. It is fixed at build time.
type SourceConfig struct {
	ConnectToFirstProducer   bool
	VideoCodecs              []string
	AudioCodecs              []string
	EnableControlDataChannel bool
}

// DefaultSourceConfig is the configuration every pipeline is built with.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		ConnectToFirstProducer:   true,
		VideoCodecs:              []string{CodecH264, CodecVP8},
		AudioCodecs:              []string{CodecOpus},
		EnableControlDataChannel: true,
	}
}
