package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/elements"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
)

// 並べ替えを待つ最大パケット数
const maxLatePackets = 512

// Sample は組み立て済みの1フレーム
type Sample struct {
	Data     []byte
	PTS      time.Duration
	Duration time.Duration
	Keyframe bool
}

// RTPProcessor はRTPパケットからフレームを組み立てる
type RTPProcessor struct {
	format       elements.Format
	clockRate    uint32
	builder      *samplebuilder.SampleBuilder
	maxDelay     time.Duration
	seenKeyFrame bool
	dropped      uint64
}

// NewRTPProcessor は mimeType 用のプロセッサを作成する。
// maxDelay を超えて揃わないフレームは破棄される（0 は無制限）
func NewRTPProcessor(mimeType string, clockRate uint32, channels uint16, maxDelay time.Duration) (*RTPProcessor, error) {
	format, err := FormatForMimeType(mimeType, clockRate, channels)
	if err != nil {
		return nil, err
	}
	p := &RTPProcessor{format: format, clockRate: clockRate}
	p.SetMaxDelay(maxDelay)
	return p, nil
}

// FormatForMimeType maps a negotiated codec to the track format.
func FormatForMimeType(mimeType string, clockRate uint32, channels uint16) (elements.Format, error) {
	switch strings.ToLower(mimeType) {
	case strings.ToLower(webrtc.MimeTypeH264):
		return elements.Format{Media: elements.MediaH264, Rate: int(clockRate)}, nil
	case strings.ToLower(webrtc.MimeTypeVP8):
		return elements.Format{Media: elements.MediaVP8, Rate: int(clockRate)}, nil
	case strings.ToLower(webrtc.MimeTypeOpus):
		if channels == 0 {
			channels = 2
		}
		return elements.Format{Media: elements.MediaOpus, Rate: int(clockRate), Channels: int(channels)}, nil
	default:
		return elements.Format{}, fmt.Errorf("unsupported codec: %s", mimeType)
	}
}

func (p *RTPProcessor) newDepacketizer() rtp.Depacketizer {
	switch p.format.Media {
	case elements.MediaH264:
		return &codecs.H264Packet{}
	case elements.MediaVP8:
		return &codecs.VP8Packet{}
	default:
		return &codecs.OpusPacket{}
	}
}

// SetMaxDelay rebuilds the jitter buffer with a new bound. Partially
// assembled frames are dropped.
func (p *RTPProcessor) SetMaxDelay(d time.Duration) {
	var opts []samplebuilder.Option
	if d > 0 {
		opts = append(opts, samplebuilder.WithMaxTimeDelay(d))
	}
	p.builder = samplebuilder.New(maxLatePackets, p.newDepacketizer(), p.clockRate, opts...)
	p.maxDelay = d
}

// MaxDelay returns the current jitter buffer bound.
func (p *RTPProcessor) MaxDelay() time.Duration { return p.maxDelay }

// Format returns the format of the produced samples.
func (p *RTPProcessor) Format() elements.Format { return p.format }

// Dropped counts video frames thrown away while waiting for the first keyframe.
func (p *RTPProcessor) Dropped() uint64 { return p.dropped }

// ProcessRTPPacket はRTPパケットを投入し、完成したフレームを返す
func (p *RTPProcessor) ProcessRTPPacket(packet *rtp.Packet) []*Sample {
	if packet == nil || len(packet.Payload) == 0 {
		return nil
	}
	p.builder.Push(packet)

	var out []*Sample
	for {
		sample := p.builder.Pop()
		if sample == nil {
			return out
		}
		if len(sample.Data) == 0 {
			continue
		}
		keyframe := IsKeyframe(p.format.Media, sample.Data)
		if p.format.IsVideo() && !p.seenKeyFrame {
			if !keyframe {
				p.dropped++
				continue
			}
			p.seenKeyFrame = true
			logging.DebugLog("First keyframe: %s, %d bytes\n", p.format.Media, len(sample.Data))
		}
		out = append(out, &Sample{
			Data:     sample.Data,
			PTS:      time.Duration(sample.PacketTimestamp) * time.Second / time.Duration(p.clockRate),
			Duration: sample.Duration,
			Keyframe: keyframe || p.format.IsAudio(),
		})
	}
}

// IsKeyframe はフレームがキーフレームかどうかを判定
func IsKeyframe(media string, frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	switch media {
	case elements.MediaVP8:
		// VP8 frame tag: P bit が 0 ならキーフレーム
		return frame[0]&0x01 == 0
	case elements.MediaH264:
		// Annex-B の中に IDR か SPS があればキーフレーム
		for _, nal := range splitAnnexB(frame) {
			switch nal[0] & 0x1F {
			case 5, 7:
				return true
			}
		}
		return false
	default:
		return false
	}
}

// splitAnnexB は start code で区切られたNALユニットを返す
func splitAnnexB(data []byte) [][]byte {
	var nals [][]byte
	start := -1
	i := 0
	for i+3 <= len(data) {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				end := i
				if end > start && data[end-1] == 0 {
					end--
				}
				if end > start {
					nals = append(nals, data[start:end])
				}
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		nals = append(nals, data[start:])
	}
	return nals
}
