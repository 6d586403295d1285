package internal

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/elements"
)

func vp8Packet(seq uint16, ts uint32, keyframe bool) *rtp.Packet {
	tag := byte(0x01)
	if keyframe {
		tag = 0x00
	}
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    97,
			SequenceNumber: seq,
			Timestamp:      ts,
			Marker:         true,
		},
		// S bit set, PID 0
		Payload: []byte{0x10, tag, 0xAA, 0xBB},
	}
}

func TestIsKeyframe(t *testing.T) {
	cases := []struct {
		name  string
		media string
		frame []byte
		want  bool
	}{
		{"vp8 key", elements.MediaVP8, []byte{0x10, 0x02}, true},
		{"vp8 inter", elements.MediaVP8, []byte{0x11, 0x02}, false},
		{"h264 idr", elements.MediaH264, []byte{0, 0, 0, 1, 0x65, 0x88}, true},
		{"h264 sps", elements.MediaH264, []byte{0, 0, 1, 0x67, 0x42, 0, 0, 1, 0x68, 0xCE}, true},
		{"h264 slice", elements.MediaH264, []byte{0, 0, 0, 1, 0x41, 0x9A}, false},
		{"opus", elements.MediaOpus, []byte{0xFC}, false},
		{"empty", elements.MediaVP8, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsKeyframe(tc.media, tc.frame))
		})
	}
}

func TestSplitAnnexB(t *testing.T) {
	data := []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 1, 0x68, 0xCE, 0, 0, 0, 1, 0x65, 0x88, 0x84}
	nals := splitAnnexB(data)
	require.Len(t, nals, 3)
	assert.Equal(t, []byte{0x67, 0x42}, nals[0])
	assert.Equal(t, []byte{0x68, 0xCE}, nals[1])
	assert.Equal(t, []byte{0x65, 0x88, 0x84}, nals[2])

	assert.Empty(t, splitAnnexB([]byte{0x65, 0x88}))
}

func TestFormatForMimeType(t *testing.T) {
	f, err := FormatForMimeType(webrtc.MimeTypeVP8, 90000, 0)
	require.NoError(t, err)
	assert.Equal(t, elements.MediaVP8, f.Media)
	assert.True(t, f.IsVideo())

	f, err = FormatForMimeType("video/h264", 90000, 0)
	require.NoError(t, err)
	assert.Equal(t, elements.MediaH264, f.Media)

	f, err = FormatForMimeType(webrtc.MimeTypeOpus, 48000, 0)
	require.NoError(t, err)
	assert.Equal(t, elements.MediaOpus, f.Media)
	assert.Equal(t, 2, f.Channels)
	assert.Equal(t, 48000, f.Rate)

	_, err = FormatForMimeType(webrtc.MimeTypeAV1, 90000, 0)
	assert.Error(t, err)
}

func TestRTPProcessorWaitsForKeyframe(t *testing.T) {
	p, err := NewRTPProcessor(webrtc.MimeTypeVP8, 90000, 0, 0)
	require.NoError(t, err)

	var out []*Sample
	out = append(out, p.ProcessRTPPacket(vp8Packet(1, 3000, false))...)
	out = append(out, p.ProcessRTPPacket(vp8Packet(2, 6000, false))...)
	out = append(out, p.ProcessRTPPacket(vp8Packet(3, 9000, true))...)
	out = append(out, p.ProcessRTPPacket(vp8Packet(4, 12000, false))...)
	out = append(out, p.ProcessRTPPacket(vp8Packet(5, 15000, false))...)

	require.NotEmpty(t, out)
	assert.True(t, out[0].Keyframe, "first buffer out must be a keyframe")
	assert.Equal(t, elements.MediaVP8, p.Format().Media)
	assert.Equal(t, 100*time.Millisecond, out[0].PTS)
	assert.NotZero(t, p.Dropped())
}

func TestRTPProcessorIgnoresEmptyPackets(t *testing.T) {
	p, err := NewRTPProcessor(webrtc.MimeTypeOpus, 48000, 2, 0)
	require.NoError(t, err)
	assert.Nil(t, p.ProcessRTPPacket(nil))
	assert.Nil(t, p.ProcessRTPPacket(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}))
}

func TestRTPProcessorSetMaxDelay(t *testing.T) {
	p, err := NewRTPProcessor(webrtc.MimeTypeVP8, 90000, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, p.MaxDelay())

	p.SetMaxDelay(20e6)
	assert.Equal(t, int64(20e6), int64(p.MaxDelay()))
}
