package internal

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/elements"
)

// scriptedTrack returns packets in order, then err (io.EOF by default).
type scriptedTrack struct {
	mu      sync.Mutex
	packets []*rtp.Packet
	err     error
	block   chan struct{}
}

func (s *scriptedTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	s.mu.Lock()
	if len(s.packets) > 0 {
		p := s.packets[0]
		s.packets = s.packets[1:]
		s.mu.Unlock()
		return p, nil, nil
	}
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, nil, s.err
	}
	return nil, nil, io.EOF
}

func vp8Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        97,
	}
}

func vp8Stream() []*rtp.Packet {
	var pkts []*rtp.Packet
	for i := 0; i < 6; i++ {
		pkts = append(pkts, vp8Packet(uint16(100+i), uint32(3000*(i+1)), i == 0))
	}
	return pkts
}

// fakeSink records pushed frames. Until linked it refuses them the way an
// unlinked head does.
type fakeSink struct {
	name   string
	linked atomic.Bool
	closed atomic.Bool

	mu     sync.Mutex
	frames [][]byte
	keys   []bool
}

func newFakeSink(name string, linked bool) *fakeSink {
	s := &fakeSink{name: name}
	s.linked.Store(linked)
	return s
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Push(data []byte, keyframe bool) error {
	if !s.linked.Load() {
		return elements.ErrNotLinked
	}
	s.mu.Lock()
	s.frames = append(s.frames, data)
	s.keys = append(s.keys, keyframe)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Close() { s.closed.Store(true) }

func (s *fakeSink) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.frames))
}

func fixedLatency(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

func TestStreamManagerPushesToLinkedSink(t *testing.T) {
	sink := newFakeSink("video_0", true)

	sm := NewStreamManager(fixedLatency(0), func(err error) { t.Errorf("unexpected error: %v", err) })
	require.NoError(t, sm.AddTrack(&scriptedTrack{packets: vp8Stream()}, vp8Codec(), sink))

	assert.Eventually(t, func() bool { return sink.Count() > 0 }, time.Second, 5*time.Millisecond)
	sm.Stop()

	pushed, _ := sm.Stats()
	assert.Equal(t, sink.Count(), pushed)
	assert.True(t, sink.keys[0], "first frame is the keyframe")
	assert.True(t, sink.closed.Load())
}

func TestStreamManagerCountsUnlinkedAsDropped(t *testing.T) {
	sink := newFakeSink("video_0", false)

	sm := NewStreamManager(fixedLatency(20*time.Millisecond), func(err error) { t.Errorf("unexpected error: %v", err) })
	require.NoError(t, sm.AddTrack(&scriptedTrack{packets: vp8Stream()}, vp8Codec(), sink))
	sm.Stop()

	pushed, dropped := sm.Stats()
	assert.Zero(t, pushed)
	assert.NotZero(t, dropped)
	assert.True(t, sink.closed.Load())
}

func TestStreamManagerReportsReadErrors(t *testing.T) {
	sink := newFakeSink("audio_0", true)
	boom := errors.New("srtp failure")

	var reported atomic.Value
	sm := NewStreamManager(fixedLatency(0), func(err error) { reported.Store(err) })
	opus := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}
	require.NoError(t, sm.AddTrack(&scriptedTrack{err: boom}, opus, sink))
	sm.Stop()

	err, _ := reported.Load().(error)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "audio_0")
}

func TestStreamManagerRejectsTracksAfterStop(t *testing.T) {
	sm := NewStreamManager(fixedLatency(0), func(error) {})
	sm.Stop()
	sm.Stop()

	assert.Error(t, sm.AddTrack(&scriptedTrack{}, vp8Codec(), newFakeSink("video_0", true)))
}

func TestStreamManagerUnsupportedCodec(t *testing.T) {
	sm := NewStreamManager(fixedLatency(0), func(error) {})
	defer sm.Stop()

	codec := webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeAV1, ClockRate: 90000}}
	assert.Error(t, sm.AddTrack(&scriptedTrack{}, codec, newFakeSink("video_0", true)))
}
