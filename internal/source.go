package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/tinyzimmer/go-gst/gst"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/elements"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/pipeline"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/router"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/session"
)

// controlChannelLabel is the label of the out-of-band data channel.
const controlChannelLabel = "control"

// Transport is the negotiated connection handed out with TransportReady.
// Its latency bound applies to the jitter buffers of every track.
type Transport struct {
	source *WebRTCSource
	pc     *webrtc.PeerConnection
}

// SetLatency bounds how long a track waits for missing packets and asks
// the pipeline to recompute its latency.
func (t *Transport) SetLatency(d time.Duration) {
	t.source.latency.Store(int64(d))
	t.source.postLatency()
}

// Latency returns the current bound.
func (t *Transport) Latency() time.Duration {
	return time.Duration(t.source.latency.Load())
}

// PeerConnection returns the underlying connection.
func (t *Transport) PeerConnection() *webrtc.PeerConnection { return t.pc }

// WebRTCSource receives a remote stream over WebRTC. Each track gets a head
// in the pipeline whose src pad, named after the track (video_N, audio_N), is
// announced on Tracks().
type WebRTCSource struct {
	name       string
	cfg        session.SourceConfig
	signaller  Signaller
	iceServers []string
	api        *webrtc.API
	signalling *session.Channel
	tracks     chan *router.Track
	log        *logrus.Entry

	latency atomic.Int64

	mu        sync.Mutex
	pipeline  *gst.Pipeline
	origin    *pipeline.Origin
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	pcs       []*webrtc.PeerConnection
	streams   *StreamManager
	padCounts map[webrtc.RTPCodecType]int
}

// NewWebRTCSource creates the source. The media engine accepts exactly the
// codecs in cfg.
func NewWebRTCSource(name string, cfg session.SourceConfig, signaller Signaller, iceServers []string) (*WebRTCSource, error) {
	if signaller == nil {
		return nil, errors.New("webrtcsrc: no signaller")
	}
	mediaEngine, err := CreateMediaEngine(cfg)
	if err != nil {
		return nil, err
	}
	api, err := NewAPI(mediaEngine)
	if err != nil {
		return nil, err
	}
	s := &WebRTCSource{
		name:       name,
		cfg:        cfg,
		signaller:  signaller,
		iceServers: iceServers,
		api:        api,
		signalling: session.NewChannel(),
		tracks:     make(chan *router.Track, 8),
		log:        logging.For("webrtcsrc"),
		padCounts:  make(map[webrtc.RTPCodecType]int),
	}
	s.latency.Store(int64(session.TargetLatency))
	return s, nil
}

func (s *WebRTCSource) Name() string                 { return s.name }
func (s *WebRTCSource) Signalling() *session.Channel { return s.signalling }
func (s *WebRTCSource) Tracks() <-chan *router.Track { return s.tracks }
func (s *WebRTCSource) Config() session.SourceConfig { return s.cfg }

// Latency reports the jitter buffer bound to the pipeline.
func (s *WebRTCSource) Latency() time.Duration {
	return time.Duration(s.latency.Load())
}

// Emit forwards a lifecycle event to the signalling subscribers.
func (s *WebRTCSource) Emit(ev session.Event) {
	s.signalling.Emit(ev)
}

// DescribeRemote logs a summary of the remote description.
func (s *WebRTCSource) DescribeRemote(raw string) {
	summary, err := SummarizeSDP(raw)
	if err != nil {
		s.log.WithError(err).Warn("remote description")
		return
	}
	s.log.WithField("media", summary).Info("remote description")
	if logging.IsDebug() {
		logging.DebugLog("\n=== Remote SDP ===\n%s\n=== End SDP ===\n\n", raw)
	}
}

// Start adds the source to p and starts signalling.
func (s *WebRTCSource) Start(p *gst.Pipeline) error {
	origin, err := pipeline.NewOrigin(p, s.name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pipeline, s.origin = p, origin
	s.mu.Unlock()
	s.start()
	return nil
}

// Stop tears the session down and waits for the receive loops.
func (s *WebRTCSource) Stop() {
	s.stop()
}

func (s *WebRTCSource) postError(err error, debug string) {
	s.mu.Lock()
	origin := s.origin
	s.mu.Unlock()
	if origin != nil {
		origin.Error(err, debug)
	}
}

func (s *WebRTCSource) postLatency() {
	s.mu.Lock()
	origin := s.origin
	s.mu.Unlock()
	if origin != nil {
		origin.Latency()
	}
}

func (s *WebRTCSource) start() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	streams := NewStreamManager(s.Latency, func(err error) { s.postError(err, "track reader") })

	s.mu.Lock()
	s.ctx, s.cancel, s.done = ctx, cancel, done
	s.streams = streams
	s.mu.Unlock()

	go func() {
		defer close(done)
		err := s.signaller.Run(ctx, s)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.WithError(err).Error("signalling failed")
			s.postError(err, "signaller")
			return
		}
		s.log.Info("session ended by peer")
		s.mu.Lock()
		origin := s.origin
		s.mu.Unlock()
		origin.EOS()
	}()
}

func (s *WebRTCSource) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	pcs := s.pcs
	streams := s.streams
	s.cancel, s.done, s.pcs, s.streams = nil, nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	for _, pc := range pcs {
		if err := pc.Close(); err != nil {
			s.log.WithError(err).Warn("closing peer connection")
		}
	}
	streams.Stop()
}

// NewPeerConnection creates the transport for a session and reports it
// with TransportReady.
func (s *WebRTCSource) NewPeerConnection(offerer bool) (*webrtc.PeerConnection, error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return nil, errors.New("webrtcsrc: not running")
	}

	pc, err := s.api.NewPeerConnection(PeerConnectionConfig(s.iceServers))
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	if offerer {
		if err := AddRecvonlyTransceivers(pc, s.cfg); err != nil {
			pc.Close()
			return nil, err
		}
		if s.cfg.EnableControlDataChannel {
			dc, err := pc.CreateDataChannel(controlChannelLabel, nil)
			if err != nil {
				pc.Close()
				return nil, fmt.Errorf("failed to create control channel: %w", err)
			}
			s.attachControl(dc)
		}
	} else if s.cfg.EnableControlDataChannel {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() == controlChannelLabel {
				s.attachControl(dc)
			}
		})
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.onTrack(ctx, pc, track)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logging.DebugLog("ICE Connection State has changed: %s\n", state.String())
		switch state {
		case webrtc.ICEConnectionStateConnected:
			s.log.Info("ICE connected")
		case webrtc.ICEConnectionStateFailed:
			if ctx.Err() == nil {
				s.postError(errors.New("ICE connection failed"), "ice")
			}
		}
	})

	s.mu.Lock()
	s.pcs = append(s.pcs, pc)
	s.mu.Unlock()

	s.Emit(session.Event{Kind: session.TransportReady, Transport: &Transport{source: s, pc: pc}})
	return pc, nil
}

func (s *WebRTCSource) attachControl(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		s.log.WithField("label", dc.Label()).Info("control channel open")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.log.WithField("label", dc.Label()).Infof("control message: %s", string(msg.Data))
	})
}

func (s *WebRTCSource) onTrack(ctx context.Context, pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	codec := track.Codec()
	DebugLogTrack(track.Kind(), codec)

	format, err := FormatForMimeType(codec.MimeType, codec.ClockRate, codec.Channels)
	if err != nil {
		s.log.WithError(err).Warn("ignoring track")
		return
	}

	s.mu.Lock()
	n := s.padCounts[track.Kind()]
	s.padCounts[track.Kind()] = n + 1
	streams, p, origin := s.streams, s.pipeline, s.origin
	s.mu.Unlock()
	if streams == nil {
		return
	}

	name := fmt.Sprintf("%s_%d", track.Kind(), n)
	head, err := elements.NewHead(name, format, origin)
	if err == nil {
		err = head.Attach(p)
	}
	if err != nil {
		s.log.WithError(err).WithField("pad", name).Error("track not exposed")
		return
	}
	s.log.WithFields(logrus.Fields{"pad": name, "codec": codec.MimeType}).Info("track received")

	select {
	case s.tracks <- &router.Track{Name: name, Pad: head.Pad(), Media: format.Media}:
	case <-ctx.Done():
		head.Close()
		return
	}

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		// 最初のキーフレームを早く得るため
		if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}); err != nil {
			logging.DebugLog("PLI failed: %v\n", err)
		}
	}
	if err := streams.AddTrack(track, codec, head); err != nil {
		head.Close()
		s.log.WithError(err).WithField("pad", name).Warn("track not read")
	}
}

// DebugLogTrack logs a negotiated track at debug level.
func DebugLogTrack(kind webrtc.RTPCodecType, codec webrtc.RTPCodecParameters) {
	logging.DebugLog("Track received - Type: %s, Codec: %s, PT: %d\n", kind, codec.MimeType, codec.PayloadType)
}
