package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tinyzimmer/go-gst/gst"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/elements"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/pipeline"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/router"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/session"
)

// replayMaxWait caps a single pacing wait when timestamps jump.
const replayMaxWait = time.Second

// ReplaySource は録画ファイルをリアルタイムで再生するソース。
// WebRTCSource と同じトラック名とセッションイベントを出す
type ReplaySource struct {
	name       string
	path       string
	cfg        session.SourceConfig
	signalling *session.Channel
	tracks     chan *router.Track
	log        *logrus.Entry

	latency atomic.Int64

	mu     sync.Mutex
	origin *pipeline.Origin
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReplaySource creates a source that plays path.
func NewReplaySource(name, path string, cfg session.SourceConfig) *ReplaySource {
	s := &ReplaySource{
		name:       name,
		path:       path,
		cfg:        cfg,
		signalling: session.NewChannel(),
		tracks:     make(chan *router.Track, 2),
		log:        logging.For("replaysrc"),
	}
	s.latency.Store(int64(session.TargetLatency))
	return s
}

func (s *ReplaySource) Name() string                 { return s.name }
func (s *ReplaySource) Signalling() *session.Channel { return s.signalling }
func (s *ReplaySource) Tracks() <-chan *router.Track { return s.tracks }

// Latency is the lateness after which audio frames are dropped.
func (s *ReplaySource) Latency() time.Duration {
	return time.Duration(s.latency.Load())
}

// SetLatency implements session.Transport.
func (s *ReplaySource) SetLatency(d time.Duration) {
	s.latency.Store(int64(d))
	s.mu.Lock()
	origin := s.origin
	s.mu.Unlock()
	if origin != nil {
		origin.Latency()
	}
}

// Start adds the source to p and starts reading the file.
func (s *ReplaySource) Start(p *gst.Pipeline) error {
	origin, err := pipeline.NewOrigin(p, s.name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.origin, s.cancel, s.done = origin, cancel, done
	s.mu.Unlock()
	go func() {
		defer close(done)
		s.run(ctx, p, origin)
	}()
	return nil
}

// Stop ends playback and waits for the reader.
func (s *ReplaySource) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *ReplaySource) run(ctx context.Context, p *gst.Pipeline, origin *pipeline.Origin) {
	f, err := os.Open(s.path)
	if err != nil {
		origin.Error(err, "open replay file")
		return
	}
	reader := NewMKVReader(f)
	defer reader.Close()

	sessionID := uuid.NewString()
	s.signalling.Emit(session.Event{
		Kind:       session.ProducerAdded,
		ProducerID: s.path,
		Meta:       map[string]interface{}{"container": "matroska"},
	})
	s.signalling.Emit(session.Event{Kind: session.SessionRequested, PeerID: s.path, SessionID: sessionID})
	s.signalling.Emit(session.Event{Kind: session.TransportReady, Transport: s})
	s.signalling.Emit(session.Event{Kind: session.SessionStarted, PeerID: s.path, SessionID: sessionID})

	pacer := NewPacer(replayMaxWait)
	heads := make(map[FrameType]*elements.Head)
	defer func() {
		for _, h := range heads {
			h.Close()
		}
	}()

	for {
		frame, err := reader.ReadFrame()
		if errors.Is(err, io.EOF) {
			if ctx.Err() == nil {
				s.log.WithField("file", s.path).Info("replay finished")
				origin.EOS()
			}
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				origin.Error(fmt.Errorf("failed to read %s: %w", s.path, err), "mkv")
			}
			return
		}

		head, ok := heads[frame.Type]
		if !ok {
			if head = s.newHead(ctx, p, origin, frame.Type, reader); head == nil {
				return
			}
			heads[frame.Type] = head
		}

		pts := time.Duration(frame.TimestampMs) * time.Millisecond
		if frame.Type == FrameTypeAudio && pacer.ShouldDrop(pts, s.Latency()) {
			continue
		}
		if err := pacer.Wait(ctx, pts); err != nil {
			return
		}

		keyframe := frame.IsKeyframe
		if frame.Type == FrameTypeVideo {
			keyframe = IsKeyframe(elements.MediaVP8, frame.Data)
		}
		err = head.Push(frame.Data, keyframe)
		if err != nil && !elements.IsNotLinked(err) {
			logging.DebugLogPeriodic("replay.push", 5*time.Second, "Replay push on %s failed: %v\n", head.Name(), err)
		}
	}
}

// newHead adds the head for a track type to p and announces it. It returns
// nil when the head cannot be built or ctx ends first.
func (s *ReplaySource) newHead(ctx context.Context, p *gst.Pipeline, origin *pipeline.Origin, t FrameType, reader *MKVReader) *elements.Head {
	var format elements.Format
	if t == FrameTypeVideo {
		format = elements.Format{Media: elements.MediaVP8, Rate: 90000}
		if info := reader.VideoTrack(); info != nil {
			format.Width, format.Height = info.Width, info.Height
		}
	} else {
		format = elements.Format{Media: elements.MediaOpus, Rate: 48000, Channels: 2}
		if info := reader.AudioTrack(); info != nil && info.Channels > 0 {
			format.Channels = info.Channels
		}
	}

	name := fmt.Sprintf("%s_0", t)
	head, err := elements.NewHead(name, format, origin)
	if err == nil {
		err = head.Attach(p)
	}
	if err != nil {
		origin.Error(fmt.Errorf("track %s: %w", name, err), "replay head")
		return nil
	}
	s.log.WithFields(logrus.Fields{"pad": name, "format": format.String()}).Info("track found")

	select {
	case s.tracks <- &router.Track{Name: name, Pad: head.Pad(), Media: format.Media}:
		return head
	case <-ctx.Done():
		head.Close()
		return nil
	}
}
