package internal

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/elements"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
)

// RTPReader is the part of *webrtc.TrackRemote the stream manager uses.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// FrameSink はトラック1本分のフレームの受け取り先。*elements.Head が実装する
type FrameSink interface {
	Name() string
	Push(data []byte, keyframe bool) error
	Close()
}

// StreamManager はトラックごとの受信ループを管理する
type StreamManager struct {
	latency func() time.Duration
	onError func(error)

	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewStreamManager は新しいストリームマネージャーを作成。
// latency は各トラックのジッタバッファ上限、onError は読み込みエラーの通知先
func NewStreamManager(latency func() time.Duration, onError func(error)) *StreamManager {
	return &StreamManager{
		latency: latency,
		onError: onError,
		done:    make(chan struct{}),
	}
}

// AddTrack はトラックの受信を開始し、組み立てたフレームを sink に流す。
// sink はループ終了時に Close される
func (sm *StreamManager) AddTrack(track RTPReader, codec webrtc.RTPCodecParameters, sink FrameSink) error {
	processor, err := NewRTPProcessor(codec.MimeType, codec.ClockRate, codec.Channels, sm.latency())
	if err != nil {
		return err
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.stopped() {
		return errors.New("stream manager stopped")
	}
	sm.wg.Add(1)
	go sm.processStream(track, processor, sink)
	return nil
}

// Stats returns frames pushed downstream and frames nobody took.
func (sm *StreamManager) Stats() (pushed, dropped uint64) {
	return sm.pushed.Load(), sm.dropped.Load()
}

// Stop はすべての受信ループの終了を待つ。トラックの読み込みを先に
// 止めておく必要がある（PeerConnection.Close）
func (sm *StreamManager) Stop() {
	sm.mu.Lock()
	sm.stopOnce.Do(func() { close(sm.done) })
	sm.mu.Unlock()
	sm.wg.Wait()
}

func (sm *StreamManager) stopped() bool {
	select {
	case <-sm.done:
		return true
	default:
		return false
	}
}

func (sm *StreamManager) processStream(track RTPReader, processor *RTPProcessor, sink FrameSink) {
	defer sm.wg.Done()
	defer sink.Close()
	name := sink.Name()
	logKey := "stream." + name

	for {
		if sm.stopped() {
			return
		}

		rtpPacket, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) || sm.stopped() {
				logging.DebugLog("[%s] track ended: %v\n", name, err)
				return
			}
			sm.onError(fmt.Errorf("error reading %s RTP: %w", name, err))
			return
		}

		if d := sm.latency(); d != processor.MaxDelay() {
			logging.DebugLog("[%s] jitter buffer bound %v -> %v\n", name, processor.MaxDelay(), d)
			processor.SetMaxDelay(d)
		}

		for _, sample := range processor.ProcessRTPPacket(rtpPacket) {
			if err := sink.Push(sample.Data, sample.Keyframe); err != nil {
				// チェーンがまだ無い、または停止中
				sm.dropped.Add(1)
				if !elements.IsNotLinked(err) {
					logging.DebugLogPeriodic(logKey, 5*time.Second, "[%s] push failed: %v\n", name, err)
				}
				continue
			}
			sm.pushed.Add(1)
		}
	}
}
