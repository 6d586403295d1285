package internal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/remko/go-mkvparse"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
)

type FrameType int

const (
	FrameTypeVideo FrameType = iota
	FrameTypeAudio
)

func (t FrameType) String() string {
	if t == FrameTypeAudio {
		return "audio"
	}
	return "video"
}

type Frame struct {
	Type        FrameType
	Data        []byte
	TimestampMs int64
	IsKeyframe  bool
}

// TrackInfo は Tracks 要素から読み取ったトラック情報
type TrackInfo struct {
	Number     int64
	CodecID    string
	Width      int
	Height     int
	SampleRate int
	Channels   int
}

// Matroska element IDs used by the reader.
const (
	idCluster       = mkvparse.ElementID(0x1F43B675)
	idTrackEntry    = mkvparse.ElementID(0xAE)
	idTrackNumber   = mkvparse.ElementID(0xD7)
	idCodecID       = mkvparse.ElementID(0x86)
	idPixelWidth    = mkvparse.ElementID(0xB0)
	idPixelHeight   = mkvparse.ElementID(0xBA)
	idChannels      = mkvparse.ElementID(0x9F)
	idSamplingFreq  = mkvparse.ElementID(0xB5)
	idTimecode      = mkvparse.ElementID(0xE7)
	idTimecodeScale = mkvparse.ElementID(0x2AD7B1)
	idSimpleBlock   = mkvparse.ElementID(0xA3)
	idBlock         = mkvparse.ElementID(0xA1)
)

const (
	defaultTimecodeScale = 1000000 // 1ms
	frameBufferSize      = 100
)

var errReaderClosed = errors.New("mkv reader closed")

// MKVReader は Matroska/WebM ファイルから VP8 と Opus のフレームを読み出す
type MKVReader struct {
	reader io.Reader
	frames chan *Frame
	done   chan struct{}
	err    error

	startOnce sync.Once
	closeOnce sync.Once

	mu    sync.Mutex
	video *TrackInfo
	audio *TrackInfo
}

func NewMKVReader(reader io.Reader) *MKVReader {
	return &MKVReader{
		reader: reader,
		frames: make(chan *Frame, frameBufferSize),
		done:   make(chan struct{}),
	}
}

// VideoTrack returns the VP8 track, or nil if none has been seen.
func (r *MKVReader) VideoTrack() *TrackInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.video
}

// AudioTrack returns the Opus track, or nil if none has been seen.
func (r *MKVReader) AudioTrack() *TrackInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audio
}

func (r *MKVReader) Start() {
	r.startOnce.Do(func() { go r.parse() })
}

// ReadFrame は次のフレームを返す。ファイル終端では io.EOF
func (r *MKVReader) ReadFrame() (*Frame, error) {
	r.Start()
	frame, ok := <-r.frames
	if !ok {
		if r.err != nil {
			return nil, r.err
		}
		return nil, io.EOF
	}
	return frame, nil
}

// Close stops the parser and closes the underlying reader if it can be closed.
func (r *MKVReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		if c, ok := r.reader.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (r *MKVReader) parse() {
	defer close(r.frames)

	h := &mkvHandler{reader: r, timecodeScale: defaultTimecodeScale}
	if err := mkvparse.Parse(r.reader, h); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, errReaderClosed) {
		select {
		case <-r.done:
		default:
			r.err = err
		}
	}
}

func (r *MKVReader) registerTrack(t TrackInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch t.CodecID {
	case "V_VP8":
		if r.video == nil {
			r.video = &t
			logging.DebugLog("Video track number: %d, codec: %s, %dx%d\n", t.Number, t.CodecID, t.Width, t.Height)
			return
		}
	case "A_OPUS":
		if r.audio == nil {
			r.audio = &t
			logging.DebugLog("Audio track number: %d, codec: %s, rate: %d, channels: %d\n", t.Number, t.CodecID, t.SampleRate, t.Channels)
			return
		}
	}
	logging.DebugLog("Skipping track %d (%s)\n", t.Number, t.CodecID)
}

func (r *MKVReader) trackType(number int64) (FrameType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.video != nil && r.video.Number == number:
		return FrameTypeVideo, true
	case r.audio != nil && r.audio.Number == number:
		return FrameTypeAudio, true
	}
	return 0, false
}

// mkvHandler receives parser callbacks.
type mkvHandler struct {
	reader *MKVReader

	inTrack       bool
	track         TrackInfo
	clusterTime   int64
	timecodeScale int64
}

func (h *mkvHandler) HandleMasterBegin(id mkvparse.ElementID, info mkvparse.ElementInfo) (bool, error) {
	switch id {
	case idTrackEntry:
		h.inTrack = true
		h.track = TrackInfo{}
	case idCluster:
		h.clusterTime = 0
	}
	return true, nil
}

func (h *mkvHandler) HandleMasterEnd(id mkvparse.ElementID, info mkvparse.ElementInfo) error {
	if id == idTrackEntry {
		h.reader.registerTrack(h.track)
		h.inTrack = false
	}
	return nil
}

func (h *mkvHandler) HandleString(id mkvparse.ElementID, value string, info mkvparse.ElementInfo) error {
	if id == idCodecID && h.inTrack {
		h.track.CodecID = value
	}
	return nil
}

func (h *mkvHandler) HandleInteger(id mkvparse.ElementID, value int64, info mkvparse.ElementInfo) error {
	switch id {
	case idTrackNumber:
		if h.inTrack {
			h.track.Number = value
		}
	case idPixelWidth:
		h.track.Width = int(value)
	case idPixelHeight:
		h.track.Height = int(value)
	case idChannels:
		h.track.Channels = int(value)
	case idTimecode:
		h.clusterTime = value
	case idTimecodeScale:
		if value > 0 {
			h.timecodeScale = value
		}
	}
	return nil
}

func (h *mkvHandler) HandleFloat(id mkvparse.ElementID, value float64, info mkvparse.ElementInfo) error {
	if id == idSamplingFreq {
		h.track.SampleRate = int(value)
	}
	return nil
}

func (h *mkvHandler) HandleDate(id mkvparse.ElementID, value time.Time, info mkvparse.ElementInfo) error {
	return nil
}

func (h *mkvHandler) HandleBinary(id mkvparse.ElementID, value []byte, info mkvparse.ElementInfo) error {
	if id != idSimpleBlock && id != idBlock {
		return nil
	}
	frame, err := h.parseBlock(value, id == idSimpleBlock)
	if err != nil || frame == nil {
		return err
	}
	select {
	case h.reader.frames <- frame:
		return nil
	case <-h.reader.done:
		return errReaderClosed
	}
}

// parseBlock decodes a (Simple)Block header. Laced blocks are skipped.
func (h *mkvHandler) parseBlock(data []byte, simple bool) (*Frame, error) {
	trackNum, n := parseVint(data)
	if n == 0 {
		return nil, fmt.Errorf("invalid track number in block")
	}
	if len(data) < n+3 {
		return nil, fmt.Errorf("block too short after track number")
	}

	frameType, ok := h.reader.trackType(int64(trackNum))
	if !ok {
		return nil, nil
	}

	relative := int64(int16(binary.BigEndian.Uint16(data[n : n+2])))
	flags := data[n+2]
	if flags&0x06 != 0 {
		logging.DebugLogPeriodic("mkv.lacing", 5*time.Second, "Skipping laced block on track %d\n", trackNum)
		return nil, nil
	}

	return &Frame{
		Type:        frameType,
		Data:        data[n+3:],
		TimestampMs: (h.clusterTime + relative) * h.timecodeScale / int64(time.Millisecond),
		// Block にはキーフレームフラグがない
		IsKeyframe: simple && flags&0x80 != 0,
	}, nil
}

func parseVint(data []byte) (uint64, int) {
	if len(data) == 0 {
		return 0, 0
	}

	first := data[0]
	var size int
	var mask byte

	switch {
	case first&0x80 != 0:
		size = 1
		mask = 0x7F
	case first&0x40 != 0:
		size = 2
		mask = 0x3F
	case first&0x20 != 0:
		size = 3
		mask = 0x1F
	case first&0x10 != 0:
		size = 4
		mask = 0x0F
	default:
		return 0, 0
	}

	if len(data) < size {
		return 0, 0
	}

	value := uint64(first & mask)
	for i := 1; i < size; i++ {
		value = (value << 8) | uint64(data[i])
	}

	return value, size
}
