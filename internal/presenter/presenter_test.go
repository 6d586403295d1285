package presenter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/eventlog"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/framecell"
)

type fakeController struct {
	frames *framecell.Cell
	log    *eventlog.Log

	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	startErr error
}

func newFakeController() *fakeController {
	return &fakeController{frames: framecell.New(), log: eventlog.New(eventlog.DefaultCapacity)}
}

func (c *fakeController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.startErr != nil {
		c.log.Add("Error: %v", c.startErr)
		return c.startErr
	}
	c.running = true
	c.log.Add("Pipeline started")
	return nil
}

func (c *fakeController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	if c.running {
		c.running = false
		c.log.Add("Pipeline stopped")
	}
}

func (c *fakeController) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *fakeController) Frames() *framecell.Cell { return c.frames }
func (c *fakeController) Log() *eventlog.Log      { return c.log }

// syncBuffer is a bytes.Buffer safe to read while Run writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func solidFrame(t *testing.T, w, h uint32) *framecell.VideoFrame {
	t.Helper()
	pixels := bytes.Repeat([]byte{0x10, 0x20, 0x30, 0xFF}, int(w*h))
	f, err := framecell.NewVideoFrame(w, h, pixels)
	require.NoError(t, err)
	return f
}

func TestViewerPollFrame(t *testing.T) {
	ctrl := newFakeController()
	v := NewViewer(ctrl)

	_, ok := v.PollFrame()
	assert.False(t, ok)

	ctrl.frames.Store(solidFrame(t, 4, 2))
	f, ok := v.PollFrame()
	require.True(t, ok)
	assert.Equal(t, uint32(4), f.Width)
	assert.Len(t, f.Pixels, 4*2*4)
}

func TestViewerStartStop(t *testing.T) {
	ctrl := newFakeController()
	v := NewViewer(ctrl)

	require.NoError(t, v.RequestStart())
	assert.True(t, v.IsRunning())
	v.RequestStop()
	assert.False(t, v.IsRunning())

	ctrl.startErr = errors.New("failed to build pipeline (create source): boom")
	assert.Error(t, v.RequestStart())
	assert.False(t, v.IsRunning())
	assert.Contains(t, v.PollLog()[len(v.PollLog())-1], "Error: failed to build pipeline")
}

func TestViewerPollNewLines(t *testing.T) {
	ctrl := newFakeController()
	v := NewViewer(ctrl)

	ctrl.log.Add("one")
	ctrl.log.Add("two")
	assert.Equal(t, []string{"one", "two"}, v.PollNewLines())
	assert.Empty(t, v.PollNewLines())

	ctrl.log.Add("three")
	assert.Equal(t, []string{"three"}, v.PollNewLines())
	assert.Equal(t, []string{"one", "two", "three"}, v.PollLog())
}

func TestViewerPollNewLinesAfterEviction(t *testing.T) {
	ctrl := newFakeController()
	ctrl.log = eventlog.New(3)
	v := NewViewer(ctrl)

	for i := 0; i < 5; i++ {
		ctrl.log.Add("line %d", i)
	}
	assert.Equal(t, []string{"line 2", "line 3", "line 4"}, v.PollNewLines())
}

func TestTerminalCommands(t *testing.T) {
	ctrl := newFakeController()
	out := &syncBuffer{}
	term := NewTerminal(NewViewer(ctrl), strings.NewReader("start\nbogus\nstop\nquit\n"), out, TerminalOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, term.Run(ctx))

	assert.Equal(t, 1, ctrl.starts)
	assert.GreaterOrEqual(t, ctrl.stops, 2, "explicit stop plus stop on exit")

	text := out.String()
	assert.Contains(t, text, Title)
	assert.Contains(t, text, `unknown command "bogus"`)
	assert.Contains(t, text, "Pipeline started")
	assert.Contains(t, text, "Pipeline stopped")
}

func TestTerminalFrameStatus(t *testing.T) {
	ctrl := newFakeController()
	out := &syncBuffer{}
	term := NewTerminal(NewViewer(ctrl), strings.NewReader(""), out, TerminalOptions{Tick: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- term.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "waiting for video frame")
	}, time.Second, 5*time.Millisecond)

	ctrl.frames.Store(solidFrame(t, 8, 6))
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "frame 8x6")
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, strings.Count(out.String(), "frame 8x6"), "unchanged status is printed once")
}

func TestTerminalWritesSnapshots(t *testing.T) {
	ctrl := newFakeController()
	ctrl.frames.Store(solidFrame(t, 3, 2))
	path := filepath.Join(t.TempDir(), "frame.png")

	term := NewTerminal(NewViewer(ctrl), strings.NewReader(""), &syncBuffer{}, TerminalOptions{
		Tick:             5 * time.Millisecond,
		SnapshotPath:     path,
		SnapshotInterval: time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, term.Run(ctx))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
	r, g, b, _ := img.At(1, 1).RGBA()
	assert.Equal(t, fmt.Sprint(0x10, 0x20, 0x30), fmt.Sprint(r>>8, g>>8, b>>8))
}
