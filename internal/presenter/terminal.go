package presenter

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/framecell"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
)

// Title is printed when the terminal starts.
const Title = "WebRTC low-latency receiver"

// DefaultTick is the redraw interval (about 30 Hz).
const DefaultTick = 33 * time.Millisecond

// TerminalOptions configures a Terminal.
type TerminalOptions struct {
	Tick             time.Duration
	SnapshotPath     string
	SnapshotInterval time.Duration
}

// Terminal draws the viewer state as text and reads start/stop/quit
// commands, one per line.
type Terminal struct {
	viewer *Viewer
	in     io.Reader
	out    io.Writer
	opts   TerminalOptions

	title   *color.Color
	errLine *color.Color
	status  *color.Color

	lastStatus   string
	lastSnapshot time.Time
	lastFrame    *framecell.VideoFrame
}

// NewTerminal creates a terminal presenter.
func NewTerminal(v *Viewer, in io.Reader, out io.Writer, opts TerminalOptions) *Terminal {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	return &Terminal{
		viewer:  v,
		in:      in,
		out:     out,
		opts:    opts,
		title:   color.New(color.FgCyan, color.Bold),
		errLine: color.New(color.FgRed),
		status:  color.New(color.FgYellow),
	}
}

// Run draws until ctx ends or "quit" is read. The pipeline is stopped on
// the way out.
func (t *Terminal) Run(ctx context.Context) error {
	defer t.viewer.RequestStop()

	t.title.Fprintln(t.out, Title)
	fmt.Fprintln(t.out, "commands: start, stop, quit")

	commands := make(chan string)
	go readCommands(t.in, commands)

	ticker := time.NewTicker(t.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.render(time.Now())
			return nil
		case cmd, ok := <-commands:
			if !ok {
				// stdin が閉じても描画は続ける
				commands = nil
				continue
			}
			if t.handle(cmd) {
				t.render(time.Now())
				return nil
			}
		case now := <-ticker.C:
			t.render(now)
		}
	}
}

func readCommands(in io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
}

// handle runs one command. It reports true for quit.
func (t *Terminal) handle(cmd string) bool {
	switch strings.ToLower(cmd) {
	case "":
	case "start":
		if err := t.viewer.RequestStart(); err != nil {
			logging.DebugLog("start request failed: %v\n", err)
		}
	case "stop":
		t.viewer.RequestStop()
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(t.out, "unknown command %q (start, stop, quit)\n", cmd)
	}
	return false
}

func (t *Terminal) render(now time.Time) {
	for _, line := range t.viewer.PollNewLines() {
		if strings.HasPrefix(line, "Error") {
			t.errLine.Fprintln(t.out, line)
		} else {
			fmt.Fprintln(t.out, line)
		}
	}

	frame, ok := t.viewer.PollFrame()
	state := "stopped"
	if t.viewer.IsRunning() {
		state = "running"
	}
	status := fmt.Sprintf("[%s] waiting for video frame…", state)
	if ok {
		status = fmt.Sprintf("[%s] frame %dx%d", state, frame.Width, frame.Height)
	}
	if status != t.lastStatus {
		t.status.Fprintln(t.out, status)
		t.lastStatus = status
	}

	if ok && t.opts.SnapshotPath != "" && frame != t.lastFrame && now.Sub(t.lastSnapshot) >= t.opts.SnapshotInterval {
		if err := WriteSnapshot(t.opts.SnapshotPath, frame); err != nil {
			t.errLine.Fprintf(t.out, "Error: snapshot: %v\n", err)
		}
		t.lastSnapshot = now
		t.lastFrame = frame
	}
}

// WriteSnapshot encodes frame as PNG. The file is replaced atomically.
func WriteSnapshot(path string, frame *framecell.VideoFrame) error {
	w, h := int(frame.Width), int(frame.Height)
	img := &image.RGBA{
		Pix:    frame.Pixels,
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.png")
	if err != nil {
		return err
	}
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
