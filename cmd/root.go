package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Azunyan1111/go-webrtc-viewer/internal"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/controller"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/elements"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/eventlog"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/framecell"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/presenter"
)

var rootCmd = &cobra.Command{
	Use:   "webrtc-viewer",
	Short: "WebRTC low-latency receiver - view a live WebRTC stream in the terminal",
	Long: `webrtc-viewer receives a live WebRTC stream, decodes it and keeps the newest
video frame and a session log available to the terminal presenter.

Type start, stop or quit on stdin to control the pipeline.

Examples:
  webrtc-viewer -u ws://127.0.0.1:8443 --autostart
  webrtc-viewer -s whep -u http://example.com/whep --autostart --snapshot frame.png
  webrtc-viewer -r recording.webm --autostart --audio-output none`,
	SilenceUsage: true,
	RunE:         run,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	internal.RegisterFlags(rootCmd.Flags())
}

func run(cmd *cobra.Command, args []string) error {
	if err := internal.ParseArgs(); err != nil {
		return err
	}
	logging.Setup(os.Stderr, internal.DebugMode)

	events := eventlog.New(eventlog.DefaultCapacity).Mirror(logging.For("eventlog"))
	ctrl, err := controller.New(controller.Config{
		NewSource: internal.NewSourceFactory(),
		Elements:  elements.NewFactory(internal.ElementOptions()),
		Frames:    framecell.New(),
		Log:       events,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	viewer := presenter.NewViewer(ctrl)
	term := presenter.NewTerminal(viewer, os.Stdin, os.Stdout, presenter.TerminalOptions{
		SnapshotPath:     internal.SnapshotPath,
		SnapshotInterval: internal.SnapshotInterval,
	})

	if internal.AutoStart {
		// 失敗はイベントログに出る
		_ = viewer.RequestStart()
	}
	return term.Run(ctx)
}
