package internal

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/session"
)

// Signaller はシグナリングサーバーとのセッション確立を担当する
type Signaller interface {
	// Run はセッションを確立し、終了するまでブロックする。
	// 相手がセッションを終了した場合は nil を返す
	Run(ctx context.Context, host SessionHost) error
}

// SessionHost は Signaller から見たソース要素
type SessionHost interface {
	// NewPeerConnection はトランスポートを作成し TransportReady を通知する。
	// offerer が true の場合は受信専用トランシーバーを追加する
	NewPeerConnection(offerer bool) (*webrtc.PeerConnection, error)

	// Emit はセッションイベントを通知する
	Emit(ev session.Event)

	// Config はソースの設定を返す
	Config() session.SourceConfig

	// DescribeRemote は受信したSDPをログに出す
	DescribeRemote(sdp string)
}
