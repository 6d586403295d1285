package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/session"
)

const whepTeardownTimeout = 5 * time.Second

// WHEPSignaller は WHEP エンドポイントからストリームを受信する。
// サーバーを唯一のプロデューサーとして扱う
type WHEPSignaller struct {
	URL    string
	Client *http.Client
}

// NewWHEPSignaller は新しい WHEP シグナラーを作成
func NewWHEPSignaller(endpoint string) *WHEPSignaller {
	return &WHEPSignaller{
		URL:    endpoint,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Run は offer/answer を交換し、ctx がキャンセルされるまで待機する。
// 終了時にリソースを DELETE する
func (w *WHEPSignaller) Run(ctx context.Context, host SessionHost) error {
	log := logging.For("whep")

	host.Emit(session.Event{
		Kind:       session.ProducerAdded,
		ProducerID: w.URL,
		Meta:       map[string]interface{}{"protocol": "whep"},
	})

	pc, err := host.NewPeerConnection(true)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	host.Emit(session.Event{Kind: session.SessionRequested, PeerID: w.URL, SessionID: sessionID})

	resource, answer, err := w.exchange(ctx, pc)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	host.DescribeRemote(answer)
	host.Emit(session.Event{Kind: session.SessionStarted, PeerID: w.URL, SessionID: sessionID})
	log.WithField("resource", resource).Info("WHEP session established")

	<-ctx.Done()
	w.teardown(resource)
	return nil
}

// exchange sends the local offer once ICE gathering is complete and applies
// the answer. It returns the session resource URL.
func (w *WHEPSignaller) exchange(ctx context.Context, pc *webrtc.PeerConnection) (string, string, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", "", err
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", "", err
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", "", ctx.Err()
	}

	local := pc.LocalDescription().SDP
	logging.DebugLog("\n=== SDP Offer ===\n%s\n=== End Offer ===\n\n", local)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader([]byte(local)))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := w.Client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("WHEP server returned status %d: %s", resp.StatusCode, string(body))
	}

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	if len(answer) == 0 {
		return "", "", errors.New("WHEP server returned an empty answer")
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  string(answer),
	}); err != nil {
		return "", "", err
	}

	return w.resolveResource(resp.Header.Get("Location")), string(answer), nil
}

// resolveResource makes a relative Location absolute against the endpoint.
func (w *WHEPSignaller) resolveResource(location string) string {
	if location == "" {
		return ""
	}
	base, err := url.Parse(w.URL)
	if err != nil {
		return location
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(ref).String()
}

func (w *WHEPSignaller) teardown(resource string) {
	if resource == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), whepTeardownTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, resource, nil)
	if err != nil {
		return
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		logging.DebugLog("WHEP teardown failed: %v\n", err)
		return
	}
	resp.Body.Close()
}
