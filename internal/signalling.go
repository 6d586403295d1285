package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/Azunyan1111/go-webrtc-viewer/internal/logging"
	"github.com/Azunyan1111/go-webrtc-viewer/internal/session"
)

// wsMessage は GStreamer webrtcsink シグナリングサーバーのメッセージ
type wsMessage struct {
	Type      string                 `json:"type"`
	PeerID    string                 `json:"peerId,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	Roles     []string               `json:"roles,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Producers []wsProducer           `json:"producers,omitempty"`
	SDP       *wsSDP                 `json:"sdp,omitempty"`
	ICE       *wsICE                 `json:"ice,omitempty"`
	Details   string                 `json:"details,omitempty"`
}

type wsProducer struct {
	ID   string                 `json:"id"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

type wsSDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type wsICE struct {
	Candidate     string `json:"candidate"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// WSSignaller speaks the GStreamer signalling protocol as a listener and
// consumes the first producer it is told about.
type WSSignaller struct {
	URL    string
	Dialer *websocket.Dialer
	Meta   map[string]interface{}
}

// NewWSSignaller は新しい WebSocket シグナラーを作成
func NewWSSignaller(endpoint string) *WSSignaller {
	return &WSSignaller{
		URL:    endpoint,
		Dialer: websocket.DefaultDialer,
		Meta:   map[string]interface{}{"name": "go-webrtc-viewer"},
	}
}

// wsSession はひとつの接続の状態
type wsSession struct {
	host SessionHost
	conn *websocket.Conn
	log  *logrus.Entry

	writeMu sync.Mutex

	seen       map[string]bool
	producerID string
	sessionID  string
	pc         *webrtc.PeerConnection
	pending    []webrtc.ICECandidateInit
}

// Run connects and serves the session until the producer ends it, the server
// reports an error or ctx is cancelled.
func (w *WSSignaller) Run(ctx context.Context, host SessionHost) error {
	conn, _, err := w.Dialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to connect to signalling server: %w", err)
	}
	defer conn.Close()

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-finished:
		}
	}()

	s := &wsSession{
		host: host,
		conn: conn,
		log:  logging.For("signalling"),
		seen: make(map[string]bool),
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("signalling connection lost: %w", err)
		}
		done, err := s.handle(&msg, w.Meta)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (s *wsSession) send(msg *wsMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// handle processes one server message. done reports that the session ended.
func (s *wsSession) handle(msg *wsMessage, meta map[string]interface{}) (done bool, err error) {
	logging.DebugLog("Signalling message: %s\n", msg.Type)

	switch msg.Type {
	case "welcome":
		s.log.WithField("peer_id", msg.PeerID).Info("registered with signalling server")
		if err := s.send(&wsMessage{Type: "setPeerStatus", Roles: []string{"listener"}, Meta: meta}); err != nil {
			return false, err
		}
		return false, s.send(&wsMessage{Type: "list"})

	case "list":
		for _, p := range msg.Producers {
			if err := s.producerSeen(p.ID, p.Meta); err != nil {
				return false, err
			}
		}

	case "peerStatusChanged":
		if hasRole(msg.Roles, "producer") {
			return false, s.producerSeen(msg.PeerID, msg.Meta)
		}

	case "sessionStarted":
		s.sessionID = msg.SessionID
		s.host.Emit(session.Event{Kind: session.SessionStarted, PeerID: msg.PeerID, SessionID: msg.SessionID})

	case "peer":
		if msg.SDP != nil {
			return false, s.handleSDP(msg.SessionID, msg.SDP)
		}
		if msg.ICE != nil {
			return false, s.handleICE(msg.ICE)
		}

	case "endSession":
		if s.sessionID == "" || msg.SessionID == s.sessionID {
			s.log.WithField("session_id", msg.SessionID).Info("session ended by producer")
			return true, nil
		}

	case "error":
		return false, fmt.Errorf("signalling server error: %s", msg.Details)

	default:
		s.log.WithField("type", msg.Type).Debug("ignoring signalling message")
	}
	return false, nil
}

func (s *wsSession) producerSeen(id string, meta map[string]interface{}) error {
	if id == "" || s.seen[id] {
		return nil
	}
	s.seen[id] = true
	s.host.Emit(session.Event{Kind: session.ProducerAdded, ProducerID: id, Meta: meta})

	if s.producerID != "" || !s.host.Config().ConnectToFirstProducer {
		return nil
	}
	s.producerID = id
	return s.send(&wsMessage{Type: "startSession", PeerID: id})
}

func (s *wsSession) handleSDP(sessionID string, desc *wsSDP) error {
	if desc.Type != "offer" {
		return fmt.Errorf("unexpected %s from producer", desc.Type)
	}
	if s.pc != nil {
		return fmt.Errorf("renegotiation is not supported")
	}
	if s.sessionID == "" {
		s.sessionID = sessionID
	}
	s.host.Emit(session.Event{Kind: session.SessionRequested, PeerID: s.producerID, SessionID: sessionID})
	s.host.DescribeRemote(desc.SDP)

	pc, err := s.host.NewPeerConnection(false)
	if err != nil {
		return err
	}
	s.pc = pc

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := c.ToJSON()
		ice := &wsICE{Candidate: cand.Candidate}
		if cand.SDPMLineIndex != nil {
			ice.SDPMLineIndex = *cand.SDPMLineIndex
		}
		if err := s.send(&wsMessage{Type: "peer", SessionID: sessionID, ICE: ice}); err != nil {
			logging.DebugLog("failed to send ICE candidate: %v\n", err)
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}); err != nil {
		return err
	}
	for _, c := range s.pending {
		if err := pc.AddICECandidate(c); err != nil {
			logging.DebugLog("failed to add ICE candidate: %v\n", err)
		}
	}
	s.pending = nil

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	logging.DebugLog("\n=== SDP Answer ===\n%s\n=== End Answer ===\n\n", answer.SDP)
	return s.send(&wsMessage{Type: "peer", SessionID: sessionID, SDP: &wsSDP{Type: "answer", SDP: answer.SDP}})
}

func (s *wsSession) handleICE(ice *wsICE) error {
	idx := ice.SDPMLineIndex
	c := webrtc.ICECandidateInit{Candidate: ice.Candidate, SDPMLineIndex: &idx}
	if s.pc == nil || s.pc.RemoteDescription() == nil {
		s.pending = append(s.pending, c)
		return nil
	}
	if err := s.pc.AddICECandidate(c); err != nil {
		logging.DebugLog("failed to add ICE candidate: %v\n", err)
	}
	return nil
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
