package session

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Logger is where the monitor reports events.
type Logger interface {
	Add(format string, args ...interface{})
}

// Monitor reacts to signaling events: it logs each one and bounds the
// latency of a transport once it is ready.
type Monitor struct {
	log     Logger
	latency time.Duration
	counts  [TransportReady + 1]atomic.Uint64
}

// NewMonitor returns a monitor logging to log and applying TargetLatency.
func NewMonitor(log Logger) *Monitor {
	return &Monitor{log: log, latency: TargetLatency}
}

// Handle is the reaction table. It never blocks.
func (m *Monitor) Handle(ev Event) {
	if ev.Kind >= ProducerAdded && ev.Kind <= TransportReady {
		m.counts[ev.Kind].Add(1)
	}
	switch ev.Kind {
	case ProducerAdded:
		if len(ev.Meta) == 0 {
			m.log.Add("Producer added: producer_id=%s", ev.ProducerID)
			return
		}
		m.log.Add("Producer added: producer_id=%s, meta=%s", ev.ProducerID, formatMeta(ev.Meta))
	case SessionRequested:
		m.log.Add("Session requested: peer_id=%s, session_id=%s", ev.PeerID, ev.SessionID)
	case SessionStarted:
		m.log.Add("Session started: peer_id=%s, session_id=%s", ev.PeerID, ev.SessionID)
	case TransportReady:
		if ev.Transport == nil {
			m.log.Add("Transport ready without a transport handle")
			return
		}
		ev.Transport.SetLatency(m.latency)
		m.log.Add("Transport ready: latency set to %d ms", m.latency.Milliseconds())
	default:
		m.log.Add("Unknown signaling event %s", ev.Kind)
	}
}

// Count returns how many events of kind k were handled.
func (m *Monitor) Count(k Kind) uint64 {
	if k < ProducerAdded || k > TransportReady {
		return 0
	}
	return m.counts[k].Load()
}

func formatMeta(meta map[string]interface{}) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, meta[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
