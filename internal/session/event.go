// Package session models the signaling lifecycle of one viewer connection:
// the events a signaller emits and the reactions to them.
package session

import (
	"fmt"
	"sync"
	"time"
)

// Kind tags an Event.
type Kind int

const (
	ProducerAdded Kind = iota + 1
	SessionRequested
	SessionStarted
	TransportReady
)

func (k Kind) String() string {
	switch k {
	case ProducerAdded:
		return "producer-added"
	case SessionRequested:
		return "session-requested"
	case SessionStarted:
		return "session-started"
	case TransportReady:
		return "transport-ready"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Transport is the negotiated media connection whose latency bound can be
// tuned once it exists.
type Transport interface {
	SetLatency(d time.Duration)
	Latency() time.Duration
}

// Event is one signaling lifecycle notification. Which fields are set depends
// on Kind: ProducerID/Meta for ProducerAdded, PeerID/SessionID for the session
// events, Transport for TransportReady.
type Event struct {
	Kind       Kind
	ProducerID string
	Meta       map[string]interface{}
	PeerID     string
	SessionID  string
	Transport  Transport
}

// Handler reacts to an event. It runs on the signaling goroutine and must not
// block, nor subscribe to or close the channel it is called from.
type Handler func(Event)

// Channel delivers events to its subscribers, synchronously and in emission order.
type Channel struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// NewChannel returns an open channel without subscribers.
func NewChannel() *Channel {
	return &Channel{}
}

// Subscribe registers h for every later event.
func (c *Channel) Subscribe(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.handlers = append(c.handlers, h)
	}
}

// Emit calls every subscriber with ev. It reports false once the channel is
// closed. Delivery holds the read lock, so no handler runs after Close returns.
func (c *Channel) Emit(ev Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	for _, h := range c.handlers {
		h(ev)
	}
	return true
}

// Close waits for a running Emit, then drops all subscribers; later
// emissions are ignored.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.handlers = nil
	c.mu.Unlock()
}
