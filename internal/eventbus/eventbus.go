// Package eventbus provides the in-process pub/sub bus that decouples
// Adjutant's components. The message store, MCP registry, bd gateway,
// session bridge, and project registry publish; the WebSocket fanout, SSE
// stream, and tests subscribe.
//
// Delivery is best-effort and in-order per subscriber. Publishers never
// block: each subscription has a bounded queue and drops its OLDEST pending
// event under pressure, keeping the stream fresh for live consumers. Drops
// are counted per subscription so tests and diagnostics can observe loss.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// Topic identifies an event stream on the bus.
type Topic string

const (
	TopicMessageCreated Topic = "message:created"
	TopicMessageRead    Topic = "message:read"

	TopicAgentConnected    Topic = "mcp:agent_connected"
	TopicAgentDisconnected Topic = "mcp:agent_disconnected"

	TopicAgentStatusChanged Topic = "agent:status_changed"
	TopicAgentProgress      Topic = "agent:progress"
	TopicAgentAnnouncement  Topic = "agent:announcement"

	TopicBeadCreated Topic = "bead:created"
	TopicBeadUpdated Topic = "bead:updated"
	TopicBeadClosed  Topic = "bead:closed"

	TopicProjectActivated    Topic = "project:activated"
	TopicProjectRegistered   Topic = "project:registered"
	TopicProjectUnregistered Topic = "project:unregistered"

	TopicSessionOutput     Topic = "session:output"
	TopicSessionStatus     Topic = "session:status"
	TopicSessionPermission Topic = "session:permission"
	TopicSessionEnded      Topic = "session:ended"
)

// Event is one bus message. Payload is the topic-specific value; compound
// payloads owned by no single component are defined below.
type Event struct {
	Topic   Topic
	Payload interface{}
}

// MessageRead is the payload for TopicMessageRead.
type MessageRead struct {
	MessageID string `json:"message_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
}

// StatusChange is the payload for TopicAgentStatusChanged.
type StatusChange struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
	Task    string `json:"task,omitempty"`
	BeadID  string `json:"bead_id,omitempty"`
}

// Progress is the payload for TopicAgentProgress.
type Progress struct {
	AgentID     string `json:"agent_id"`
	Task        string `json:"task"`
	Percentage  int    `json:"percentage"`
	Description string `json:"description,omitempty"`
}

// Disconnect is the payload for TopicAgentDisconnected.
type Disconnect struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
}

// SessionEvent is the payload for the session:* topics.
type SessionEvent struct {
	SessionID string      `json:"session_id"`
	Payload   interface{} `json:"payload"`
}

// DefaultBuffer is the per-subscription queue depth.
const DefaultBuffer = 256

// Subscription is one subscriber's handle. Receive from C; call Unsubscribe
// when done. Drops reports how many events this subscription has lost.
type Subscription struct {
	C <-chan Event

	bus   *Bus
	id    int
	ch    chan Event
	drops atomic.Uint64
}

// Drops returns the number of events dropped from this subscription's queue.
func (s *Subscription) Drops() uint64 { return s.drops.Load() }

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(s.ch)
	}
}

// Bus is the in-process event bus. Thread-safe for concurrent publish and
// subscribe. The bus owns no data; it routes.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers a subscriber with the default queue depth.
func (b *Bus) Subscribe() *Subscription {
	return b.SubscribeBuffered(DefaultBuffer)
}

// SubscribeBuffered registers a subscriber with an explicit queue depth.
// Subscribing to a closed bus returns a subscription whose channel is
// already closed.
func (b *Bus) SubscribeBuffered(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return &Subscription{C: ch, bus: b, ch: ch}
	}

	b.nextID++
	sub := &Subscription{bus: b, id: b.nextID, ch: make(chan Event, buffer)}
	sub.C = sub.ch
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers the event to every subscription without blocking. A full
// queue sheds its oldest pending event to make room.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		// Queue full: evict the oldest event, then retry once. A concurrent
		// receiver can race the eviction; if the retry still fails the new
		// event is the one dropped. Either way exactly one event is lost.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- ev:
			sub.drops.Add(1)
		default:
			sub.drops.Add(1)
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// SubscriberCount returns the current number of subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
