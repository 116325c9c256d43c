package web

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/bridge"
	"github.com/steveyegge/adjutant/internal/eventbus"
)

// Frame is one message on the /ws/chat wire. Seq increases by one per
// frame for the life of the process; ServerBootID lets a reconnecting
// client detect a server restart and discard its cursor.
type Frame struct {
	Type         string      `json:"type"`
	Seq          uint64      `json:"seq"`
	ServerBootID string      `json:"server_boot_id"`
	Code         string      `json:"code,omitempty"`
	Message      string      `json:"message,omitempty"`
	Payload      interface{} `json:"payload,omitempty"`
}

// authRequest is the first frame a client must send after connecting.
type authRequest struct {
	Type         string  `json:"type"`
	APIKey       string  `json:"api_key"`
	LastSeenSeq  *uint64 `json:"last_seen_seq,omitempty"`
	ServerBootID string  `json:"server_boot_id,omitempty"`
}

const (
	clientSendBuffer = 256
	authReadTimeout  = 10 * time.Second
	writeTimeout     = 10 * time.Second
	pongTimeout      = 60 * time.Second
	pingInterval     = 30 * time.Second
)

type wsClient struct {
	id   string
	send chan Frame

	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// HubOptions configure the fanout hub.
type HubOptions struct {
	Bus        *eventbus.Bus
	APIKey     string
	ReplaySize int
	Logger     *log.Logger
}

// Hub fans bus events out to WebSocket clients and keeps a bounded
// replay ring so reconnecting clients can catch up by sequence number.
// The SSE and long-poll fallbacks read the same ring.
type Hub struct {
	bus      *eventbus.Bus
	apiKey   string
	bootID   string
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	seq     uint64
	ring    []Frame
	start   int
	count   int
	clients map[string]*wsClient
	closed  bool
}

// NewHub builds a hub. Call Run to start consuming the bus.
func NewHub(opts HubOptions) *Hub {
	if opts.ReplaySize < 1 {
		opts.ReplaySize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		bus:    opts.Bus,
		apiKey: opts.APIKey,
		bootID: uuid.NewString(),
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The REST layer already allows any origin; the socket
			// authenticates in-band.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ring:    make([]Frame, opts.ReplaySize),
		clients: make(map[string]*wsClient),
	}
}

// BootID identifies this server process on the wire.
func (h *Hub) BootID() string { return h.bootID }

// Run consumes the bus until ctx is done, translating events into
// frames and broadcasting them.
func (h *Hub) Run(ctx context.Context) {
	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case ev, ok := <-sub.C:
			if !ok {
				h.shutdown()
				return
			}
			for _, f := range framesFor(ev) {
				h.Broadcast(f.Type, f.Payload)
			}
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*wsClient)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// framesFor maps a bus event onto zero or more wire frames. Session
// output doubles up: one frame carries the parsed events, one the raw
// line for dumb terminal renderers.
func framesFor(ev eventbus.Event) []Frame {
	switch ev.Topic {
	case eventbus.TopicMessageCreated:
		return []Frame{{Type: "chat_message", Payload: ev.Payload}}
	case eventbus.TopicMessageRead:
		return []Frame{{Type: "message_read", Payload: ev.Payload}}
	case eventbus.TopicAgentConnected:
		return []Frame{{Type: "agent_connected", Payload: ev.Payload}}
	case eventbus.TopicAgentDisconnected:
		return []Frame{{Type: "agent_disconnected", Payload: ev.Payload}}
	case eventbus.TopicAgentStatusChanged:
		return []Frame{{Type: "agent_status", Payload: ev.Payload}}
	case eventbus.TopicAgentProgress:
		return []Frame{{Type: "agent_progress", Payload: ev.Payload}}
	case eventbus.TopicAgentAnnouncement:
		return []Frame{{Type: "announcement", Payload: ev.Payload}}
	case eventbus.TopicBeadCreated:
		return []Frame{{Type: "bead_created", Payload: ev.Payload}}
	case eventbus.TopicBeadUpdated:
		return []Frame{{Type: "bead_updated", Payload: ev.Payload}}
	case eventbus.TopicBeadClosed:
		return []Frame{{Type: "bead_closed", Payload: ev.Payload}}
	case eventbus.TopicProjectActivated:
		return []Frame{{Type: "project_activated", Payload: ev.Payload}}
	case eventbus.TopicProjectRegistered:
		return []Frame{{Type: "project_registered", Payload: ev.Payload}}
	case eventbus.TopicProjectUnregistered:
		return []Frame{{Type: "project_unregistered", Payload: ev.Payload}}
	case eventbus.TopicSessionStatus:
		return []Frame{{Type: "session_status", Payload: ev.Payload}}
	case eventbus.TopicSessionPermission:
		return []Frame{{Type: "session_permission", Payload: ev.Payload}}
	case eventbus.TopicSessionEnded:
		return []Frame{{Type: "session_ended", Payload: ev.Payload}}
	case eventbus.TopicSessionOutput:
		se, ok := ev.Payload.(eventbus.SessionEvent)
		if !ok {
			return nil
		}
		frame, ok := se.Payload.(bridge.OutputFrame)
		if !ok {
			return []Frame{{Type: "session_output", Payload: se}}
		}
		out := []Frame{{Type: "session_output", Payload: map[string]interface{}{
			"session_id": se.SessionID,
			"events":     frame.Events,
		}}}
		out = append(out, Frame{Type: "session_raw", Payload: map[string]interface{}{
			"session_id": se.SessionID,
			"raw":        frame.Raw,
		}})
		return out
	}
	return nil
}

// Broadcast assigns the next sequence number, records the frame in the
// replay ring, and fans it out. Clients that cannot keep up are
// disconnected rather than allowed to stall the rest.
func (h *Hub) Broadcast(frameType string, payload interface{}) Frame {
	h.mu.Lock()
	h.seq++
	f := Frame{Type: frameType, Seq: h.seq, ServerBootID: h.bootID, Payload: payload}
	idx := (h.start + h.count) % len(h.ring)
	h.ring[idx] = f
	if h.count < len(h.ring) {
		h.count++
	} else {
		h.start = (h.start + 1) % len(h.ring)
	}
	var stalled []*wsClient
	for _, c := range h.clients {
		select {
		case c.send <- f:
		default:
			stalled = append(stalled, c)
		}
	}
	for _, c := range stalled {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	for _, c := range stalled {
		h.logger.Printf("ws: dropping stalled client %s", c.id)
		c.close()
	}
	return f
}

// Seq returns the sequence number of the most recent frame.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// FramesSince returns the retained frames with Seq > afterSeq, oldest
// first. truncated reports that frames in the requested range have
// already been evicted, so the caller must treat its state as stale.
func (h *Hub) FramesSince(afterSeq uint64) (frames []Frame, truncated bool) {
	return h.framesBetween(afterSeq, math.MaxUint64)
}

// framesBetween is FramesSince with an upper bound. The handshake caps
// replay at the seq snapshotted when the client registered: anything
// newer is already in the client's live queue and must not be replayed
// a second time.
func (h *Hub) framesBetween(afterSeq, upTo uint64) (frames []Frame, truncated bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return nil, afterSeq < h.seq
	}
	oldest := h.ring[h.start].Seq
	if afterSeq+1 < oldest {
		truncated = true
	}
	for i := 0; i < h.count; i++ {
		f := h.ring[(h.start+i)%len(h.ring)]
		if f.Seq > afterSeq && f.Seq <= upTo {
			frames = append(frames, f)
		}
	}
	return frames, truncated
}

// ServeHTTP upgrades the connection and runs the client protocol: the
// client's first frame authenticates and optionally names the last
// sequence it saw; the server answers auth_ok, replays the gap, then
// streams live frames.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(authReadTimeout))
	var auth authRequest
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.Type != "auth" {
		writeFrame(conn, Frame{Type: "error", Code: string(adjerr.CodeValidation), Message: "first frame must be auth"})
		return
	}
	if h.apiKey != "" && auth.APIKey != h.apiKey {
		writeFrame(conn, Frame{Type: "error", Code: string(adjerr.CodeUnauthorized), Message: "invalid API key"})
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		send: make(chan Frame, clientSendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.clients[client.id] = client
	seq := h.seq
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client.id)
		h.mu.Unlock()
		client.close()
	}()

	ok := writeFrame(conn, Frame{Type: "auth_ok", ServerBootID: h.bootID, Payload: map[string]interface{}{
		"client_id":      client.id,
		"server_boot_id": h.bootID,
		"seq":            seq,
	}})
	if !ok {
		return
	}

	// Catch the client up before live frames. A cursor from a previous
	// server boot is meaningless, so a boot mismatch forces a full
	// resync just like an evicted range does.
	if auth.LastSeenSeq != nil {
		if auth.ServerBootID != "" && auth.ServerBootID != h.bootID {
			if !writeFrame(conn, Frame{Type: "replay:truncated", ServerBootID: h.bootID}) {
				return
			}
		} else {
			frames, truncated := h.framesBetween(*auth.LastSeenSeq, seq)
			if truncated {
				if !writeFrame(conn, Frame{Type: "replay:truncated", ServerBootID: h.bootID}) {
					return
				}
			}
			for _, f := range frames {
				if !writeFrame(conn, f) {
					return
				}
			}
		}
	}

	// Reader: after auth the client may send typing frames, which fan
	// out to everyone else; anything else is ignored. A read error means
	// the socket is gone.
	go func() {
		defer client.close()
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var in Frame
			if json.Unmarshal(data, &in) != nil {
				continue
			}
			if in.Type == "typing" {
				h.Broadcast("typing", in.Payload)
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-client.done:
			return
		case f := <-client.send:
			if !writeFrame(conn, f) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, f Frame) bool {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	data, err := json.Marshal(f)
	if err != nil {
		return false
	}
	return conn.WriteMessage(websocket.TextMessage, data) == nil
}
