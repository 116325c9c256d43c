// Package feed provides the live activity feed TUI: a WebSocket client
// of the server's /ws/chat fanout rendered as a scrolling event stream.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame mirrors the /ws/chat wire format.
type Frame struct {
	Type         string          `json:"type"`
	Seq          uint64          `json:"seq"`
	ServerBootID string          `json:"server_boot_id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// ClientOptions configure a feed client.
type ClientOptions struct {
	// ServerURL is the HTTP base URL of the Adjutant server
	// (e.g. http://127.0.0.1:8377).
	ServerURL string
	APIKey    string
}

// Client maintains a WebSocket subscription to the server, reconnecting
// with its last-seen cursor so short drops lose nothing.
type Client struct {
	wsURL  string
	apiKey string

	mu      sync.Mutex
	lastSeq uint64
	bootID  string
	synced  bool

	frames chan Frame
	status chan string
}

// NewClient builds a client. Call Run to connect.
func NewClient(opts ClientOptions) (*Client, error) {
	base := strings.TrimSuffix(opts.ServerURL, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case base == "":
		return nil, fmt.Errorf("server URL is required")
	default:
		base = "ws://" + base
	}
	return &Client{
		wsURL:  base + "/ws/chat",
		apiKey: opts.APIKey,
		frames: make(chan Frame, 256),
		status: make(chan string, 8),
	}, nil
}

// Frames delivers decoded frames in arrival order.
func (c *Client) Frames() <-chan Frame { return c.frames }

// Status delivers human-readable connection state changes.
func (c *Client) Status() <-chan string { return c.status }

// Run connects and pumps frames until ctx is done, reconnecting with
// backoff on failure. The frames channel is closed on return.
func (c *Client) Run(ctx context.Context) {
	defer close(c.frames)
	backoff := time.Second
	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.note(fmt.Sprintf("disconnected: %v (retrying in %s)", err, backoff))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	auth := map[string]interface{}{
		"type":    "auth",
		"api_key": c.apiKey,
	}
	c.mu.Lock()
	if c.synced {
		auth["last_seen_seq"] = c.lastSeq
		auth["server_boot_id"] = c.bootID
	}
	c.mu.Unlock()
	if err := conn.WriteJSON(auth); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var first Frame
	if err := conn.ReadJSON(&first); err != nil {
		return err
	}
	if first.Type != "auth_ok" {
		return fmt.Errorf("server rejected auth (%s)", first.Type)
	}
	c.note("connected")

	// Watch ctx so a cancel unblocks the read below.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		c.mu.Lock()
		if f.Seq > 0 {
			c.lastSeq = f.Seq
		}
		if f.ServerBootID != "" {
			c.bootID = f.ServerBootID
		}
		c.synced = true
		c.mu.Unlock()

		select {
		case c.frames <- f:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) note(msg string) {
	select {
	case c.status <- msg:
	default:
	}
}
