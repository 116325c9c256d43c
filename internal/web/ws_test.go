package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/steveyegge/adjutant/internal/eventbus"
)

func TestBroadcastAssignsIncreasingSeq(t *testing.T) {
	h := NewHub(HubOptions{Bus: eventbus.New(), ReplaySize: 8})
	a := h.Broadcast("chat_message", map[string]string{"body": "one"})
	b := h.Broadcast("chat_message", map[string]string{"body": "two"})
	if a.Seq != 1 || b.Seq != 2 {
		t.Errorf("seqs = %d, %d, want 1, 2", a.Seq, b.Seq)
	}
	if a.ServerBootID == "" || a.ServerBootID != h.BootID() {
		t.Errorf("ServerBootID = %q, want %q", a.ServerBootID, h.BootID())
	}
}

func TestFramesSinceReplaysInOrder(t *testing.T) {
	h := NewHub(HubOptions{Bus: eventbus.New(), ReplaySize: 16})
	for i := 0; i < 5; i++ {
		h.Broadcast("agent_status", i)
	}

	frames, truncated := h.FramesSince(2)
	if truncated {
		t.Error("nothing evicted yet, replay should not be truncated")
	}
	if len(frames) != 3 {
		t.Fatalf("len(frames) = %d, want 3", len(frames))
	}
	for i, f := range frames {
		if want := uint64(3 + i); f.Seq != want {
			t.Errorf("frames[%d].Seq = %d, want %d", i, f.Seq, want)
		}
	}
}

func TestFramesSinceReportsEviction(t *testing.T) {
	h := NewHub(HubOptions{Bus: eventbus.New(), ReplaySize: 4})
	for i := 0; i < 10; i++ {
		h.Broadcast("session_raw", i)
	}

	// Frames 1..6 are gone; asking from 2 must flag the gap.
	frames, truncated := h.FramesSince(2)
	if !truncated {
		t.Error("expected truncated replay after eviction")
	}
	if len(frames) != 4 || frames[0].Seq != 7 {
		t.Errorf("frames = %+v, want seqs 7..10", frames)
	}

	// A cursor inside the retained window is fine.
	if _, truncated := h.FramesSince(8); truncated {
		t.Error("cursor inside the window should not be truncated")
	}
}

// A frame broadcast after a client registers is queued live, so the
// handshake replay must stop at the registration snapshot or the client
// sees it twice.
func TestReplayCappedAtRegistrationSnapshot(t *testing.T) {
	h := NewHub(HubOptions{Bus: eventbus.New(), ReplaySize: 16})
	for i := 0; i < 3; i++ {
		h.Broadcast("chat_message", i)
	}
	snapshot := h.Seq() // client registers here
	h.Broadcast("chat_message", "landed during the handshake")

	frames, truncated := h.framesBetween(1, snapshot)
	if truncated {
		t.Error("nothing evicted, replay should not be truncated")
	}
	if len(frames) != 2 || frames[0].Seq != 2 || frames[1].Seq != 3 {
		t.Fatalf("frames = %+v, want seqs 2,3 only", frames)
	}

	// Without the cap the late frame would be included.
	frames, _ = h.FramesSince(1)
	if len(frames) != 3 {
		t.Fatalf("FramesSince = %d frames, want all 3", len(frames))
	}
}

func TestHubTranslatesBusEvents(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	h := NewHub(HubOptions{Bus: bus, ReplaySize: 16})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	// Run subscribes asynchronously; publishing before that loses the event.
	subscribed := time.After(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		select {
		case <-subscribed:
			t.Fatal("hub never subscribed to the bus")
		case <-time.After(time.Millisecond):
		}
	}

	bus.Publish(eventbus.TopicAgentAnnouncement, map[string]string{"message": "shipping"})

	deadline := time.After(2 * time.Second)
	for {
		frames, _ := h.FramesSince(0)
		if len(frames) == 1 {
			if frames[0].Type != "announcement" {
				t.Fatalf("Type = %q, want announcement", frames[0].Type)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("bus event never reached the hub")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return f
}

func TestWebSocketAuthAndLiveFrames(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	h := NewHub(HubOptions{Bus: bus, APIKey: "sekrit", ReplaySize: 16})

	f := newFixture(t, func(o *Options) {
		o.Config.APIKey = "sekrit"
		o.Hub = h
	})
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	// Wrong key is rejected in-band.
	conn := dialHub(t, srv.URL)
	if err := conn.WriteJSON(map[string]string{"type": "auth", "api_key": "wrong"}); err != nil {
		t.Fatalf("writing auth: %v", err)
	}
	fr := readFrame(t, conn)
	if fr.Type != "error" || fr.Code != "UNAUTHORIZED" || fr.Message == "" {
		t.Fatalf("rejection frame = %+v, want type error with code UNAUTHORIZED", fr)
	}

	conn = dialHub(t, srv.URL)
	if err := conn.WriteJSON(map[string]string{"type": "auth", "api_key": "sekrit"}); err != nil {
		t.Fatalf("writing auth: %v", err)
	}
	ok := readFrame(t, conn)
	if ok.Type != "auth_ok" {
		t.Fatalf("Type = %q, want auth_ok", ok.Type)
	}
	var payload struct {
		ClientID     string `json:"client_id"`
		ServerBootID string `json:"server_boot_id"`
	}
	raw, _ := json.Marshal(ok.Payload)
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("auth_ok payload: %v", err)
	}
	if payload.ClientID == "" || payload.ServerBootID != h.BootID() {
		t.Errorf("auth_ok payload = %+v", payload)
	}

	h.Broadcast("chat_message", map[string]string{"body": "hello"})
	live := readFrame(t, conn)
	if live.Type != "chat_message" || live.Seq != 1 {
		t.Errorf("live frame = %+v, want chat_message seq 1", live)
	}
}

func TestWebSocketTypingRebroadcast(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	h := NewHub(HubOptions{Bus: bus, ReplaySize: 16})

	f := newFixture(t, func(o *Options) { o.Hub = h })
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	sender := dialHub(t, srv.URL)
	watcher := dialHub(t, srv.URL)
	for _, conn := range []*websocket.Conn{sender, watcher} {
		if err := conn.WriteJSON(map[string]string{"type": "auth"}); err != nil {
			t.Fatalf("writing auth: %v", err)
		}
		if fr := readFrame(t, conn); fr.Type != "auth_ok" {
			t.Fatalf("Type = %q, want auth_ok", fr.Type)
		}
	}

	if err := sender.WriteJSON(map[string]interface{}{
		"type":    "typing",
		"payload": map[string]string{"sender": "user"},
	}); err != nil {
		t.Fatalf("writing typing: %v", err)
	}

	fr := readFrame(t, watcher)
	if fr.Type != "typing" || fr.Seq != 1 {
		t.Errorf("frame = %+v, want typing seq 1", fr)
	}
}

func TestWebSocketReplayAfterReconnect(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	h := NewHub(HubOptions{Bus: bus, ReplaySize: 16})

	f := newFixture(t, func(o *Options) { o.Hub = h })
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	for i := 0; i < 5; i++ {
		h.Broadcast("agent_progress", i)
	}

	conn := dialHub(t, srv.URL)
	last := uint64(2)
	if err := conn.WriteJSON(map[string]interface{}{
		"type":           "auth",
		"last_seen_seq":  last,
		"server_boot_id": h.BootID(),
	}); err != nil {
		t.Fatalf("writing auth: %v", err)
	}
	if fr := readFrame(t, conn); fr.Type != "auth_ok" {
		t.Fatalf("Type = %q, want auth_ok", fr.Type)
	}
	for want := uint64(3); want <= 5; want++ {
		fr := readFrame(t, conn)
		if fr.Seq != want {
			t.Fatalf("replayed Seq = %d, want %d", fr.Seq, want)
		}
	}
}

func TestWebSocketBootMismatchForcesResync(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	h := NewHub(HubOptions{Bus: bus, ReplaySize: 16})

	f := newFixture(t, func(o *Options) { o.Hub = h })
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	h.Broadcast("chat_message", "stale")

	conn := dialHub(t, srv.URL)
	last := uint64(40)
	if err := conn.WriteJSON(map[string]interface{}{
		"type":           "auth",
		"last_seen_seq":  last,
		"server_boot_id": "a-previous-boot",
	}); err != nil {
		t.Fatalf("writing auth: %v", err)
	}
	if fr := readFrame(t, conn); fr.Type != "auth_ok" {
		t.Fatalf("Type = %q, want auth_ok", fr.Type)
	}
	if fr := readFrame(t, conn); fr.Type != "replay:truncated" {
		t.Fatalf("Type = %q, want replay:truncated", fr.Type)
	}
}

func TestLongPollReturnsFrames(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	h := NewHub(HubOptions{Bus: bus, ReplaySize: 16})
	f := newFixture(t, func(o *Options) { o.Hub = h })

	h.Broadcast("bead_updated", map[string]string{"id": "aj-101"})
	h.Broadcast("bead_closed", map[string]string{"id": "aj-102"})

	rec, env := f.do(t, "GET", "/api/events/poll?after_seq=1", nil, nil)
	if rec.Code != 200 {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Frames       []Frame `json:"frames"`
		Truncated    bool    `json:"truncated"`
		Seq          uint64  `json:"seq"`
		ServerBootID string  `json:"server_boot_id"`
	}
	remarshal(t, env.Data, &body)
	if len(body.Frames) != 1 || body.Frames[0].Seq != 2 {
		t.Fatalf("frames = %+v, want just seq 2", body.Frames)
	}
	if body.Seq != 2 || body.ServerBootID != h.BootID() {
		t.Errorf("cursor = %+v", body)
	}
}
