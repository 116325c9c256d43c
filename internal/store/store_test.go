package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/eventbus"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "messages.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsert(t *testing.T, s *Store, p InsertParams) *Message {
	t.Helper()
	msg, err := s.Insert(context.Background(), p)
	if err != nil {
		t.Fatalf("Insert(%+v): %v", p, err)
	}
	return msg
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prio := 2
	msg := mustInsert(t, s, InsertParams{
		Sender:    "crew-alpha",
		Recipient: "user",
		Role:      RoleAgent,
		Body:      "build finished",
		ThreadID:  "thread-1",
		EventType: "status",
		Priority:  &prio,
		Metadata:  map[string]interface{}{"agentId": "imposter", "attempt": float64(3)},
	})

	if msg.ID == "" {
		t.Fatal("expected generated id")
	}
	if msg.DeliveryStatus != StatusUnread {
		t.Errorf("new message status = %q, want %q", msg.DeliveryStatus, StatusUnread)
	}
	if msg.CreatedAt == "" {
		t.Error("expected created_at to be set")
	}

	got, err := s.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Body != "build finished" || got.Sender != "crew-alpha" || got.ThreadID != "thread-1" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Priority == nil || *got.Priority != 2 {
		t.Errorf("priority = %v, want 2", got.Priority)
	}
	// Client-supplied metadata is stored verbatim and never interpreted.
	if got.Metadata["agentId"] != "imposter" {
		t.Errorf("metadata agentId = %v, want imposter", got.Metadata["agentId"])
	}
	if got.Metadata["attempt"] != float64(3) {
		t.Errorf("metadata attempt = %v, want 3", got.Metadata["attempt"])
	}
}

func TestGetUnknownID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "no-such-id")
	if adjerr.CodeOf(err) != adjerr.CodeNotFound {
		t.Errorf("Get unknown id: code = %q, want %q", adjerr.CodeOf(err), adjerr.CodeNotFound)
	}
}

func TestInsertValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bad := -1
	high := 5

	tests := []struct {
		name   string
		params InsertParams
	}{
		{"empty recipient", InsertParams{Sender: "a", Body: "hi"}},
		{"blank recipient", InsertParams{Sender: "a", Recipient: "  ", Body: "hi"}},
		{"empty body", InsertParams{Sender: "a", Recipient: "b"}},
		{"body one byte over limit", InsertParams{Sender: "a", Recipient: "b", Body: strings.Repeat("x", MaxBodyBytes+1)}},
		{"bad role", InsertParams{Sender: "a", Recipient: "b", Body: "hi", Role: "overlord"}},
		{"priority below range", InsertParams{Sender: "a", Recipient: "b", Body: "hi", Priority: &bad}},
		{"priority above range", InsertParams{Sender: "a", Recipient: "b", Body: "hi", Priority: &high}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Insert(ctx, tt.params)
			if adjerr.CodeOf(err) != adjerr.CodeValidation {
				t.Errorf("code = %q, want %q (err: %v)", adjerr.CodeOf(err), adjerr.CodeValidation, err)
			}
		})
	}
}

func TestInsertBodyAtLimit(t *testing.T) {
	s := newTestStore(t)
	msg := mustInsert(t, s, InsertParams{
		Sender:    "a",
		Recipient: "b",
		Body:      strings.Repeat("x", MaxBodyBytes),
	})
	got, err := s.Get(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Body) != MaxBodyBytes {
		t.Errorf("body length = %d, want %d", len(got.Body), MaxBodyBytes)
	}
}

func TestInsertDefaultsRole(t *testing.T) {
	s := newTestStore(t)
	msg := mustInsert(t, s, InsertParams{Sender: "a", Recipient: "b", Body: "hi"})
	if msg.Role != RoleAgent {
		t.Errorf("default role = %q, want %q", msg.Role, RoleAgent)
	}
}

func TestInsertEmitsEvent(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	s, err := Open(filepath.Join(t.TempDir(), "messages.db"), bus)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	msg := mustInsert(t, s, InsertParams{Sender: "a", Recipient: "b", Body: "hi"})

	select {
	case ev := <-sub.C:
		got, ok := ev.Payload.(*Message)
		if !ok {
			t.Fatalf("payload type = %T, want *Message", ev.Payload)
		}
		if got.ID != msg.ID {
			t.Errorf("event message id = %s, want %s", got.ID, msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no message:created event")
	}
}

func TestReadNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tick := base.Add(time.Duration(i) * time.Second)
		s.now = func() time.Time { return tick }
		mustInsert(t, s, InsertParams{Sender: "a", Recipient: "b", Body: fmt.Sprintf("msg %d", i)})
	}

	msgs, err := s.Read(context.Background(), ReadFilter{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("len = %d, want 5", len(msgs))
	}
	for i, want := range []string{"msg 4", "msg 3", "msg 2", "msg 1", "msg 0"} {
		if msgs[i].Body != want {
			t.Errorf("msgs[%d].Body = %q, want %q", i, msgs[i].Body, want)
		}
	}
}

func TestReadCursorPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 10; i++ {
		tick := base.Add(time.Duration(i) * time.Millisecond)
		s.now = func() time.Time { return tick }
		mustInsert(t, s, InsertParams{Sender: "a", Recipient: "b", Body: fmt.Sprintf("msg %d", i)})
	}

	page1, err := s.Read(ctx, ReadFilter{Limit: 4})
	if err != nil {
		t.Fatalf("Read page 1: %v", err)
	}
	if len(page1) != 4 {
		t.Fatalf("page 1 len = %d, want 4", len(page1))
	}

	last := page1[len(page1)-1]
	page2, err := s.Read(ctx, ReadFilter{Limit: 4, BeforeCreatedAt: last.CreatedAt, BeforeID: last.ID})
	if err != nil {
		t.Fatalf("Read page 2: %v", err)
	}
	if len(page2) != 4 {
		t.Fatalf("page 2 len = %d, want 4", len(page2))
	}

	seen := map[string]bool{}
	for _, m := range page1 {
		seen[m.ID] = true
	}
	for _, m := range page2 {
		if seen[m.ID] {
			t.Errorf("message %s (%q) appeared on both pages", m.ID, m.Body)
		}
	}
	if page2[0].Body != "msg 5" {
		t.Errorf("page 2 starts at %q, want msg 5", page2[0].Body)
	}
}

func TestReadCursorTieBreaksOnID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	a := mustInsert(t, s, InsertParams{Sender: "a", Recipient: "b", Body: "same instant 1"})
	b := mustInsert(t, s, InsertParams{Sender: "a", Recipient: "b", Body: "same instant 2"})
	if a.CreatedAt != b.CreatedAt {
		t.Fatalf("timestamps differ: %s vs %s", a.CreatedAt, b.CreatedAt)
	}

	ids := []string{a.ID, b.ID}
	sort.Strings(ids)
	lower, higher := ids[0], ids[1]

	page, err := s.Read(ctx, ReadFilter{Limit: 1, BeforeCreatedAt: a.CreatedAt, BeforeID: higher})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page) != 1 || page[0].ID != lower {
		t.Fatalf("cursor past higher id should yield lower id, got %+v", page)
	}

	page, err = s.Read(ctx, ReadFilter{BeforeCreatedAt: a.CreatedAt, BeforeID: lower})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("cursor past lower id should be empty, got %d rows", len(page))
	}
}

func TestReadFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, s, InsertParams{Sender: "crew-a", Recipient: "user", Body: "a1", ThreadID: "t1"})
	mustInsert(t, s, InsertParams{Sender: "user", Recipient: "crew-a", Body: "a2", ThreadID: "t1"})
	mustInsert(t, s, InsertParams{Sender: "crew-b", Recipient: "user", Body: "b1", ThreadID: "t2"})

	byThread, err := s.Read(ctx, ReadFilter{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("Read thread: %v", err)
	}
	if len(byThread) != 2 {
		t.Errorf("thread t1 len = %d, want 2", len(byThread))
	}

	byAgent, err := s.Read(ctx, ReadFilter{AgentID: "crew-b"})
	if err != nil {
		t.Fatalf("Read agent: %v", err)
	}
	if len(byAgent) != 1 || byAgent[0].Body != "b1" {
		t.Errorf("agent crew-b messages = %+v, want just b1", byAgent)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	msg := mustInsert(t, s, InsertParams{Sender: "a", Recipient: "b", Body: "hi"})

	if err := s.MarkRead(ctx, msg.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := s.MarkRead(ctx, msg.ID); err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}

	got, err := s.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DeliveryStatus != StatusRead {
		t.Errorf("status = %q, want %q", got.DeliveryStatus, StatusRead)
	}

	err = s.MarkRead(ctx, "no-such-id")
	if adjerr.CodeOf(err) != adjerr.CodeNotFound {
		t.Errorf("unknown id code = %q, want %q", adjerr.CodeOf(err), adjerr.CodeNotFound)
	}
}

func TestMarkReadBulk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, s, InsertParams{Sender: "x", Recipient: "crew-a", Body: "1"})
	mustInsert(t, s, InsertParams{Sender: "x", Recipient: "crew-a", Body: "2"})
	mustInsert(t, s, InsertParams{Sender: "x", Recipient: "crew-b", Body: "3"})

	n, err := s.MarkReadBulk(ctx, "crew-a")
	if err != nil {
		t.Fatalf("MarkReadBulk: %v", err)
	}
	if n != 2 {
		t.Errorf("marked = %d, want 2", n)
	}

	// Second sweep finds nothing left.
	n, err = s.MarkReadBulk(ctx, "crew-a")
	if err != nil {
		t.Fatalf("second MarkReadBulk: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep marked = %d, want 0", n)
	}

	counts, err := s.UnreadCounts(ctx, "")
	if err != nil {
		t.Fatalf("UnreadCounts: %v", err)
	}
	if len(counts) != 1 || counts[0].AgentID != "crew-b" || counts[0].Count != 1 {
		t.Errorf("counts = %+v, want crew-b:1 only", counts)
	}
}

func TestListThreads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	at := func(i int) {
		tick := base.Add(time.Duration(i) * time.Second)
		s.now = func() time.Time { return tick }
	}

	at(0)
	mustInsert(t, s, InsertParams{Sender: "crew-a", Recipient: "user", Body: "t1 first", ThreadID: "t1"})
	at(1)
	mustInsert(t, s, InsertParams{Sender: "user", Recipient: "crew-a", Body: "t1 latest", ThreadID: "t1"})
	at(2)
	mustInsert(t, s, InsertParams{Sender: "crew-b", Recipient: "user", Body: "t2 only", ThreadID: "t2"})
	at(3)
	mustInsert(t, s, InsertParams{Sender: "crew-b", Recipient: "user", Body: "no thread"})

	threads, err := s.ListThreads(ctx, "")
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("len = %d, want 2 (unthreaded messages excluded)", len(threads))
	}
	if threads[0].ThreadID != "t2" {
		t.Errorf("threads[0] = %s, want t2 (newest activity first)", threads[0].ThreadID)
	}
	if threads[1].ThreadID != "t1" || threads[1].Count != 2 || threads[1].LatestBody != "t1 latest" {
		t.Errorf("t1 summary = %+v, want count 2 latest %q", threads[1], "t1 latest")
	}
	if threads[1].AgentID != "crew-a" {
		t.Errorf("t1 agent = %q, want crew-a", threads[1].AgentID)
	}

	mine, err := s.ListThreads(ctx, "crew-a")
	if err != nil {
		t.Fatalf("ListThreads(crew-a): %v", err)
	}
	if len(mine) != 1 || mine[0].ThreadID != "t1" {
		t.Errorf("crew-a threads = %+v, want just t1", mine)
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, s, InsertParams{Sender: "crew-a", Recipient: "user", Body: "deploy pipeline is green"})
	mustInsert(t, s, InsertParams{Sender: "crew-b", Recipient: "user", Body: "tests are red on main"})
	mustInsert(t, s, InsertParams{Sender: "crew-b", Recipient: "user", Body: "deploy blocked on review"})

	hits, err := s.Search(ctx, "deploy", "", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}

	scoped, err := s.Search(ctx, "deploy", "crew-b", 0)
	if err != nil {
		t.Fatalf("Search scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Body != "deploy blocked on review" {
		t.Errorf("scoped hits = %+v", scoped)
	}

	none, err := s.Search(ctx, "kubernetes", "", 0)
	if err != nil {
		t.Fatalf("Search miss: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("miss returned %d hits", len(none))
	}

	_, err = s.Search(ctx, "   ", "", 0)
	if adjerr.CodeOf(err) != adjerr.CodeValidation {
		t.Errorf("blank query code = %q, want %q", adjerr.CodeOf(err), adjerr.CodeValidation)
	}

	_, err = s.Search(ctx, `"unterminated`, "", 0)
	if adjerr.CodeOf(err) != adjerr.CodeValidation {
		t.Errorf("malformed query code = %q, want %q (err: %v)", adjerr.CodeOf(err), adjerr.CodeValidation, err)
	}
}

func TestUnreadCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, s, InsertParams{Sender: "x", Recipient: "crew-a", Body: "1"})
	mustInsert(t, s, InsertParams{Sender: "x", Recipient: "crew-a", Body: "2"})
	m := mustInsert(t, s, InsertParams{Sender: "x", Recipient: "crew-b", Body: "3"})
	mustInsert(t, s, InsertParams{Sender: "x", Recipient: "crew-b", Body: "4"})
	if err := s.MarkRead(ctx, m.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	counts, err := s.UnreadCounts(ctx, "")
	if err != nil {
		t.Fatalf("UnreadCounts: %v", err)
	}
	want := map[string]int{"crew-a": 2, "crew-b": 1}
	if len(counts) != len(want) {
		t.Fatalf("counts = %+v, want %v", counts, want)
	}
	for _, c := range counts {
		if want[c.AgentID] != c.Count {
			t.Errorf("%s = %d, want %d", c.AgentID, c.Count, want[c.AgentID])
		}
	}

	one, err := s.UnreadCounts(ctx, "crew-b")
	if err != nil {
		t.Fatalf("UnreadCounts(crew-b): %v", err)
	}
	if len(one) != 1 || one[0].Count != 1 {
		t.Errorf("crew-b counts = %+v, want single row count 1", one)
	}
}

func TestTimestampOrderIsLexicographic(t *testing.T) {
	// The fixed-width layout must sort the same as time order, including
	// sub-second values whose RFC3339Nano forms would compare wrongly.
	times := []time.Time{
		time.Date(2026, 1, 2, 3, 4, 5, 120000000, time.UTC),
		time.Date(2026, 1, 2, 3, 4, 5, 123000000, time.UTC),
		time.Date(2026, 1, 2, 3, 4, 5, 500000000, time.UTC),
	}
	prev := ""
	for _, ts := range times {
		got := ts.Format(timeLayout)
		if prev != "" && !(prev < got) {
			t.Errorf("%q should sort before %q", prev, got)
		}
		prev = got
	}
}
