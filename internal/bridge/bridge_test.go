package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/eventbus"
)

// fakeTerminal records tmux calls and simulates session existence.
type fakeTerminal struct {
	mu       sync.Mutex
	sessions map[string]bool
	sent     []string // "target\x00keys" per SendKeys
	piped    map[string]string
	killed   []string
	hasErr   error
	newGate  chan struct{} // when set, NewSession blocks until closed
}

func newFakeTerminal() *fakeTerminal {
	return &fakeTerminal{sessions: make(map[string]bool), piped: make(map[string]string)}
}

func (f *fakeTerminal) NewSession(name, workDir string) error {
	if f.newGate != nil {
		<-f.newGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[name] = true
	return nil
}

func (f *fakeTerminal) NewSessionWithCommand(name, workDir, command string) error {
	return f.NewSession(name, workDir)
}

func (f *fakeTerminal) HasSession(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasErr != nil {
		return false, f.hasErr
	}
	return f.sessions[name], nil
}

func (f *fakeTerminal) SendKeys(session, keys string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, session+"\x00"+keys)
	return nil
}

func (f *fakeTerminal) Interrupt(session string) error {
	return f.SendKeys(session, "C-c")
}

func (f *fakeTerminal) KillSession(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, name)
	f.killed = append(f.killed, name)
	return nil
}

func (f *fakeTerminal) PipePane(session, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.piped[session] = command
	return nil
}

func (f *fakeTerminal) StopPipePane(session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.piped, session)
	return nil
}

func (f *fakeTerminal) CapturePane(session string, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessions[session] {
		return "", errors.New("can't find session")
	}
	return "", nil
}

func (f *fakeTerminal) sentKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestBridge(t *testing.T, bus *eventbus.Bus) (*Bridge, *fakeTerminal) {
	t.Helper()
	dir := t.TempDir()
	term := newFakeTerminal()
	b, err := New(Options{
		Tmux:        term,
		Bus:         bus,
		StatePath:   filepath.Join(dir, "sessions.json"),
		FifoDir:     filepath.Join(dir, "fifo"),
		MaxSessions: 3,
		RingLines:   10,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, term
}

func mustCreate(t *testing.T, b *Bridge, projectPath string) *Session {
	t.Helper()
	s, err := b.Create(context.Background(), CreateOptions{ProjectPath: projectPath})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestCreateAndGet(t *testing.T) {
	b, term := newTestBridge(t, nil)
	s := mustCreate(t, b, "/work/repo")

	if s.Status != StatusIdle || s.WorkspaceType != WorkspacePrimary {
		t.Errorf("session = %+v", s)
	}
	if s.Name != "repo" {
		t.Errorf("name = %q, want derived repo", s.Name)
	}
	if !term.sessions[s.Target] {
		t.Errorf("tmux session %s was not created", s.Target)
	}

	got, err := b.Get(s.ID)
	if err != nil || got.ID != s.ID {
		t.Errorf("Get = %+v, %v", got, err)
	}
	if _, err := b.Get("nope"); adjerr.CodeOf(err) != adjerr.CodeNotFound {
		t.Errorf("Get(unknown) code = %v", adjerr.CodeOf(err))
	}
}

func TestCreateEnforcesSessionLimit(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	for i := 0; i < 3; i++ {
		mustCreate(t, b, "/work/repo")
	}
	_, err := b.Create(context.Background(), CreateOptions{ProjectPath: "/work/repo"})
	if adjerr.CodeOf(err) != adjerr.CodeValidation {
		t.Errorf("over-limit create code = %v, want VALIDATION_ERROR", adjerr.CodeOf(err))
	}
}

// The cap must hold even when Creates run concurrently and dwell in the
// slow tmux setup phase together.
func TestConcurrentCreatesRespectLimit(t *testing.T) {
	b, term := newTestBridge(t, nil)
	gate := make(chan struct{})
	term.newGate = gate

	results := make(chan error, 6)
	for i := 0; i < 6; i++ {
		go func() {
			_, err := b.Create(context.Background(), CreateOptions{ProjectPath: "/work/repo"})
			results <- err
		}()
	}

	// Give every goroutine time to hit either the cap or the gate, then
	// let the survivors finish.
	time.Sleep(50 * time.Millisecond)
	close(gate)

	created := 0
	for i := 0; i < 6; i++ {
		if err := <-results; err == nil {
			created++
		} else if adjerr.CodeOf(err) != adjerr.CodeValidation {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 3 {
		t.Errorf("created %d sessions, want exactly the limit of 3", created)
	}
	if b.Len() != 3 {
		t.Errorf("Len() = %d, want 3", b.Len())
	}
}

func TestAttachReplayAndInputLock(t *testing.T) {
	b, term := newTestBridge(t, nil)
	s := mustCreate(t, b, "/work/repo")

	live, _ := b.get(s.ID)
	live.ring.Append("earlier output")

	replay, err := b.Attach(s.ID, "client-1", true)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if len(replay) != 1 || replay[0] != "earlier output" {
		t.Errorf("replay = %v", replay)
	}
	if _, ok := term.piped[s.Target]; !ok {
		t.Error("first attach should start pipe-pane")
	}

	if _, err := b.Attach(s.ID, "client-2", false); err != nil {
		t.Fatalf("second Attach: %v", err)
	}

	// client-2 does not hold the lock.
	if _, err := b.Input(s.ID, "client-2", "hello"); adjerr.CodeOf(err) != adjerr.CodeUnauthorized {
		t.Errorf("locked input code = %v, want UNAUTHORIZED", adjerr.CodeOf(err))
	}

	if queued, err := b.Input(s.ID, "client-1", "hello"); err != nil || queued {
		t.Errorf("holder input queued=%v err=%v", queued, err)
	}
	if sent := term.sentKeys(); len(sent) != 1 || sent[0] != s.Target+"\x00hello" {
		t.Errorf("sent = %v", sent)
	}

	if err := b.StealInput(s.ID, "client-2"); err != nil {
		t.Fatalf("StealInput: %v", err)
	}
	if queued, err := b.Input(s.ID, "client-2", "mine now"); err != nil || queued {
		t.Errorf("post-steal input queued=%v err=%v", queued, err)
	}
}

func TestDetachStopsPipeAndPassesLock(t *testing.T) {
	b, term := newTestBridge(t, nil)
	s := mustCreate(t, b, "/work/repo")

	b.Attach(s.ID, "client-1", false)
	b.Attach(s.ID, "client-2", false)

	if err := b.Detach(s.ID, "client-1"); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	got, _ := b.Get(s.ID)
	if got.InputHolder != "client-2" {
		t.Errorf("input holder after detach = %q, want client-2", got.InputHolder)
	}
	if _, ok := term.piped[s.Target]; !ok {
		t.Error("pipe should survive while a client remains")
	}

	b.Detach(s.ID, "client-2")
	if _, ok := term.piped[s.Target]; ok {
		t.Error("last detach should stop pipe-pane")
	}
}

func TestInputQueuedWhileWorkingFlushesOnIdle(t *testing.T) {
	b, term := newTestBridge(t, nil)
	s := mustCreate(t, b, "/work/repo")
	b.Attach(s.ID, "client-1", false)

	live, _ := b.get(s.ID)
	b.applyStatus(live, StatusWorking)

	queued, err := b.Input(s.ID, "client-1", "next task please")
	if err != nil || !queued {
		t.Fatalf("mid-turn input queued=%v err=%v", queued, err)
	}
	if len(term.sentKeys()) != 0 {
		t.Fatal("queued input must not reach tmux yet")
	}

	b.applyStatus(live, StatusIdle)
	sent := term.sentKeys()
	if len(sent) != 1 || sent[0] != s.Target+"\x00next task please" {
		t.Errorf("flush sent = %v", sent)
	}
}

func TestInterruptKeepsQueue(t *testing.T) {
	b, term := newTestBridge(t, nil)
	s := mustCreate(t, b, "/work/repo")
	b.Attach(s.ID, "client-1", false)

	live, _ := b.get(s.ID)
	b.applyStatus(live, StatusWorking)
	b.Input(s.ID, "client-1", "queued text")

	if err := b.Interrupt(s.ID); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	sent := term.sentKeys()
	if len(sent) != 1 || sent[0] != s.Target+"\x00C-c" {
		t.Errorf("sent = %v", sent)
	}

	b.applyStatus(live, StatusIdle)
	sent = term.sentKeys()
	if len(sent) != 2 || sent[1] != s.Target+"\x00queued text" {
		t.Errorf("queued input lost across interrupt: %v", sent)
	}
}

func TestPermissionAnswer(t *testing.T) {
	b, term := newTestBridge(t, nil)
	s := mustCreate(t, b, "/work/repo")

	if err := b.Permission(s.ID, "req-1", true); err != nil {
		t.Fatalf("Permission: %v", err)
	}
	if err := b.Permission(s.ID, "req-2", false); err != nil {
		t.Fatalf("Permission: %v", err)
	}
	sent := term.sentKeys()
	if len(sent) != 2 || sent[0] != s.Target+"\x00y" || sent[1] != s.Target+"\x00n" {
		t.Errorf("sent = %v", sent)
	}
}

func TestKillEmitsSessionEnded(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	sub := bus.SubscribeBuffered(8)
	defer sub.Unsubscribe()

	b, term := newTestBridge(t, bus)
	s := mustCreate(t, b, "/work/repo")

	if err := b.Kill(s.ID); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if len(term.killed) != 1 || term.killed[0] != s.Target {
		t.Errorf("killed = %v", term.killed)
	}
	if _, err := b.Get(s.ID); adjerr.CodeOf(err) != adjerr.CodeNotFound {
		t.Error("killed session still resolvable")
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub.C:
			if ev.Topic != eventbus.TopicSessionEnded {
				continue
			}
			se := ev.Payload.(eventbus.SessionEvent)
			if se.SessionID != s.ID {
				t.Errorf("session:ended for %q, want %q", se.SessionID, s.ID)
			}
			return
		case <-deadline:
			t.Fatal("no session:ended event")
		}
	}
}

func TestRestartRediscovery(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "sessions.json")
	term := newFakeTerminal()

	b1, err := New(Options{Tmux: term, StatePath: statePath, FifoDir: filepath.Join(dir, "fifo")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	alive := mustCreate(t, b1, "/work/alpha")
	dead := mustCreate(t, b1, "/work/beta")
	if err := b1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// beta's tmux session vanished while we were down.
	term.mu.Lock()
	delete(term.sessions, dead.Target)
	term.mu.Unlock()

	b2, err := New(Options{Tmux: term, StatePath: statePath, FifoDir: filepath.Join(dir, "fifo")})
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	defer b2.Close()

	got, err := b2.Get(alive.ID)
	if err != nil || got.Status != StatusIdle {
		t.Errorf("rediscovered session = %+v, %v", got, err)
	}
	gone, err := b2.Get(dead.ID)
	if err != nil || gone.Status != StatusOffline {
		t.Errorf("vanished session = %+v, %v", gone, err)
	}
	if _, err := b2.Attach(gone.ID, "client-1", false); adjerr.CodeOf(err) != adjerr.CodeInvalidArg {
		t.Errorf("attach to offline session code = %v", adjerr.CodeOf(err))
	}
}

func TestCaptureThroughFifo(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	sub := bus.SubscribeBuffered(32)
	defer sub.Unsubscribe()

	b, _ := newTestBridge(t, bus)
	s := mustCreate(t, b, "/work/repo")

	if _, err := b.Attach(s.ID, "client-1", false); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	live, _ := b.get(s.ID)

	// Play the tmux side: write into the capture FIFO.
	writeFifo(t, live.fifoPath, "⏺ Bash(ls)\nplain output line\n")

	var frames []OutputFrame
	deadline := time.After(2 * time.Second)
	for len(frames) < 2 {
		select {
		case ev := <-sub.C:
			if ev.Topic != eventbus.TopicSessionOutput {
				continue
			}
			se := ev.Payload.(eventbus.SessionEvent)
			frames = append(frames, se.Payload.(OutputFrame))
		case <-deadline:
			t.Fatalf("timed out; got %d frames", len(frames))
		}
	}

	if frames[0].Raw != "⏺ Bash(ls)" {
		t.Errorf("frame 0 raw = %q", frames[0].Raw)
	}
	if ev, ok := eventOfType(frames[0].Events, EventToolUse); !ok || ev.Tool != "Bash" {
		t.Errorf("frame 0 events = %+v", frames[0].Events)
	}
	if frames[1].Raw != "plain output line" {
		t.Errorf("frame 1 raw = %q", frames[1].Raw)
	}

	if got := live.ring.Snapshot(); len(got) != 2 {
		t.Errorf("ring = %v", got)
	}
}

func writeFifo(t *testing.T, path, data string) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		// The bridge holds a read-write end, so this open cannot block.
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			done <- err
			return
		}
		defer f.Close()
		_, err = f.WriteString(data)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("writing fifo: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fifo write blocked")
	}
}
