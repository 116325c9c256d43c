package bridge

import (
	"context"
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/eventbus"
)

// Terminal is the tmux surface the bridge drives.
type Terminal interface {
	NewSession(name, workDir string) error
	NewSessionWithCommand(name, workDir, command string) error
	HasSession(name string) (bool, error)
	SendKeys(session, keys string) error
	Interrupt(session string) error
	KillSession(name string) error
	PipePane(session, command string) error
	StopPipePane(session string) error
	CapturePane(session string, lines int) (string, error)
}

// snapshotInterval paces capture-pane polling while no client is
// attached and pipe-pane is stopped.
const snapshotInterval = 10 * time.Second

// Options configure a Bridge.
type Options struct {
	Tmux        Terminal
	Bus         *eventbus.Bus
	StatePath   string // sessions.json
	FifoDir     string // where per-session FIFOs live
	MaxSessions int
	RingLines   int
	Logger      *log.Logger
}

// Bridge owns every terminal session: creation, capture, input routing,
// teardown. It is a process singleton.
type Bridge struct {
	mu       sync.Mutex
	sessions map[string]*Session
	reserved int // slots held by in-flight Creates
	closed   bool

	tmux        Terminal
	bus         *eventbus.Bus
	statePath   string
	fifoDir     string
	maxSessions int
	ringLines   int
	logger      *log.Logger

	// runGit prepares worktree/copy workspaces. Swappable for tests.
	runGit func(ctx context.Context, dir string, args ...string) error
}

// New loads the persisted session registry and rebinds to tmux sessions
// that still exist; vanished ones are kept as offline records.
func New(opts Options) (*Bridge, error) {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 10
	}
	if opts.RingLines <= 0 {
		opts.RingLines = 1000
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	b := &Bridge{
		sessions:    make(map[string]*Session),
		tmux:        opts.Tmux,
		bus:         opts.Bus,
		statePath:   opts.StatePath,
		fifoDir:     opts.FifoDir,
		maxSessions: opts.MaxSessions,
		ringLines:   opts.RingLines,
		logger:      opts.Logger,
		runGit:      execGit,
	}

	records, err := loadState(opts.StatePath)
	if err != nil {
		return nil, err
	}
	for _, s := range records {
		s.clients = make(map[string]bool)
		s.InputHolder = ""
		s.ring = newRing(b.ringLines)
		s.parser = newParser()
		alive, err := b.tmux.HasSession(s.Target)
		if err != nil {
			return nil, err
		}
		if alive {
			s.Status = StatusIdle
		} else {
			s.Status = StatusOffline
		}
		b.sessions[s.ID] = s
	}
	return b, nil
}

func execGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return adjerr.Wrap(adjerr.CodeSubprocess, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CreateOptions name the workspace and process for a new session.
type CreateOptions struct {
	ProjectPath   string
	Mode          string
	Name          string
	WorkspaceType string // primary (default), worktree, copy
	Command       string // agent process; empty starts a bare shell
}

// Create provisions a workspace, starts a detached tmux session in it,
// and registers the session.
func (b *Bridge) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	if opts.ProjectPath == "" {
		return nil, adjerr.New(adjerr.CodeValidation, "project_path is required")
	}
	switch opts.WorkspaceType {
	case "":
		opts.WorkspaceType = WorkspacePrimary
	case WorkspacePrimary, WorkspaceWorktree, WorkspaceCopy:
	default:
		return nil, adjerr.Newf(adjerr.CodeValidation, "unknown workspace type %q", opts.WorkspaceType)
	}

	// Reserve a slot before the slow workspace and tmux setup so
	// concurrent Creates cannot race past the cap together.
	b.mu.Lock()
	if len(b.sessions)+b.reserved >= b.maxSessions {
		b.mu.Unlock()
		return nil, adjerr.Newf(adjerr.CodeValidation, "session limit reached (%d)", b.maxSessions)
	}
	b.reserved++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.reserved--
		b.mu.Unlock()
	}()

	id := uuid.NewString()
	target := "adj-" + id[:8]
	name := opts.Name
	if name == "" {
		name = filepath.Base(opts.ProjectPath)
	}

	workDir, err := b.prepareWorkspace(ctx, opts, target)
	if err != nil {
		return nil, err
	}

	if opts.Command != "" {
		err = b.tmux.NewSessionWithCommand(target, workDir, opts.Command)
	} else {
		err = b.tmux.NewSession(target, workDir)
	}
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeSubprocess, err, "creating tmux session")
	}

	s := &Session{
		ID:            id,
		Name:          name,
		Target:        target,
		ProjectPath:   opts.ProjectPath,
		WorkDir:       workDir,
		Mode:          opts.Mode,
		Status:        StatusIdle,
		WorkspaceType: opts.WorkspaceType,
		CreatedAt:     nowStamp(),
		clients:       make(map[string]bool),
		ring:          newRing(b.ringLines),
		parser:        newParser(),
	}

	b.mu.Lock()
	b.sessions[id] = s
	err = b.persistLocked()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return snapshotSession(s), nil
}

// prepareWorkspace resolves the directory the session runs in. A
// worktree or copy is placed next to the project, suffixed by the tmux
// target so concurrent sessions never collide.
func (b *Bridge) prepareWorkspace(ctx context.Context, opts CreateOptions, target string) (string, error) {
	switch opts.WorkspaceType {
	case WorkspacePrimary:
		return opts.ProjectPath, nil
	case WorkspaceWorktree:
		dir := opts.ProjectPath + "-" + target
		if err := b.runGit(ctx, opts.ProjectPath, "worktree", "add", dir); err != nil {
			return "", err
		}
		return dir, nil
	case WorkspaceCopy:
		dir := opts.ProjectPath + "-" + target
		cmd := exec.CommandContext(ctx, "cp", "-a", opts.ProjectPath, dir)
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", adjerr.Wrap(adjerr.CodeSubprocess, err, strings.TrimSpace(string(out)))
		}
		return dir, nil
	}
	return "", adjerr.Newf(adjerr.CodeValidation, "unknown workspace type %q", opts.WorkspaceType)
}

// Attach adds a client to a session. The first client to attach takes
// the input lock and starts pipe-pane capture. With replay, the current
// ring contents are returned for the client to render before live
// frames arrive.
func (b *Bridge) Attach(sessionID, clientID string, replay bool) ([]string, error) {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return nil, adjerr.Newf(adjerr.CodeNotFound, "session %s not found", sessionID)
	}
	if s.Status == StatusOffline {
		b.mu.Unlock()
		return nil, adjerr.Newf(adjerr.CodeInvalidArg, "session %s is offline", sessionID)
	}
	first := len(s.clients) == 0
	s.clients[clientID] = true
	if s.InputHolder == "" {
		s.InputHolder = clientID
	}
	b.mu.Unlock()

	if first {
		if err := b.startCapture(s); err != nil {
			return nil, err
		}
	}
	if replay {
		return s.ring.Snapshot(), nil
	}
	return nil, nil
}

// Detach removes a client. When the last client leaves, pipe-pane stops
// and the session falls back to low-rate capture-pane snapshots.
func (b *Bridge) Detach(sessionID, clientID string) error {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return adjerr.Newf(adjerr.CodeNotFound, "session %s not found", sessionID)
	}
	delete(s.clients, clientID)
	if s.InputHolder == clientID {
		s.InputHolder = ""
		for id := range s.clients {
			s.InputHolder = id
			break
		}
	}
	last := len(s.clients) == 0
	b.mu.Unlock()

	if last {
		b.stopCapture(s)
	}
	return nil
}

// Input routes text to the session. The caller must hold the input
// lock. Mid-turn input is queued and delivered when the session
// returns to idle; the returned flag reports queueing.
func (b *Bridge) Input(sessionID, clientID, text string) (queued bool, err error) {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return false, adjerr.Newf(adjerr.CodeNotFound, "session %s not found", sessionID)
	}
	if s.InputHolder != clientID {
		b.mu.Unlock()
		return false, adjerr.Newf(adjerr.CodeUnauthorized, "client %s does not hold the input lock", clientID)
	}
	if s.Status == StatusWorking {
		s.inputQueue = append(s.inputQueue, text)
		b.mu.Unlock()
		return true, nil
	}
	target := s.Target
	b.mu.Unlock()

	if err := b.tmux.SendKeys(target, text); err != nil {
		return false, adjerr.Wrap(adjerr.CodeSubprocess, err, "sending input")
	}
	return false, nil
}

// StealInput transfers the input lock to clientID, which must be
// attached.
func (b *Bridge) StealInput(sessionID, clientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return adjerr.Newf(adjerr.CodeNotFound, "session %s not found", sessionID)
	}
	if !s.clients[clientID] {
		return adjerr.Newf(adjerr.CodeInvalidArg, "client %s is not attached", clientID)
	}
	s.InputHolder = clientID
	return nil
}

// Interrupt sends Ctrl-C to the session. Queued input is kept; it will
// deliver when the pane quiesces.
func (b *Bridge) Interrupt(sessionID string) error {
	s, err := b.get(sessionID)
	if err != nil {
		return err
	}
	if err := b.tmux.Interrupt(s.Target); err != nil {
		return adjerr.Wrap(adjerr.CodeSubprocess, err, "interrupting session")
	}
	return nil
}

// Permission answers a pending permission prompt with y or n.
func (b *Bridge) Permission(sessionID, requestID string, approved bool) error {
	s, err := b.get(sessionID)
	if err != nil {
		return err
	}
	answer := "n"
	if approved {
		answer = "y"
	}
	if err := b.tmux.SendKeys(s.Target, answer); err != nil {
		return adjerr.Wrap(adjerr.CodeSubprocess, err, "answering permission prompt")
	}
	b.mu.Lock()
	if live, ok := b.sessions[sessionID]; ok && live.Status == StatusWaitingPermission {
		live.Status = StatusWorking
	}
	b.mu.Unlock()
	b.publishStatus(sessionID, StatusWorking)
	return nil
}

// Kill terminates the tmux session and removes the record, emitting
// session:ended. The capture loop drains on its own once the pane is
// gone.
func (b *Bridge) Kill(sessionID string) error {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return adjerr.Newf(adjerr.CodeNotFound, "session %s not found", sessionID)
	}
	delete(b.sessions, sessionID)
	err := b.persistLocked()
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.stopCapture(s)
	if killErr := b.tmux.KillSession(s.Target); killErr != nil {
		// The pane may already be gone; the record is dropped either way.
		b.logger.Printf("bridge: kill %s: %v", s.Target, killErr)
	}
	if b.bus != nil {
		b.bus.Publish(eventbus.TopicSessionEnded, eventbus.SessionEvent{
			SessionID: sessionID,
			Payload:   map[string]string{"name": s.Name},
		})
	}
	return nil
}

// List returns session snapshots, newest first.
func (b *Bridge) List() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, snapshotSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// Len returns the number of registered sessions.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Get returns one session snapshot.
func (b *Bridge) Get(sessionID string) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, adjerr.Newf(adjerr.CodeNotFound, "session %s not found", sessionID)
	}
	return snapshotSession(s), nil
}

// Close stops every capture loop and persists the registry.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	err := b.persistLocked()
	b.mu.Unlock()

	for _, s := range sessions {
		b.stopCapture(s)
	}
	return err
}

func (b *Bridge) get(sessionID string) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, adjerr.Newf(adjerr.CodeNotFound, "session %s not found", sessionID)
	}
	return s, nil
}

// persistLocked writes the registry; callers hold b.mu.
func (b *Bridge) persistLocked() error {
	if b.statePath == "" {
		return nil
	}
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	return saveState(b.statePath, sessions)
}

func (b *Bridge) publishStatus(sessionID, status string) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(eventbus.TopicSessionStatus, eventbus.SessionEvent{
		SessionID: sessionID,
		Payload:   map[string]string{"status": status},
	})
}
