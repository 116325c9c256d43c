package bridge

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/eventbus"
)

// OutputFrame is the session:output payload: the raw line as ground
// truth plus whatever the parser recognized in it.
type OutputFrame struct {
	Raw    string        `json:"raw"`
	Events []OutputEvent `json:"events,omitempty"`
}

// startCapture begins pipe-pane capture through a per-session FIFO. One
// reader goroutine per session; idempotent while a pipe is active.
func (b *Bridge) startCapture(s *Session) error {
	b.mu.Lock()
	if s.pipeActive {
		b.mu.Unlock()
		return nil
	}
	if s.stopSnapshot != nil {
		s.stopSnapshot()
		s.stopSnapshot = nil
	}
	b.mu.Unlock()

	if err := os.MkdirAll(b.fifoDir, 0o755); err != nil {
		return adjerr.Wrap(adjerr.CodeStorage, err, "creating fifo dir")
	}
	path := filepath.Join(b.fifoDir, s.Target+".fifo")
	os.Remove(path)
	if err := unix.Mkfifo(path, 0o600); err != nil && !errors.Is(err, unix.EEXIST) {
		return adjerr.Wrap(adjerr.CodeStorage, err, "creating capture fifo")
	}

	// O_RDWR keeps a write end open on our side, so the open never
	// blocks waiting for tmux and the reader never sees EOF between
	// pipe-pane restarts.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return adjerr.Wrap(adjerr.CodeStorage, err, "opening capture fifo")
	}

	if err := b.tmux.PipePane(s.Target, "cat >> "+path); err != nil {
		f.Close()
		return adjerr.Wrap(adjerr.CodeSubprocess, err, "starting pipe-pane")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	s.pipeActive = true
	s.fifoPath = path
	s.stopCapture = cancel
	b.mu.Unlock()

	go b.captureLoop(ctx, s, f)
	return nil
}

// stopCapture tears down pipe-pane and the reader, then falls back to
// low-rate capture-pane snapshots so liveness is still tracked with no
// clients attached.
func (b *Bridge) stopCapture(s *Session) {
	b.mu.Lock()
	wasActive := s.pipeActive
	s.pipeActive = false
	cancel := s.stopCapture
	s.stopCapture = nil
	if s.stopSnapshot != nil {
		s.stopSnapshot()
		s.stopSnapshot = nil
	}
	fifo := s.fifoPath
	s.fifoPath = ""
	b.mu.Unlock()

	if !wasActive {
		return
	}
	if cancel != nil {
		cancel()
	}
	if err := b.tmux.StopPipePane(s.Target); err != nil {
		b.logger.Printf("bridge: stop pipe-pane %s: %v", s.Target, err)
	}
	if fifo != "" {
		os.Remove(fifo)
	}

	snapCtx, snapCancel := context.WithCancel(context.Background())
	b.mu.Lock()
	stillHere := !b.closed && b.sessions[s.ID] == s
	if stillHere {
		s.stopSnapshot = snapCancel
	}
	b.mu.Unlock()
	if stillHere {
		go b.snapshotLoop(snapCtx, s)
	} else {
		snapCancel()
	}
}

// captureLoop reads FIFO lines until cancelled or the stream breaks.
// Closing the file is how cancellation unblocks the read.
func (b *Bridge) captureLoop(ctx context.Context, s *Session, f *os.File) {
	go func() {
		<-ctx.Done()
		f.Close()
	}()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.handleLine(s, scanner.Text())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		b.logger.Printf("bridge: capture %s: %v", s.Target, err)
	}
}

// handleLine appends a raw line to the ring, parses it, publishes the
// output frame, and applies any status side effects.
func (b *Bridge) handleLine(s *Session, line string) {
	s.ring.Append(line)
	events := s.parser.Feed(line)

	b.mu.Lock()
	s.LastActivity = nowStamp()
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Publish(eventbus.TopicSessionOutput, eventbus.SessionEvent{
			SessionID: s.ID,
			Payload:   OutputFrame{Raw: line, Events: events},
		})
	}

	for _, ev := range events {
		switch ev.Type {
		case EventStatus:
			b.applyStatus(s, sessionStatusFor(ev.Status))
		case EventPermissionRequest:
			b.applyStatus(s, StatusWaitingPermission)
			if b.bus != nil {
				b.bus.Publish(eventbus.TopicSessionPermission, eventbus.SessionEvent{
					SessionID: s.ID,
					Payload:   ev,
				})
			}
		}
	}
}

// sessionStatusFor maps parser activity onto session status. Thinking
// is a flavor of working at the session level.
func sessionStatusFor(activity string) string {
	if activity == activityIdle {
		return StatusIdle
	}
	return StatusWorking
}

// applyStatus records a status transition, publishes it, and on the
// working→idle edge delivers any queued input.
func (b *Bridge) applyStatus(s *Session, status string) {
	b.mu.Lock()
	if s.Status == status {
		b.mu.Unlock()
		return
	}
	s.Status = status
	var flush []string
	if status == StatusIdle && len(s.inputQueue) > 0 {
		flush = s.inputQueue
		s.inputQueue = nil
	}
	b.mu.Unlock()

	b.publishStatus(s.ID, status)
	for _, text := range flush {
		if err := b.tmux.SendKeys(s.Target, text); err != nil {
			b.logger.Printf("bridge: delivering queued input to %s: %v", s.Target, err)
			return
		}
	}
}

// snapshotLoop polls capture-pane while no client is attached, keeping
// last-activity fresh and noticing a vanished pane.
func (b *Bridge) snapshotLoop(ctx context.Context, s *Session) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.tmux.CapturePane(s.Target, 1); err != nil {
				b.applyStatus(s, StatusOffline)
				return
			}
			b.mu.Lock()
			s.LastActivity = nowStamp()
			b.mu.Unlock()
		}
	}
}
