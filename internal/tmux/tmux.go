// Package tmux wraps the tmux binary for terminal session operations.
package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Common errors, matched out of tmux stderr.
var (
	ErrNoServer           = errors.New("no tmux server running")
	ErrSessionExists      = errors.New("session already exists")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidSessionName = errors.New("invalid session name")
)

// validSessionNameRe rejects names that tmux mishandles silently (dots,
// colons) or that could reach a shell.
var validSessionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateSessionName checks that a session name contains only safe
// characters.
func validateSessionName(name string) error {
	if name == "" || !validSessionNameRe.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidSessionName, name, validSessionNameRe.String())
	}
	return nil
}

// sendKeysDebounce is the pause between pasting text and sending Enter.
// Without it a fast Enter can arrive before the paste is processed.
const sendKeysDebounce = 100 * time.Millisecond

// Tmux wraps tmux operations. The zero value is not usable; call New.
type Tmux struct {
	// run executes one tmux command and returns trimmed stdout.
	// Swappable for tests.
	run func(args ...string) (string, error)
}

// New creates a Tmux wrapper that shells out to the tmux binary.
func New() *Tmux {
	t := &Tmux{}
	t.run = t.execRun
	return t
}

// execRun executes a tmux command. Every invocation gets -u so UTF-8
// output survives a non-UTF-8 locale.
func (t *Tmux) execRun(args ...string) (string, error) {
	cmd := exec.Command("tmux", append([]string{"-u"}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", wrapError(err, stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// wrapError maps tmux stderr onto the sentinel errors.
func wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	if strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") ||
		strings.Contains(stderr, "no current target") ||
		strings.Contains(stderr, "server exited unexpectedly") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "duplicate session") {
		return ErrSessionExists
	}
	if strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "can't find session") {
		return ErrSessionNotFound
	}

	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// NewSession creates a new detached session.
func (t *Tmux) NewSession(name, workDir string) error {
	if err := validateSessionName(name); err != nil {
		return err
	}
	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	_, err := t.run(args...)
	return err
}

// NewSessionWithCommand creates a detached session whose pane runs
// command as its initial process. Unlike NewSession followed by
// SendKeys, the command cannot race the shell prompt.
func (t *Tmux) NewSessionWithCommand(name, workDir, command string) error {
	if err := validateSessionName(name); err != nil {
		return err
	}
	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	args = append(args, command)
	_, err := t.run(args...)
	return err
}

// HasSession reports whether the named session exists. A missing server
// means no sessions, not an error.
func (t *Tmux) HasSession(name string) (bool, error) {
	_, err := t.run("has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListSessions returns all session names.
func (t *Tmux) ListSessions() ([]string, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// KillSession terminates a session.
func (t *Tmux) KillSession(name string) error {
	_, err := t.run("kill-session", "-t", name)
	return err
}

// SendKeys types text into a session and presses Enter. The text goes
// in literal mode (-l) so special characters survive; Enter follows
// separately after a short debounce.
func (t *Tmux) SendKeys(session, keys string) error {
	if _, err := t.run("send-keys", "-t", session, "-l", keys); err != nil {
		return err
	}
	time.Sleep(sendKeysDebounce)
	_, err := t.run("send-keys", "-t", session, "Enter")
	return err
}

// SendKeysRaw sends key names (C-c, Escape, Enter) without literal mode
// and without an implicit Enter.
func (t *Tmux) SendKeysRaw(session, keys string) error {
	_, err := t.run("send-keys", "-t", session, keys)
	return err
}

// Interrupt sends Ctrl-C to the session's foreground process.
func (t *Tmux) Interrupt(session string) error {
	return t.SendKeysRaw(session, "C-c")
}

// CapturePane captures the last n lines of a pane.
func (t *Tmux) CapturePane(session string, lines int) (string, error) {
	return t.run("capture-pane", "-p", "-t", session, "-S", fmt.Sprintf("-%d", lines))
}

// CapturePaneLines captures the last n lines of a pane as a slice.
func (t *Tmux) CapturePaneLines(session string, lines int) ([]string, error) {
	out, err := t.CapturePane(session, lines)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// PipePane mirrors a pane's output into command (typically `cat >>`
// into a FIFO). Replaces any existing pipe on the pane.
func (t *Tmux) PipePane(session, command string) error {
	_, err := t.run("pipe-pane", "-t", session, "-o", command)
	return err
}

// StopPipePane removes the pane's output pipe.
func (t *Tmux) StopPipePane(session string) error {
	_, err := t.run("pipe-pane", "-t", session)
	return err
}

// PanePID returns the PID of a session's pane process.
func (t *Tmux) PanePID(session string) (int, error) {
	out, err := t.run("display-message", "-t", session+":0.0", "-p", "#{pane_pid}")
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parsing pane pid for %s: %w", session, err)
	}
	return pid, nil
}
