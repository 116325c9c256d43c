// Package bridge manages terminal sessions: tmux panes running coding
// agents, their output capture and parsing, and input routing from
// dashboard clients.
package bridge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/adjutant/internal/adjerr"
)

// Terminal session statuses.
const (
	StatusIdle              = "idle"
	StatusWorking           = "working"
	StatusWaitingPermission = "waiting_permission"
	StatusOffline           = "offline"
)

// Workspace types for Create.
const (
	WorkspacePrimary  = "primary"
	WorkspaceWorktree = "worktree"
	WorkspaceCopy     = "copy"
)

// Session is one managed terminal session. The JSON-visible fields are
// persisted; runtime state (clients, ring, capture loop) is rebuilt on
// restart.
type Session struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Target        string `json:"target"` // tmux session name
	ProjectPath   string `json:"project_path"`
	WorkDir       string `json:"work_dir"`
	Mode          string `json:"mode,omitempty"`
	Status        string `json:"status"`
	WorkspaceType string `json:"workspace_type"`
	CreatedAt     string `json:"created_at"`
	LastActivity  string `json:"last_activity,omitempty"`

	Clients     []string `json:"clients,omitempty"`
	InputHolder string   `json:"input_holder,omitempty"`

	clients     map[string]bool
	inputQueue  []string
	ring        *ring
	parser      *parser
	pipeActive   bool
	fifoPath     string
	stopCapture  context.CancelFunc
	stopSnapshot context.CancelFunc
}

// snapshotSession copies the JSON-visible state, including the live
// client set, for callers outside the bridge lock.
func snapshotSession(s *Session) *Session {
	out := &Session{
		ID:            s.ID,
		Name:          s.Name,
		Target:        s.Target,
		ProjectPath:   s.ProjectPath,
		WorkDir:       s.WorkDir,
		Mode:          s.Mode,
		Status:        s.Status,
		WorkspaceType: s.WorkspaceType,
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.LastActivity,
		InputHolder:   s.InputHolder,
	}
	for id := range s.clients {
		out.Clients = append(out.Clients, id)
	}
	return out
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

type stateFile struct {
	Sessions []*Session `json:"sessions"`
}

// loadState reads the persisted session records. A missing file is an
// empty registry.
func loadState(path string) ([]*Session, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "reading session registry")
	}
	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "parsing session registry")
	}
	return f.Sessions, nil
}

// saveState writes the session records with a temp-file rename so a
// crash never leaves a torn registry.
func saveState(path string, sessions []*Session) error {
	records := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		records = append(records, snapshotSession(s))
	}
	data, err := json.MarshalIndent(stateFile{Sessions: records}, "", "  ")
	if err != nil {
		return adjerr.Wrap(adjerr.CodeStorage, err, "encoding session registry")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return adjerr.Wrap(adjerr.CodeStorage, err, "creating state dir")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return adjerr.Wrap(adjerr.CodeStorage, err, "writing session registry")
	}
	if err := os.Rename(tmp, path); err != nil {
		return adjerr.Wrap(adjerr.CodeStorage, err, "replacing session registry")
	}
	return nil
}
