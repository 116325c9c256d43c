// Package mcpserver hosts the MCP tool server agents connect to. Each
// agent session is an independent streamable-HTTP transport instance;
// identity is bound server-side at initialize and never read from tool
// parameters afterwards.
package mcpserver

import (
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/adjutant/internal/eventbus"
)

// Agent statuses an agent may self-report.
const (
	StatusWorking = "working"
	StatusBlocked = "blocked"
	StatusIdle    = "idle"
	StatusDone    = "done"
)

// ValidAgentStatus reports whether s is a self-reportable status.
func ValidAgentStatus(s string) bool {
	return s == StatusWorking || s == StatusBlocked || s == StatusIdle || s == StatusDone
}

// ProjectContext scopes a session's bead operations to one project.
type ProjectContext struct {
	ProjectID   string `json:"project_id,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
	BeadsDir    string `json:"beads_dir,omitempty"`
}

// AgentConnection is one connected agent session. SessionID is the
// transport-generated id; AgentID is resolved from connection-time
// headers and fixed for the session's lifetime.
type AgentConnection struct {
	SessionID   string          `json:"session_id"`
	AgentID     string          `json:"agent_id"`
	ConnectedAt time.Time       `json:"connected_at"`
	Project     *ProjectContext `json:"project,omitempty"`
	Status      string          `json:"status"`
	Task        string          `json:"task,omitempty"`
	BeadID      string          `json:"bead_id,omitempty"`
}

// Registry tracks live agent connections by session id. An agent id may
// hold several concurrent sessions; each session id maps to exactly one
// connection. Sessions do not survive a process restart.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*AgentConnection
	bus   *eventbus.Bus
}

// NewRegistry creates an empty session registry. bus may be nil.
func NewRegistry(bus *eventbus.Bus) *Registry {
	return &Registry{conns: make(map[string]*AgentConnection), bus: bus}
}

// Register binds an agent identity to a session and emits
// mcp:agent_connected. Re-registering a session id replaces the entry.
func (r *Registry) Register(sessionID, agentID string, project *ProjectContext) *AgentConnection {
	conn := &AgentConnection{
		SessionID:   sessionID,
		AgentID:     agentID,
		ConnectedAt: time.Now().UTC(),
		Project:     project,
		Status:      StatusIdle,
	}
	r.mu.Lock()
	r.conns[sessionID] = conn
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(eventbus.TopicAgentConnected, snapshot(conn))
	}
	return conn
}

// Remove drops a session and emits mcp:agent_disconnected. Removing an
// unknown session is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	conn, ok := r.conns[sessionID]
	if ok {
		delete(r.conns, sessionID)
	}
	r.mu.Unlock()

	if ok && r.bus != nil {
		r.bus.Publish(eventbus.TopicAgentDisconnected, eventbus.Disconnect{
			SessionID: sessionID,
			AgentID:   conn.AgentID,
		})
	}
}

// Resolve returns the connection bound to a session id.
func (r *Registry) Resolve(sessionID string) (*AgentConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[sessionID]
	if !ok {
		return nil, false
	}
	return snapshot(conn), true
}

// SetStatus updates a session's self-reported status and emits
// agent:status_changed.
func (r *Registry) SetStatus(sessionID, status, task, beadID string) (*AgentConnection, bool) {
	r.mu.Lock()
	conn, ok := r.conns[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	conn.Status = status
	conn.Task = task
	conn.BeadID = beadID
	out := snapshot(conn)
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(eventbus.TopicAgentStatusChanged, eventbus.StatusChange{
			AgentID: out.AgentID,
			Status:  status,
			Task:    task,
			BeadID:  beadID,
		})
	}
	return out, true
}

// List returns connections, optionally narrowed to one status, ordered
// by connection time.
func (r *Registry) List(status string) []*AgentConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*AgentConnection
	for _, conn := range r.conns {
		if status != "" && conn.Status != status {
			continue
		}
		out = append(out, snapshot(conn))
	}
	sortConnections(out)
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Reset drops every session without emitting events. Test hook.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.conns = make(map[string]*AgentConnection)
	r.mu.Unlock()
}

func snapshot(c *AgentConnection) *AgentConnection {
	out := *c
	if c.Project != nil {
		p := *c.Project
		out.Project = &p
	}
	return &out
}

func sortConnections(conns []*AgentConnection) {
	// Oldest connection first; session id breaks ties from the same instant.
	sort.Slice(conns, func(i, j int) bool {
		a, b := conns[i], conns[j]
		if !a.ConnectedAt.Equal(b.ConnectedAt) {
			return a.ConnectedAt.Before(b.ConnectedAt)
		}
		return a.SessionID < b.SessionID
	})
}
