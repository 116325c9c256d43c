package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/beads"
	"github.com/steveyegge/adjutant/internal/project"
	"github.com/steveyegge/adjutant/internal/store"
)

func (s *Server) registerQueryTools() {
	s.mcp.AddTool(mcp.NewTool("list_agents",
		mcp.WithDescription("List every connected agent session with its self-reported status."),
		mcp.WithString("status", mcp.Description("Filter: working, blocked, idle, done")),
	), s.handleListAgents)

	s.mcp.AddTool(mcp.NewTool("get_project_state",
		mcp.WithDescription("Summarize your project: registry entry, bead counts, epic progress."),
	), s.handleGetProjectState)

	s.mcp.AddTool(mcp.NewTool("search_messages",
		mcp.WithDescription("Full-text search over the message history, best match first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
		mcp.WithString("agent_id", mcp.Description("Restrict to one agent's conversation")),
		mcp.WithNumber("limit", mcp.Description("Max results, default 50")),
	), s.handleSearchMessages)
}

func (s *Server) handleListAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := s.conn(ctx); err != nil {
		return toolError(err)
	}
	status := req.GetString("status", "")
	if status != "" && !ValidAgentStatus(status) {
		return toolError(adjerr.Newf(adjerr.CodeValidation, "invalid status %q", status))
	}
	agents := s.registry.List(status)
	if agents == nil {
		agents = []*AgentConnection{}
	}
	return toolResult(agents)
}

// projectState is the get_project_state payload. Overview is nil when
// the project has no beads database; the rest still reports.
type projectState struct {
	Project  *project.Project       `json:"project,omitempty"`
	Binding  *ProjectContext        `json:"binding,omitempty"`
	Overview *beads.ProjectOverview `json:"overview,omitempty"`
	Agents   []*AgentConnection     `json:"agents"`
}

func (s *Server) handleGetProjectState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return toolError(err)
	}

	state := projectState{Binding: conn.Project}

	// Prefer the session's bound project; fall back to the registry's
	// active one.
	if conn.Project != nil && conn.Project.ProjectID != "" && s.deps.Projects != nil {
		if p, err := s.deps.Projects.Get(conn.Project.ProjectID); err == nil {
			state.Project = p
		}
	}
	if state.Project == nil && s.deps.Projects != nil {
		state.Project = s.deps.Projects.Active()
	}

	path := ""
	if conn.Project != nil && conn.Project.ProjectPath != "" {
		path = conn.Project.ProjectPath
	} else if state.Project != nil {
		path = state.Project.Path
	}
	if path != "" && s.deps.Gateway != nil {
		if ov, err := s.deps.Gateway.Overview(ctx, path); err == nil {
			state.Overview = ov
		}
	}

	state.Agents = s.registry.List("")
	if state.Agents == nil {
		state.Agents = []*AgentConnection{}
	}
	return toolResult(state)
}

func (s *Server) handleSearchMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := s.conn(ctx); err != nil {
		return toolError(err)
	}
	query, err := req.RequireString("query")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "query is required"))
	}
	msgs, err := s.deps.Store.Search(ctx, query, req.GetString("agent_id", ""), req.GetInt("limit", 0))
	if err != nil {
		return toolError(err)
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	return toolResult(msgs)
}
