package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/eventbus"
	"github.com/steveyegge/adjutant/internal/store"
)

// Announcement types.
const (
	AnnounceCompletion = "completion"
	AnnounceBlocker    = "blocker"
	AnnounceQuestion   = "question"
)

func (s *Server) registerStatusTools() {
	s.mcp.AddTool(mcp.NewTool("set_status",
		mcp.WithDescription("Report your current status so the dashboard reflects it."),
		mcp.WithString("status", mcp.Required(), mcp.Description("One of: working, blocked, idle, done")),
		mcp.WithString("task", mcp.Description("What you are working on")),
		mcp.WithString("bead_id", mcp.Description("The bead you are working on")),
	), s.handleSetStatus)

	s.mcp.AddTool(mcp.NewTool("report_progress",
		mcp.WithDescription("Report incremental progress on your current task."),
		mcp.WithString("task", mcp.Required(), mcp.Description("Task being worked")),
		mcp.WithNumber("percentage", mcp.Required(), mcp.Description("Completion, 0..100")),
		mcp.WithString("description", mcp.Description("What just happened")),
	), s.handleReportProgress)

	s.mcp.AddTool(mcp.NewTool("announce",
		mcp.WithDescription("Broadcast an announcement to every dashboard client."),
		mcp.WithString("type", mcp.Required(), mcp.Description("One of: completion, blocker, question")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short headline")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Announcement body")),
		mcp.WithString("bead_id", mcp.Description("Related bead")),
	), s.handleAnnounce)
}

func (s *Server) handleSetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return toolError(err)
	}
	status, err := req.RequireString("status")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "status is required"))
	}
	if !ValidAgentStatus(status) {
		return toolError(adjerr.Newf(adjerr.CodeValidation, "invalid status %q", status))
	}
	updated, ok := s.registry.SetStatus(conn.SessionID, status, req.GetString("task", ""), req.GetString("bead_id", ""))
	if !ok {
		return toolError(adjerr.Newf(adjerr.CodeInvalidArg, "unknown session %s", shortID(conn.SessionID)))
	}
	return toolResult(updated)
}

func (s *Server) handleReportProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return toolError(err)
	}
	task, err := req.RequireString("task")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "task is required"))
	}
	pct := req.GetInt("percentage", -1)
	if pct < 0 || pct > 100 {
		return toolError(adjerr.Newf(adjerr.CodeValidation, "percentage %d out of range 0..100", pct))
	}
	progress := eventbus.Progress{
		AgentID:     conn.AgentID,
		Task:        task,
		Percentage:  pct,
		Description: req.GetString("description", ""),
	}
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(eventbus.TopicAgentProgress, progress)
	}
	return toolResult(progress)
}

func (s *Server) handleAnnounce(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return toolError(err)
	}
	typ, err := req.RequireString("type")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "type is required"))
	}
	switch typ {
	case AnnounceCompletion, AnnounceBlocker, AnnounceQuestion:
	default:
		return toolError(adjerr.Newf(adjerr.CodeValidation, "invalid announcement type %q", typ))
	}
	title, err := req.RequireString("title")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "title is required"))
	}
	body, err := req.RequireString("body")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "body is required"))
	}

	metadata := map[string]interface{}{"title": title}
	if beadID := req.GetString("bead_id", ""); beadID != "" {
		metadata["bead_id"] = beadID
	}
	msg, err := s.deps.Store.Insert(ctx, store.InsertParams{
		Sender:    conn.AgentID,
		Recipient: "user",
		Role:      store.RoleAnnouncement,
		Body:      body,
		EventType: typ,
		Metadata:  metadata,
	})
	if err != nil {
		return toolError(err)
	}
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(eventbus.TopicAgentAnnouncement, msg)
	}
	return toolResult(msg)
}
