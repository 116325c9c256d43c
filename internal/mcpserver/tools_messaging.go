package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/store"
)

func (s *Server) registerMessagingTools() {
	s.mcp.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to another agent or to the operator ('user'). The sender is your session identity."),
		mcp.WithString("to", mcp.Required(), mcp.Description("Recipient agent id, or 'user' for the operator")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Message body")),
		mcp.WithString("thread_id", mcp.Description("Optional thread to append to")),
		mcp.WithObject("metadata", mcp.Description("Optional free-form metadata")),
	), s.handleSendMessage)

	s.mcp.AddTool(mcp.NewTool("read_messages",
		mcp.WithDescription("Read messages newest-first with cursor pagination. Defaults to your own conversation."),
		mcp.WithString("thread_id", mcp.Description("Restrict to one thread")),
		mcp.WithString("agent_id", mcp.Description("Restrict to one agent's conversation; defaults to you")),
		mcp.WithNumber("limit", mcp.Description("Page size, default 50, max 200")),
		mcp.WithString("before", mcp.Description("Cursor: created_at of the last message of the previous page")),
		mcp.WithString("before_id", mcp.Description("Cursor: id of the last message of the previous page")),
	), s.handleReadMessages)

	s.mcp.AddTool(mcp.NewTool("list_threads",
		mcp.WithDescription("List conversation threads with message counts and latest preview."),
		mcp.WithString("agent_id", mcp.Description("Only threads this agent participates in")),
	), s.handleListThreads)

	s.mcp.AddTool(mcp.NewTool("mark_read",
		mcp.WithDescription("Mark one message read (message_id) or all your unread messages read (agent_id). One of the two is required."),
		mcp.WithString("message_id", mcp.Description("Single message to mark")),
		mcp.WithString("agent_id", mcp.Description("Mark everything addressed to this agent")),
	), s.handleMarkRead)
}

func (s *Server) handleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return toolError(err)
	}
	to, err := req.RequireString("to")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "to is required"))
	}
	body, err := req.RequireString("body")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "body is required"))
	}

	var metadata map[string]interface{}
	if raw, ok := req.GetArguments()["metadata"].(map[string]interface{}); ok {
		metadata = raw
	}

	role := store.RoleAgent
	if conn.AgentID == "user" {
		role = store.RoleUser
	}
	msg, err := s.deps.Store.Insert(ctx, store.InsertParams{
		Sender:    conn.AgentID,
		Recipient: to,
		Role:      role,
		Body:      body,
		ThreadID:  req.GetString("thread_id", ""),
		Metadata:  metadata,
	})
	if err != nil {
		return toolError(err)
	}
	return toolResult(msg)
}

func (s *Server) handleReadMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return toolError(err)
	}
	agentID := req.GetString("agent_id", "")
	threadID := req.GetString("thread_id", "")
	if agentID == "" && threadID == "" {
		agentID = conn.AgentID
	}
	msgs, err := s.deps.Store.Read(ctx, store.ReadFilter{
		ThreadID:        threadID,
		AgentID:         agentID,
		BeforeCreatedAt: req.GetString("before", ""),
		BeforeID:        req.GetString("before_id", ""),
		Limit:           req.GetInt("limit", 0),
	})
	if err != nil {
		return toolError(err)
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	return toolResult(msgs)
}

func (s *Server) handleListThreads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := s.conn(ctx); err != nil {
		return toolError(err)
	}
	threads, err := s.deps.Store.ListThreads(ctx, req.GetString("agent_id", ""))
	if err != nil {
		return toolError(err)
	}
	if threads == nil {
		threads = []*store.ThreadSummary{}
	}
	return toolResult(threads)
}

func (s *Server) handleMarkRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := s.conn(ctx); err != nil {
		return toolError(err)
	}
	messageID := req.GetString("message_id", "")
	agentID := req.GetString("agent_id", "")
	switch {
	case messageID != "":
		if err := s.deps.Store.MarkRead(ctx, messageID); err != nil {
			return toolError(err)
		}
		return toolResult(map[string]interface{}{"marked": 1})
	case agentID != "":
		n, err := s.deps.Store.MarkReadBulk(ctx, agentID)
		if err != nil {
			return toolError(err)
		}
		return toolResult(map[string]interface{}{"marked": n})
	default:
		return toolError(adjerr.New(adjerr.CodeValidation, "one of message_id or agent_id is required"))
	}
}
