package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/beads"
)

func (s *Server) registerBeadTools() {
	s.mcp.AddTool(mcp.NewTool("create_bead",
		mcp.WithDescription("Create a work item in your project's issue database."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short title")),
		mcp.WithString("description", mcp.Description("Full description")),
		mcp.WithString("type", mcp.Description("epic, task, or bug; defaults to task")),
		mcp.WithNumber("priority", mcp.Description("0 (urgent) .. 4")),
		mcp.WithString("assignee", mcp.Description("Who owns it")),
		mcp.WithString("parent", mcp.Description("Parent epic id")),
	), s.handleCreateBead)

	s.mcp.AddTool(mcp.NewTool("update_bead",
		mcp.WithDescription("Update fields on an existing bead. Omitted fields are unchanged."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Bead id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("status", mcp.Description("New status")),
		mcp.WithNumber("priority", mcp.Description("New priority 0..4")),
		mcp.WithString("assignee", mcp.Description("New assignee")),
	), s.handleUpdateBead)

	s.mcp.AddTool(mcp.NewTool("close_bead",
		mcp.WithDescription("Close a bead. Epics whose children are now all closed auto-close too."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Bead id")),
		mcp.WithString("reason", mcp.Description("Why it closed")),
	), s.handleCloseBead)

	s.mcp.AddTool(mcp.NewTool("list_beads",
		mcp.WithDescription("List beads in your project's database, urgent first."),
		mcp.WithString("status", mcp.Description("Filter: open, closed, all, or a single status")),
		mcp.WithString("type", mcp.Description("Filter: epic, task, bug")),
		mcp.WithString("assignee", mcp.Description("Filter by assignee")),
		mcp.WithNumber("limit", mcp.Description("Cap the result count")),
	), s.handleListBeads)

	s.mcp.AddTool(mcp.NewTool("show_bead",
		mcp.WithDescription("Show one bead with its dependencies."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Bead id")),
	), s.handleShowBead)
}

func (s *Server) handleCreateBead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return toolError(err)
	}
	title, err := req.RequireString("title")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "title is required"))
	}
	opts := beads.CreateOptions{
		Title:       title,
		Description: req.GetString("description", ""),
		Type:        req.GetString("type", ""),
		Assignee:    req.GetString("assignee", ""),
		Parent:      req.GetString("parent", ""),
	}
	if p := req.GetInt("priority", -1); p >= 0 {
		opts.Priority = &p
	}
	b, err := s.deps.Gateway.Create(ctx, s.scope(conn), opts)
	if err != nil {
		return toolError(err)
	}
	return toolResult(b)
}

func (s *Server) handleUpdateBead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return toolError(err)
	}
	id, err := req.RequireString("id")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "id is required"))
	}
	var opts beads.UpdateOptions
	args := req.GetArguments()
	if v, ok := args["title"].(string); ok {
		opts.Title = &v
	}
	if v, ok := args["description"].(string); ok {
		opts.Description = &v
	}
	if v, ok := args["status"].(string); ok {
		opts.Status = &v
	}
	if v, ok := args["assignee"].(string); ok {
		opts.Assignee = &v
	}
	if v, ok := args["priority"].(float64); ok {
		p := int(v)
		opts.Priority = &p
	}
	b, err := s.deps.Gateway.Update(ctx, s.scope(conn), id, opts)
	if err != nil {
		return toolError(err)
	}
	return toolResult(b)
}

func (s *Server) handleCloseBead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return toolError(err)
	}
	id, err := req.RequireString("id")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "id is required"))
	}
	b, err := s.deps.Gateway.Close(ctx, s.scope(conn), id, req.GetString("reason", ""))
	if err != nil {
		return toolError(err)
	}
	return toolResult(b)
}

func (s *Server) handleListBeads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return toolError(err)
	}
	list, err := s.deps.Gateway.List(ctx, s.scope(conn), beads.ListFilter{
		Status:   req.GetString("status", ""),
		Type:     req.GetString("type", ""),
		Assignee: req.GetString("assignee", ""),
		Limit:    req.GetInt("limit", 0),
	})
	if err != nil {
		return toolError(err)
	}
	if list == nil {
		list = []*beads.Bead{}
	}
	return toolResult(list)
}

func (s *Server) handleShowBead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return toolError(err)
	}
	id, err := req.RequireString("id")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "id is required"))
	}
	b, err := s.deps.Gateway.Get(ctx, s.scope(conn), id)
	if err != nil {
		return toolError(err)
	}
	return toolResult(b)
}
