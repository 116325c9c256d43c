package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/store"
)

func (s *Server) registerProposalTools() {
	s.mcp.AddTool(mcp.NewTool("create_proposal",
		mcp.WithDescription("Raise a product or engineering proposal for human review. You are the author."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short title")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What you propose and why")),
		mcp.WithString("type", mcp.Required(), mcp.Description("product or engineering")),
	), s.handleCreateProposal)

	s.mcp.AddTool(mcp.NewTool("list_proposals",
		mcp.WithDescription("List proposals, newest first."),
		mcp.WithString("status", mcp.Description("Filter: pending, accepted, dismissed, completed")),
		mcp.WithString("type", mcp.Description("Filter: product or engineering")),
	), s.handleListProposals)
}

func (s *Server) handleCreateProposal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return toolError(err)
	}
	title, err := req.RequireString("title")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "title is required"))
	}
	description, err := req.RequireString("description")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "description is required"))
	}
	typ, err := req.RequireString("type")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeValidation, err, "type is required"))
	}
	p, err := s.deps.Store.CreateProposal(ctx, conn.AgentID, title, description, typ)
	if err != nil {
		return toolError(err)
	}
	return toolResult(p)
}

func (s *Server) handleListProposals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := s.conn(ctx); err != nil {
		return toolError(err)
	}
	proposals, err := s.deps.Store.ListProposals(ctx, req.GetString("status", ""))
	if err != nil {
		return toolError(err)
	}
	if typ := req.GetString("type", ""); typ != "" {
		filtered := proposals[:0]
		for _, p := range proposals {
			if p.Type == typ {
				filtered = append(filtered, p)
			}
		}
		proposals = filtered
	}
	if proposals == nil {
		proposals = []*store.Proposal{}
	}
	return toolResult(proposals)
}
