package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/beads"
	"github.com/steveyegge/adjutant/internal/eventbus"
	"github.com/steveyegge/adjutant/internal/project"
	"github.com/steveyegge/adjutant/internal/store"
	"github.com/steveyegge/adjutant/internal/version"
)

// ctxKey namespaces the values the HTTP layer injects for the
// initialize hook.
type ctxKey int

const (
	ctxAgentID ctxKey = iota
	ctxProjectContext
)

// Deps are the collaborators every tool handler reads. All handlers are
// stateless; these are the only process singletons they touch.
type Deps struct {
	Store    *store.Store
	Gateway  *beads.Gateway
	Projects *project.Registry
	Bus      *eventbus.Bus
	Logger   *log.Logger
}

// Server is the per-session MCP tool server. One MCPServer instance
// multiplexes every agent session; each session carries its own
// transport state inside the streamable HTTP layer.
type Server struct {
	deps     Deps
	registry *Registry

	mcp  *server.MCPServer
	http *server.StreamableHTTPServer
}

// New builds the MCP server and registers every tool.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(discard{}, "", 0)
	}
	s := &Server{
		deps:     deps,
		registry: NewRegistry(deps.Bus),
	}

	hooks := &server.Hooks{}
	hooks.AddBeforeInitialize(func(ctx context.Context, id any, message *mcp.InitializeRequest) {
		session := server.ClientSessionFromContext(ctx)
		if session == nil {
			return
		}
		agentID, _ := ctx.Value(ctxAgentID).(string)
		if agentID == "" {
			// No declared identity; the server names the connection. The
			// session id is random, so the derived name is too.
			agentID = "agent-" + shortID(session.SessionID())
		}
		pc, _ := ctx.Value(ctxProjectContext).(*ProjectContext)
		conn := s.registry.Register(session.SessionID(), agentID, pc)
		s.deps.Logger.Printf("mcp: session %s initialized (agent=%s)", shortID(conn.SessionID), agentID)
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		s.registry.Remove(session.SessionID())
		s.deps.Logger.Printf("mcp: session %s closed", shortID(session.SessionID()))
	})

	s.mcp = server.NewMCPServer(
		"adjutant",
		version.Version,
		server.WithInstructions(instructionsText),
		server.WithHooks(hooks),
		server.WithToolCapabilities(false),
	)
	s.registerTools()

	s.http = server.NewStreamableHTTPServer(s.mcp,
		server.WithHTTPContextFunc(injectIdentity),
	)
	return s
}

// Registry exposes the session registry to the HTTP layer and tests.
func (s *Server) Registry() *Registry { return s.registry }

// Handler returns the streamable HTTP handler to mount at /mcp.
func (s *Server) Handler() http.Handler { return s.http }

// injectIdentity stashes connection-time identity in the request
// context. The X-Agent-Id header and the agentId query parameter are
// the only allowed identity sources; tool parameters never are.
func injectIdentity(ctx context.Context, r *http.Request) context.Context {
	agentID := r.Header.Get("X-Agent-Id")
	if agentID == "" {
		agentID = r.URL.Query().Get("agentId")
	}
	ctx = context.WithValue(ctx, ctxAgentID, agentID)

	pc := &ProjectContext{
		ProjectID:   headerOrQuery(r, "X-Project-Id", "projectId"),
		ProjectPath: headerOrQuery(r, "X-Project-Path", "projectPath"),
		BeadsDir:    headerOrQuery(r, "X-Beads-Dir", "beadsDir"),
	}
	if pc.ProjectID == "" && pc.ProjectPath == "" && pc.BeadsDir == "" {
		pc = nil
	}
	return context.WithValue(ctx, ctxProjectContext, pc)
}

func headerOrQuery(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}

// conn resolves the calling session's connection. Every tool handler
// starts here; a request with no or an unknown session is rejected.
func (s *Server) conn(ctx context.Context) (*AgentConnection, error) {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return nil, adjerr.New(adjerr.CodeInvalidArg, "no session in request")
	}
	conn, ok := s.registry.Resolve(session.SessionID())
	if !ok {
		return nil, adjerr.Newf(adjerr.CodeInvalidArg, "unknown session %s", shortID(session.SessionID()))
	}
	return conn, nil
}

// scope derives the bd routing scope for a session: its project's beads
// dir when bound, prefix routing otherwise. BD_ACTOR is always the
// session's agent id.
func (s *Server) scope(conn *AgentConnection) beads.Scope {
	sc := beads.Scope{Actor: conn.AgentID}
	if conn.Project != nil {
		sc.BeadsDir = conn.Project.BeadsDir
	}
	return sc
}

// toolResult marshals a success payload.
func toolResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(adjerr.Wrap(adjerr.CodeInternal, err, "encoding result"))
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError renders the structured {code, message} envelope every
// handler returns on failure. The error is carried in-band; the
// transport-level error stays nil so the client sees the envelope.
func toolError(err error) (*mcp.CallToolResult, error) {
	env := struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{
		Code:    string(adjerr.CodeOf(err)),
		Message: adjerr.MessageOf(err),
	}
	data, mErr := json.Marshal(env)
	if mErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf(`{"code":"INTERNAL_ERROR","message":%q}`, err.Error())), nil
	}
	return mcp.NewToolResultError(string(data)), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

const instructionsText = `You are an agent connected to the Adjutant coordination server.

On connect, your identity was bound from your connection headers; you never
pass it to tools. Typical flow:

1. set_status status='working' task='<what you are doing>'
2. read_messages               -- check for instructions from the operator
3. Work, calling report_progress as you go
4. send_message to='user' body='<summary>' when done
5. announce type='completion'|'blocker'|'question' for things the whole
   dashboard should see

Bead tools (create_bead, update_bead, close_bead, list_beads, show_bead)
operate on your project's issue database.`
