// Package web is Adjutant's HTTP surface: the REST API, the WebSocket
// fanout, the SSE/long-poll fallbacks, and the mounted MCP transport.
package web

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/beads"
	"github.com/steveyegge/adjutant/internal/bridge"
	"github.com/steveyegge/adjutant/internal/config"
	"github.com/steveyegge/adjutant/internal/mcpserver"
	"github.com/steveyegge/adjutant/internal/project"
	"github.com/steveyegge/adjutant/internal/status"
	"github.com/steveyegge/adjutant/internal/store"
)

// Options carry the components the server serves. Any nil component
// disables its endpoints with NOT_SUPPORTED rather than panicking.
type Options struct {
	Config   *config.Config
	Store    *store.Store
	Gateway  *beads.Gateway
	Projects *project.Registry
	Agents   *mcpserver.Registry
	Bridge   *bridge.Bridge
	Provider status.Provider
	Mail     status.MailTransport
	Hub      *Hub
	MCP      http.Handler
	Logger   *log.Logger
}

// Server is the HTTP front door.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	gateway  *beads.Gateway
	projects *project.Registry
	agents   *mcpserver.Registry
	bridge   *bridge.Bridge
	provider status.Provider
	mail     status.MailTransport
	hub      *Hub
	mcp      http.Handler
	logger   *log.Logger

	httpServer *http.Server
}

// New builds the server. It does not start listening.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	return &Server{
		cfg:      opts.Config,
		store:    opts.Store,
		gateway:  opts.Gateway,
		projects: opts.Projects,
		agents:   opts.Agents,
		bridge:   opts.Bridge,
		provider: opts.Provider,
		mail:     opts.Mail,
		hub:      opts.Hub,
		mcp:      opts.MCP,
		logger:   opts.Logger,
	}
}

// Handler assembles the full route table with CORS and API-key
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
		mux.Handle("/mcp/", s.mcp)
	}

	// Messages
	mux.HandleFunc("GET /api/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/messages/unread", s.handleUnreadCounts)
	mux.HandleFunc("GET /api/messages/search", s.handleSearchMessages)
	mux.HandleFunc("POST /api/messages/{id}/read", s.handleMarkRead)
	mux.HandleFunc("GET /api/threads", s.handleListThreads)

	// Beads
	mux.HandleFunc("GET /api/beads", s.handleListBeads)
	mux.HandleFunc("PATCH /api/beads/{id}", s.handlePatchBead)
	mux.HandleFunc("GET /api/beads/graph", s.handleBeadGraph)
	mux.HandleFunc("GET /api/epics-with-progress", s.handleEpicsWithProgress)

	// Agents
	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/agents/spawn", s.handleSpawnAgent)

	// Status and power
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/power/up", s.handlePowerUp)
	mux.HandleFunc("POST /api/power/down", s.handlePowerDown)

	// Projects
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleRegisterProject)
	mux.HandleFunc("POST /api/projects/{id}/activate", s.handleActivateProject)
	mux.HandleFunc("DELETE /api/projects/{id}", s.handleUnregisterProject)
	mux.HandleFunc("GET /api/projects/{id}/overview", s.handleProjectOverview)

	// Terminal sessions
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleKillSession)
	mux.HandleFunc("POST /api/sessions/{id}/attach", s.handleAttachSession)
	mux.HandleFunc("POST /api/sessions/{id}/detach", s.handleDetachSession)
	mux.HandleFunc("POST /api/sessions/{id}/input", s.handleSessionInput)
	mux.HandleFunc("POST /api/sessions/{id}/interrupt", s.handleSessionInterrupt)
	mux.HandleFunc("POST /api/sessions/{id}/permission", s.handleSessionPermission)

	// Proposals
	mux.HandleFunc("GET /api/proposals", s.handleListProposals)
	mux.HandleFunc("POST /api/proposals", s.handleCreateProposal)
	mux.HandleFunc("PATCH /api/proposals/{id}", s.handlePatchProposal)

	// Dashboard
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)

	// Realtime
	if s.hub != nil {
		mux.Handle("GET /ws/chat", s.hub)
		mux.HandleFunc("GET /api/events", s.handleSSE)
		mux.HandleFunc("GET /api/events/poll", s.handleLongPoll)
	}

	return corsMiddleware(s.authMiddleware(mux))
}

// Start begins serving on the configured address. Blocks until
// Shutdown or a listener error.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Handler(),
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces the API key on everything except the public
// prefixes (the MCP mount authenticates per-session) and /health. An
// empty configured key disables enforcement.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" || r.URL.Path == "/health" || s.isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		// The WebSocket endpoint authenticates in-band via its auth frame.
		if r.URL.Path == "/ws/chat" {
			next.ServeHTTP(w, r)
			return
		}
		if requestAPIKey(r) != s.cfg.APIKey {
			jsonErr(w, adjerr.New(adjerr.CodeUnauthorized, "missing or invalid API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isPublicPath(path string) bool {
	prefixes := s.cfg.MCPPublicPrefixes
	if len(prefixes) == 0 {
		prefixes = []string{"/mcp"}
	}
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func requestAPIKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("api_key")
}

// Uniform response envelope.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func jsonData(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func jsonErr(w http.ResponseWriter, err error) {
	code := adjerr.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(adjerr.HTTPStatus(code))
	json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   &errorBody{Code: string(code), Message: adjerr.MessageOf(err)},
	})
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return adjerr.Wrap(adjerr.CodeValidation, err, "invalid JSON body")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonData(w, http.StatusOK, map[string]string{"status": "ok"})
}
