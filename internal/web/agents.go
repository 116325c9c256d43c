package web

import (
	"net/http"
	"path/filepath"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/bridge"
	"github.com/steveyegge/adjutant/internal/mcpserver"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.agents.List(r.URL.Query().Get("status"))
	if agents == nil {
		agents = []*mcpserver.AgentConnection{}
	}
	jsonData(w, http.StatusOK, agents)
}

// handleSpawnAgent starts a terminal session running an agent in the
// named project (or the active one).
func (s *Server) handleSpawnAgent(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		jsonErr(w, adjerr.New(adjerr.CodeNotSupported, "terminal sessions are disabled"))
		return
	}
	var body struct {
		ProjectID     string `json:"project_id"`
		Rig           string `json:"rig"`
		Callsign      string `json:"callsign"`
		WorkspaceType string `json:"workspace_type"`
		Command       string `json:"command"`
	}
	if err := decodeBody(r, &body); err != nil {
		jsonErr(w, err)
		return
	}

	path := ""
	mode := ""
	switch {
	case body.ProjectID != "":
		p, err := s.projects.Get(body.ProjectID)
		if err != nil {
			jsonErr(w, err)
			return
		}
		path, mode = p.Path, string(p.Mode)
	case body.Rig != "":
		beadsDir, ok := s.gateway.Routes().RigDir(body.Rig)
		if !ok {
			jsonErr(w, adjerr.Newf(adjerr.CodeNotFound, "unknown rig %q", body.Rig))
			return
		}
		path = filepath.Dir(beadsDir)
	default:
		p := s.projects.Active()
		if p == nil {
			jsonErr(w, adjerr.New(adjerr.CodeValidation, "project_id or rig is required with no active project"))
			return
		}
		path, mode = p.Path, string(p.Mode)
	}

	sess, err := s.bridge.Create(r.Context(), bridge.CreateOptions{
		ProjectPath:   path,
		Mode:          mode,
		Name:          body.Callsign,
		WorkspaceType: body.WorkspaceType,
		Command:       body.Command,
	})
	if err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusCreated, sess)
}
