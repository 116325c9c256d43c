package web

import (
	"net/http"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/bridge"
)

func (s *Server) requireBridge(w http.ResponseWriter) bool {
	if s.bridge == nil {
		jsonErr(w, adjerr.New(adjerr.CodeNotSupported, "terminal sessions are disabled"))
		return false
	}
	return true
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	sessions := s.bridge.List()
	if sessions == nil {
		sessions = []*bridge.Session{}
	}
	jsonData(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	var body struct {
		ProjectPath   string `json:"project_path"`
		Mode          string `json:"mode"`
		Name          string `json:"name"`
		WorkspaceType string `json:"workspace_type"`
		Command       string `json:"command"`
	}
	if err := decodeBody(r, &body); err != nil {
		jsonErr(w, err)
		return
	}
	sess, err := s.bridge.Create(r.Context(), bridge.CreateOptions{
		ProjectPath:   body.ProjectPath,
		Mode:          body.Mode,
		Name:          body.Name,
		WorkspaceType: body.WorkspaceType,
		Command:       body.Command,
	})
	if err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusCreated, sess)
}

func (s *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	if err := s.bridge.Kill(r.PathValue("id")); err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, map[string]bool{"killed": true})
}

func (s *Server) handleAttachSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	var body struct {
		ClientID string `json:"client_id"`
		Replay   bool   `json:"replay"`
	}
	if err := decodeBody(r, &body); err != nil {
		jsonErr(w, err)
		return
	}
	if body.ClientID == "" {
		jsonErr(w, adjerr.New(adjerr.CodeValidation, "client_id is required"))
		return
	}
	lines, err := s.bridge.Attach(r.PathValue("id"), body.ClientID, body.Replay)
	if err != nil {
		jsonErr(w, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	jsonData(w, http.StatusOK, map[string]interface{}{"replay": lines})
}

func (s *Server) handleDetachSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	var body struct {
		ClientID string `json:"client_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		jsonErr(w, err)
		return
	}
	if err := s.bridge.Detach(r.PathValue("id"), body.ClientID); err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, map[string]bool{"detached": true})
}

func (s *Server) handleSessionInput(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	var body struct {
		ClientID string `json:"client_id"`
		Text     string `json:"text"`
		Steal    bool   `json:"steal"`
	}
	if err := decodeBody(r, &body); err != nil {
		jsonErr(w, err)
		return
	}
	id := r.PathValue("id")
	if body.Steal {
		if err := s.bridge.StealInput(id, body.ClientID); err != nil {
			jsonErr(w, err)
			return
		}
	}
	queued, err := s.bridge.Input(id, body.ClientID, body.Text)
	if err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, map[string]bool{"queued": queued})
}

func (s *Server) handleSessionInterrupt(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	if err := s.bridge.Interrupt(r.PathValue("id")); err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, map[string]bool{"interrupted": true})
}

func (s *Server) handleSessionPermission(w http.ResponseWriter, r *http.Request) {
	if !s.requireBridge(w) {
		return
	}
	var body struct {
		RequestID string `json:"request_id"`
		Approved  bool   `json:"approved"`
	}
	if err := decodeBody(r, &body); err != nil {
		jsonErr(w, err)
		return
	}
	if err := s.bridge.Permission(r.PathValue("id"), body.RequestID, body.Approved); err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, map[string]bool{"answered": true})
}
