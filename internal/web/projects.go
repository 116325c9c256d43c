package web

import (
	"net/http"

	"github.com/steveyegge/adjutant/internal/project"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	jsonData(w, http.StatusOK, s.projects.List())
}

func (s *Server) handleRegisterProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path     string `json:"path"`
		CloneURL string `json:"clone_url"`
		Empty    bool   `json:"empty"`
		Name     string `json:"name"`
		Mode     string `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		jsonErr(w, err)
		return
	}
	p, err := s.projects.Register(r.Context(), project.RegisterOptions{
		Path:     body.Path,
		CloneURL: body.CloneURL,
		Empty:    body.Empty,
		Name:     body.Name,
		Mode:     project.Mode(body.Mode),
	})
	if err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusCreated, p)
}

func (s *Server) handleActivateProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.Activate(r.PathValue("id"))
	if err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, p)
}

func (s *Server) handleUnregisterProject(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.Unregister(r.PathValue("id")); err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, map[string]bool{"unregistered": true})
}

func (s *Server) handleProjectOverview(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.Get(r.PathValue("id"))
	if err != nil {
		jsonErr(w, err)
		return
	}
	overview, err := s.gateway.Overview(r.Context(), p.Path)
	if err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, overview)
}
