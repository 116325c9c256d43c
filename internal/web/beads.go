package web

import (
	"net/http"
	"path/filepath"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/beads"
)

// requestScope resolves the bd routing scope for a REST request: an
// explicit project_id query wins, then the active project, then prefix
// routing across every known database.
func (s *Server) requestScope(r *http.Request) (beads.Scope, error) {
	scope := beads.Scope{Actor: "user"}
	if id := r.URL.Query().Get("project_id"); id != "" {
		if s.projects == nil {
			return scope, adjerr.New(adjerr.CodeNotSupported, "no project registry")
		}
		p, err := s.projects.Get(id)
		if err != nil {
			return scope, err
		}
		scope.BeadsDir = filepath.Join(p.Path, ".beads")
		return scope, nil
	}
	if s.projects != nil {
		if p := s.projects.Active(); p != nil && p.HasBeads {
			scope.BeadsDir = filepath.Join(p.Path, ".beads")
		}
	}
	return scope, nil
}

func (s *Server) handleListBeads(w http.ResponseWriter, r *http.Request) {
	scope, err := s.requestScope(r)
	if err != nil {
		jsonErr(w, err)
		return
	}
	q := r.URL.Query()
	list, err := s.gateway.List(r.Context(), scope, beads.ListFilter{
		Status:   q.Get("status"),
		Type:     q.Get("type"),
		Assignee: q.Get("assignee"),
		Limit:    intQuery(r, "limit", 0),
	})
	if err != nil {
		jsonErr(w, err)
		return
	}
	if list == nil {
		list = []*beads.Bead{}
	}
	jsonData(w, http.StatusOK, list)
}

func (s *Server) handlePatchBead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status   *string `json:"status"`
		Title    *string `json:"title"`
		Assignee *string `json:"assignee"`
		Priority *int    `json:"priority"`
	}
	if err := decodeBody(r, &body); err != nil {
		jsonErr(w, err)
		return
	}
	if body.Status == nil && body.Title == nil && body.Assignee == nil && body.Priority == nil {
		jsonErr(w, adjerr.New(adjerr.CodeValidation, "no fields to update"))
		return
	}
	scope, err := s.requestScope(r)
	if err != nil {
		jsonErr(w, err)
		return
	}
	b, err := s.gateway.Update(r.Context(), scope, r.PathValue("id"), beads.UpdateOptions{
		Status:   body.Status,
		Title:    body.Title,
		Assignee: body.Assignee,
		Priority: body.Priority,
	})
	if err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, b)
}

func (s *Server) handleBeadGraph(w http.ResponseWriter, r *http.Request) {
	scope, err := s.requestScope(r)
	if err != nil {
		jsonErr(w, err)
		return
	}
	graph, err := s.gateway.Graph(r.Context(), scope, beads.ListFilter{
		Status: r.URL.Query().Get("status"),
	})
	if err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, graph)
}

func (s *Server) handleEpicsWithProgress(w http.ResponseWriter, r *http.Request) {
	scope, err := s.requestScope(r)
	if err != nil {
		jsonErr(w, err)
		return
	}
	epics, err := s.gateway.EpicsWithProgress(r.Context(), scope, r.URL.Query().Get("status"))
	if err != nil {
		jsonErr(w, err)
		return
	}
	if epics == nil {
		epics = []*beads.EpicProgress{}
	}
	jsonData(w, http.StatusOK, epics)
}
