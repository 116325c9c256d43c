package web

import (
	"net/http"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/store"
)

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	proposals, err := s.store.ListProposals(r.Context(), q.Get("status"))
	if err != nil {
		jsonErr(w, err)
		return
	}
	if typ := q.Get("type"); typ != "" {
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
	jsonData(w, http.StatusOK, proposals)
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Type        string `json:"type"`
	}
	if err := decodeBody(r, &body); err != nil {
		jsonErr(w, err)
		return
	}
	p, err := s.store.CreateProposal(r.Context(), "user", body.Title, body.Description, body.Type)
	if err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusCreated, p)
}

func (s *Server) handlePatchProposal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		jsonErr(w, err)
		return
	}
	if body.Status == "" {
		jsonErr(w, adjerr.New(adjerr.CodeValidation, "status is required"))
		return
	}
	p, err := s.store.UpdateProposalStatus(r.Context(), r.PathValue("id"), body.Status)
	if err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, p)
}
