package web

import (
	"net/http"

	"github.com/steveyegge/adjutant/internal/adjerr"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		jsonErr(w, adjerr.New(adjerr.CodeNotSupported, "no status provider"))
		return
	}
	st, err := s.provider.Status(r.Context())
	if err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, st)
}

func (s *Server) handlePowerUp(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		jsonErr(w, adjerr.New(adjerr.CodeNotSupported, "no status provider"))
		return
	}
	if err := s.provider.PowerUp(r.Context()); err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, map[string]bool{"started": true})
}

func (s *Server) handlePowerDown(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		jsonErr(w, adjerr.New(adjerr.CodeNotSupported, "no status provider"))
		return
	}
	if err := s.provider.PowerDown(r.Context()); err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, map[string]bool{"stopped": true})
}
