package web

import (
	"context"
	"net/http"
	"sync"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/beads"
	"github.com/steveyegge/adjutant/internal/mcpserver"
	"github.com/steveyegge/adjutant/internal/store"
)

// DashboardSection is one independently-fetched slice of the dashboard.
// Data is null and Error set when that slice failed; the other slices
// are unaffected.
type DashboardSection struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error,omitempty"`
}

// handleDashboard aggregates everything the dashboard front page needs
// in one round trip. Sections are fetched concurrently and fail
// independently; the response is an error only when every section
// failed.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, err := s.requestScope(r)
	if err != nil {
		jsonErr(w, err)
		return
	}

	sections := make(map[string]*DashboardSection)
	var mu sync.Mutex
	var wg sync.WaitGroup

	fetch := func(name string, fn func(context.Context) (interface{}, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := fn(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sections[name] = &DashboardSection{Error: adjerr.MessageOf(err)}
				return
			}
			sections[name] = &DashboardSection{Data: data}
		}()
	}

	fetch("status", func(ctx context.Context) (interface{}, error) {
		if s.provider == nil {
			return nil, adjerr.New(adjerr.CodeNotSupported, "no status provider")
		}
		return s.provider.Status(ctx)
	})
	fetch("beads_open", func(ctx context.Context) (interface{}, error) {
		list, err := s.gateway.List(ctx, scope, beads.ListFilter{Status: "open"})
		if list == nil && err == nil {
			list = []*beads.Bead{}
		}
		return list, err
	})
	fetch("beads_in_progress", func(ctx context.Context) (interface{}, error) {
		list, err := s.gateway.List(ctx, scope, beads.ListFilter{Status: "in_progress"})
		if list == nil && err == nil {
			list = []*beads.Bead{}
		}
		return list, err
	})
	fetch("beads_recently_closed", func(ctx context.Context) (interface{}, error) {
		list, err := s.gateway.ListRecentlyClosed(ctx, 24)
		if list == nil && err == nil {
			list = []*beads.Bead{}
		}
		return list, err
	})
	fetch("crew", func(ctx context.Context) (interface{}, error) {
		if s.agents == nil {
			return nil, adjerr.New(adjerr.CodeNotSupported, "no agent registry")
		}
		agents := s.agents.List("")
		if agents == nil {
			agents = []*mcpserver.AgentConnection{}
		}
		return agents, nil
	})
	fetch("unread", func(ctx context.Context) (interface{}, error) {
		counts, err := s.store.UnreadCounts(ctx, "")
		if counts == nil && err == nil {
			counts = []*store.UnreadCount{}
		}
		return counts, err
	})
	fetch("epics_with_progress", func(ctx context.Context) (interface{}, error) {
		epics, err := s.gateway.EpicsWithProgress(ctx, scope, "")
		if epics == nil && err == nil {
			epics = []*beads.EpicProgress{}
		}
		return epics, err
	})
	fetch("mail", func(ctx context.Context) (interface{}, error) {
		if s.mail == nil {
			return nil, adjerr.New(adjerr.CodeNotSupported, "no mail transport")
		}
		msgs, err := s.mail.ListMail(ctx, 20)
		if msgs == nil && err == nil {
			msgs = []*store.Message{}
		}
		return msgs, err
	})

	wg.Wait()

	// Per-section errors never fail the response; the UI shows a banner
	// per failed section instead. Only a panic in the aggregator itself
	// surfaces as a non-200.
	jsonData(w, http.StatusOK, sections)
}
