package web

import (
	"net/http"
	"strconv"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/store"
)

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msgs, err := s.store.Read(r.Context(), store.ReadFilter{
		AgentID:         q.Get("agent_id"),
		ThreadID:        q.Get("thread"),
		Limit:           intQuery(r, "limit", 0),
		BeforeCreatedAt: q.Get("before"),
		BeforeID:        q.Get("before_id"),
	})
	if err != nil {
		jsonErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	jsonData(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To       string                 `json:"to"`
		Body     string                 `json:"body"`
		ThreadID string                 `json:"thread_id"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := decodeBody(r, &body); err != nil {
		jsonErr(w, err)
		return
	}
	if body.To == "" || body.Body == "" {
		jsonErr(w, adjerr.New(adjerr.CodeValidation, "to and body are required"))
		return
	}
	// REST sends always originate from the operator.
	msg, err := s.store.Insert(r.Context(), store.InsertParams{
		Sender:    "user",
		Recipient: body.To,
		Role:      store.RoleUser,
		Body:      body.Body,
		ThreadID:  body.ThreadID,
		Metadata:  body.Metadata,
	})
	if err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusCreated, msg)
}

func (s *Server) handleUnreadCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.UnreadCounts(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		jsonErr(w, err)
		return
	}
	if counts == nil {
		counts = []*store.UnreadCount{}
	}
	jsonData(w, http.StatusOK, counts)
}

func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		jsonErr(w, adjerr.New(adjerr.CodeValidation, "q is required"))
		return
	}
	msgs, err := s.store.Search(r.Context(), q, r.URL.Query().Get("agent_id"), intQuery(r, "limit", 0))
	if err != nil {
		jsonErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	jsonData(w, http.StatusOK, msgs)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.store.MarkRead(r.Context(), r.PathValue("id")); err != nil {
		jsonErr(w, err)
		return
	}
	jsonData(w, http.StatusOK, map[string]bool{"marked": true})
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.store.ListThreads(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		jsonErr(w, err)
		return
	}
	if threads == nil {
		threads = []*store.ThreadSummary{}
	}
	jsonData(w, http.StatusOK, threads)
}
