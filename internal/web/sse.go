package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/steveyegge/adjutant/internal/adjerr"
)

// handleSSE streams hub frames as server-sent events for clients that
// cannot speak WebSocket. The stream starts at the current sequence;
// catch-up belongs to the long-poll endpoint.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonErr(w, adjerr.New(adjerr.CodeNotSupported, "streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, "event: connected\ndata: ok\n\n")
	flusher.Flush()

	cursor := s.hub.Seq()
	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-poll.C:
			frames, _ := s.hub.FramesSince(cursor)
			for _, f := range frames {
				data, err := json.Marshal(f)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Type, data)
				cursor = f.Seq
			}
			if len(frames) > 0 {
				flusher.Flush()
			}
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// handleLongPoll returns frames after ?after_seq, waiting up to 25s for
// one to arrive. A truncated response tells the client its cursor fell
// off the replay ring and it must resync.
func (s *Server) handleLongPoll(w http.ResponseWriter, r *http.Request) {
	afterSeq := uint64(0)
	if v := r.URL.Query().Get("after_seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			jsonErr(w, adjerr.New(adjerr.CodeValidation, "after_seq must be an integer"))
			return
		}
		afterSeq = n
	} else {
		afterSeq = s.hub.Seq()
	}

	if bootID := r.URL.Query().Get("server_boot_id"); bootID != "" && bootID != s.hub.BootID() {
		jsonData(w, http.StatusOK, map[string]interface{}{
			"frames":         []Frame{},
			"truncated":      true,
			"seq":            s.hub.Seq(),
			"server_boot_id": s.hub.BootID(),
		})
		return
	}

	deadline := time.After(25 * time.Second)
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		frames, truncated := s.hub.FramesSince(afterSeq)
		if len(frames) > 0 || truncated {
			if frames == nil {
				frames = []Frame{}
			}
			jsonData(w, http.StatusOK, map[string]interface{}{
				"frames":         frames,
				"truncated":      truncated,
				"seq":            s.hub.Seq(),
				"server_boot_id": s.hub.BootID(),
			})
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-deadline:
			jsonData(w, http.StatusOK, map[string]interface{}{
				"frames":         []Frame{},
				"truncated":      false,
				"seq":            s.hub.Seq(),
				"server_boot_id": s.hub.BootID(),
			})
			return
		case <-poll.C:
		}
	}
}
