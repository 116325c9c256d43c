package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Event is one rendered feed line.
type Event struct {
	Time     time.Time
	Kind     string // frame type
	Actor    string
	Summary  string
	Markdown string // set for announcements, rendered richly
}

var titler = cases.Title(language.English)

// displayName capitalizes an agent id for the feed (chaos → Chaos).
func displayName(id string) string {
	if id == "" {
		return "someone"
	}
	return titler.String(id)
}

// Summarize converts a wire frame into a feed event. The second return
// is false for frame types the feed does not display (raw terminal
// output, keepalives).
func Summarize(f Frame) (Event, bool) {
	ev := Event{Time: time.Now(), Kind: f.Type}

	switch f.Type {
	case "chat_message":
		var p struct {
			Sender    string `json:"sender"`
			Recipient string `json:"recipient"`
			Body      string `json:"body"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, false
		}
		ev.Actor = p.Sender
		ev.Summary = fmt.Sprintf("%s → %s: %s", displayName(p.Sender), displayName(p.Recipient), firstLine(p.Body))
		return ev, true

	case "agent_status":
		var p struct {
			AgentID string `json:"agent_id"`
			Status  string `json:"status"`
			Task    string `json:"task"`
			BeadID  string `json:"bead_id"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, false
		}
		ev.Actor = p.AgentID
		ev.Summary = fmt.Sprintf("%s is %s", displayName(p.AgentID), p.Status)
		if p.Task != "" {
			ev.Summary += ": " + p.Task
		}
		if p.BeadID != "" {
			ev.Summary += " (" + p.BeadID + ")"
		}
		return ev, true

	case "agent_progress":
		var p struct {
			AgentID     string `json:"agent_id"`
			Task        string `json:"task"`
			Percentage  int    `json:"percentage"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, false
		}
		ev.Actor = p.AgentID
		ev.Summary = fmt.Sprintf("%s: %s %d%%", displayName(p.AgentID), p.Task, p.Percentage)
		if p.Description != "" {
			ev.Summary += " — " + p.Description
		}
		return ev, true

	case "announcement":
		var p struct {
			AgentID string `json:"agent_id"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, false
		}
		ev.Actor = p.AgentID
		ev.Summary = fmt.Sprintf("%s announced:", displayName(p.AgentID))
		ev.Markdown = p.Message
		return ev, true

	case "agent_connected":
		var p struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, false
		}
		ev.Actor = p.AgentID
		ev.Summary = displayName(p.AgentID) + " connected"
		return ev, true

	case "agent_disconnected":
		var p struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, false
		}
		ev.Actor = p.AgentID
		ev.Summary = displayName(p.AgentID) + " disconnected"
		return ev, true

	case "bead_created", "bead_updated", "bead_closed":
		var p struct {
			ID     string `json:"id"`
			Title  string `json:"title"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, false
		}
		verb := map[string]string{
			"bead_created": "filed",
			"bead_updated": "updated",
			"bead_closed":  "closed",
		}[f.Type]
		ev.Summary = fmt.Sprintf("%s %s", verb, p.ID)
		if p.Title != "" {
			ev.Summary += ": " + firstLine(p.Title)
		}
		return ev, true

	case "session_status":
		var p struct {
			SessionID string `json:"session_id"`
			Payload   string `json:"payload"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, false
		}
		ev.Summary = fmt.Sprintf("terminal %s: %s", shortID(p.SessionID), p.Payload)
		return ev, true

	case "session_permission":
		var p struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, false
		}
		ev.Summary = fmt.Sprintf("terminal %s is waiting for permission", shortID(p.SessionID))
		return ev, true

	case "session_ended":
		var p struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, false
		}
		ev.Summary = fmt.Sprintf("terminal %s ended", shortID(p.SessionID))
		return ev, true

	case "project_activated":
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, false
		}
		ev.Summary = "switched to project " + p.Name
		return ev, true
	}

	return ev, false
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i] + "…"
		}
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
