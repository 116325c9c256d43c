package bridge

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Output event types. raw is always emitted alongside whatever the
// parser recognizes; consumers that distrust the heuristics can render
// raw alone.
const (
	EventMessage           = "message"
	EventToolUse           = "tool_use"
	EventToolResult        = "tool_result"
	EventStatus            = "status"
	EventPermissionRequest = "permission_request"
	EventError             = "error"
	EventRaw               = "raw"
)

// Parser-level session activity states carried on status events.
const (
	activityThinking = "thinking"
	activityWorking  = "working"
	activityIdle     = "idle"
)

// OutputEvent is one parsed unit of terminal output. Type selects which
// fields are meaningful.
type OutputEvent struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"` // message, error, raw

	Tool      string `json:"tool,omitempty"`   // tool_use, tool_result
	Input     string `json:"input,omitempty"`  // tool_use
	Output    string `json:"output,omitempty"` // tool_result
	Truncated bool   `json:"truncated,omitempty"`

	Status string `json:"status,omitempty"` // status

	RequestID string `json:"request_id,omitempty"` // permission_request
	Action    string `json:"action,omitempty"`
	Details   string `json:"details,omitempty"`
}

var (
	// CSI and OSC escape sequences plus stray control bytes.
	ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|[\x00-\x08\x0b-\x1f\x7f]`)

	// ⏺ Bash(go test ./...)
	toolUseRe = regexp.MustCompile(`^⏺\s+([A-Za-z_][A-Za-z0-9_]*)\((.*)\)\s*$`)

	// ⎿ 42 lines of output   /   ⎿ … +117 lines
	toolResultRe = regexp.MustCompile(`^\s*⎿\s*(.*)$`)

	// ✳ Pondering… (12s · esc to interrupt)
	thinkingRe = regexp.MustCompile(`^[✳✶✻✢∗·*]\s+\S`)

	permissionRe = regexp.MustCompile(`(?i)^(do you want|allow this|permission needed|approve this)`)

	errorLineRe = regexp.MustCompile(`^(✗|✘|Error:|error:)`)

	// Prompt box frame or the shortcut hint line under an empty prompt.
	idleRe = regexp.MustCompile(`^(╭─|│\s*>\s*│?$)|\? for shortcuts`)
)

// stripANSI removes escape sequences and control bytes from one line.
func stripANSI(line string) string {
	return ansiRe.ReplaceAllString(line, "")
}

// parser turns ANSI-laden terminal lines into tagged OutputEvents. It is
// a best-effort heuristic layer; state is limited to the last known
// activity and the tool a result line belongs to.
type parser struct {
	activity string
	lastTool string
	newID    func() string
}

func newParser() *parser {
	return &parser{activity: activityIdle, newID: uuid.NewString}
}

// Feed parses one raw terminal line. It returns the recognized events,
// possibly including a status transition. A nil result means the line
// carried nothing recognizable beyond raw bytes.
func (p *parser) Feed(raw string) []OutputEvent {
	line := strings.TrimRight(stripANSI(raw), " \t\r")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	var events []OutputEvent

	switch {
	case thinkingRe.MatchString(trimmed):
		events = p.transition(events, activityThinking)

	case toolUseRe.MatchString(trimmed):
		m := toolUseRe.FindStringSubmatch(trimmed)
		p.lastTool = m[1]
		events = append(events, OutputEvent{Type: EventToolUse, Tool: m[1], Input: m[2]})
		events = p.transition(events, activityWorking)

	case strings.HasPrefix(trimmed, "⏺"):
		// Assistant text block.
		events = append(events, OutputEvent{Type: EventMessage, Text: strings.TrimSpace(strings.TrimPrefix(trimmed, "⏺"))})
		events = p.transition(events, activityWorking)

	case toolResultRe.MatchString(line):
		out := toolResultRe.FindStringSubmatch(line)[1]
		ev := OutputEvent{Type: EventToolResult, Tool: p.lastTool, Output: out}
		if strings.Contains(out, "… +") || strings.Contains(out, "ctrl+o to expand") {
			ev.Truncated = true
		}
		events = append(events, ev)

	case permissionRe.MatchString(trimmed):
		// The session-status side effect (waiting_permission) is the
		// bridge's call, not the parser's; status events stay within
		// the thinking/working/idle set.
		events = append(events, OutputEvent{
			Type:      EventPermissionRequest,
			RequestID: p.newID(),
			Action:    trimmed,
		})

	case errorLineRe.MatchString(trimmed):
		events = append(events, OutputEvent{Type: EventError, Text: trimmed})

	case idleRe.MatchString(trimmed):
		events = p.transition(events, activityIdle)

	default:
		events = append(events, OutputEvent{Type: EventMessage, Text: trimmed})
	}

	return events
}

// Activity returns the last observed activity state.
func (p *parser) Activity() string { return p.activity }

func (p *parser) transition(events []OutputEvent, activity string) []OutputEvent {
	if p.activity == activity {
		return events
	}
	p.activity = activity
	return append(events, OutputEvent{Type: EventStatus, Status: activity})
}
