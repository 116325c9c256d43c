// Package beads is the single point of contact with the external bd CLI.
// All invocations serialize through the Gateway mutex; bd performs
// non-atomic writes against its SQLite store and concurrent calls corrupt it.
package beads

import (
	"strings"
)

// Bead statuses as bd reports them.
const (
	StatusBacklog    = "backlog"
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusHooked     = "hooked"
	StatusBlocked    = "blocked"
	StatusTesting    = "testing"
	StatusMerging    = "merging"
	StatusComplete   = "complete"
	StatusClosed     = "closed"
	StatusDeferred   = "deferred"
)

// Bead types.
const (
	TypeEpic = "epic"
	TypeTask = "task"
	TypeBug  = "bug"
)

var validStatuses = map[string]bool{
	StatusBacklog:    true,
	StatusOpen:       true,
	StatusInProgress: true,
	StatusHooked:     true,
	StatusBlocked:    true,
	StatusTesting:    true,
	StatusMerging:    true,
	StatusComplete:   true,
	StatusClosed:     true,
	StatusDeferred:   true,
}

// ValidStatus reports whether s is a status bd understands.
func ValidStatus(s string) bool {
	return validStatuses[s]
}

// ValidType reports whether t is a bead type we create.
func ValidType(t string) bool {
	return t == TypeEpic || t == TypeTask || t == TypeBug
}

// Bead is one work item as bd emits it with --json.
type Bead struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    int      `json:"priority"`
	Type        string   `json:"issue_type"`
	CreatedAt   string   `json:"created_at"`
	CreatedBy   string   `json:"created_by,omitempty"`
	UpdatedAt   string   `json:"updated_at"`
	ClosedAt    string   `json:"closed_at,omitempty"`
	Parent      string   `json:"parent,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	Children    []string `json:"children,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Blocks      []string `json:"blocks,omitempty"`
	BlockedBy   []string `json:"blocked_by,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Ephemeral   bool     `json:"ephemeral,omitempty"`

	// Rig is the routing tag of the database this bead came from. Set by
	// the gateway, not by bd.
	Rig string `json:"rig,omitempty"`

	// Detailed dependency info from show output.
	Dependencies []BeadDep `json:"dependencies,omitempty"`
	Dependents   []BeadDep `json:"dependents,omitempty"`
}

// BeadDep is a dependency or dependent with its relation.
type BeadDep struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Status         string `json:"status"`
	Priority       int    `json:"priority"`
	Type           string `json:"issue_type"`
	DependencyType string `json:"dependency_type,omitempty"`
}

// IsClosed reports whether the bead has reached a terminal done state.
func (b *Bead) IsClosed() bool {
	return b.Status == StatusClosed || b.Status == StatusComplete
}

// IsWisp reports whether the bead is scratch work that most listings hide.
// Wisps carry the ephemeral flag or a "wisp" token in their id.
func (b *Bead) IsWisp() bool {
	if b.Ephemeral {
		return true
	}
	for _, tok := range strings.FieldsFunc(b.ID, func(r rune) bool { return r == '-' || r == '.' }) {
		if tok == "wisp" {
			return true
		}
	}
	return false
}

// HasLabel reports whether the bead carries the given label.
func (b *Bead) HasLabel(label string) bool {
	for _, l := range b.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// ExtractPrefix returns the id's routing prefix including the trailing
// hyphen ("adj-022.1" returns "adj-"). Empty when the id has no prefix.
func ExtractPrefix(beadID string) string {
	if beadID == "" {
		return ""
	}
	idx := strings.Index(beadID, "-")
	if idx <= 0 {
		return ""
	}
	return beadID[:idx+1]
}

// ListFilter narrows gateway listings.
type ListFilter struct {
	Status   string // "open", "closed", "all", or any single status
	Type     string // "epic", "task", "bug"
	Assignee string
	Parent   string // direct children of this bead
	Limit    int    // 0 means bd's default
	Rig      string // restrict to one routed database
}

// CreateOptions are the caller-supplied fields of a new bead.
type CreateOptions struct {
	Title       string
	Description string
	Type        string
	Priority    *int
	Assignee    string
	Parent      string
}

// UpdateOptions carries the mutable bead fields. Nil means leave unchanged.
type UpdateOptions struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *int
	Assignee    *string
}

// Graph is a dependency graph snapshot. Nodes are deduplicated by id and
// edges by (from, to, kind).
type Graph struct {
	Nodes []*Bead     `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphEdge is one dependency relation.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// EpicProgress pairs an epic with its direct-child completion counts.
type EpicProgress struct {
	Epic           *Bead   `json:"epic"`
	ClosedChildren int     `json:"closed_children"`
	TotalChildren  int     `json:"total_children"`
	Completion     float64 `json:"completion"`
}

// ProjectOverview aggregates bead state for one project.
type ProjectOverview struct {
	OpenBeads      int             `json:"open_beads"`
	InProgress     int             `json:"in_progress"`
	RecentlyClosed []*Bead         `json:"recently_closed"`
	Epics          []*EpicProgress `json:"epics_with_progress"`
}
