package beads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/eventbus"
)

// ErrNotInstalled means the bd binary is not on PATH.
var ErrNotInstalled = errors.New("bd not installed: see https://github.com/steveyegge/beads")

// bd reports missing issues on stderr in a few spellings.
var notFoundRe = regexp.MustCompile(`(?i)not found|no such|missing`)

// Scope directs one gateway call at a specific database and actor. The
// zero value routes by bead prefix, falling back to bd's own discovery
// from the workspace root.
type Scope struct {
	BeadsDir string // explicit .beads directory, usually the session's
	Actor    string // BD_ACTOR attribution for writes
}

// Gateway invokes bd. Exactly one subprocess runs at a time: the mutex
// spans the whole subprocess lifetime because bd's writes are not safe
// to interleave.
type Gateway struct {
	mu      sync.Mutex
	root    string
	timeout time.Duration
	routes  *PrefixMap
	bus     *eventbus.Bus

	// run executes one bd invocation. Swapped out in tests.
	run func(ctx context.Context, dir string, env []string, args ...string) ([]byte, string, error)
}

// NewGateway creates a gateway rooted at the workspace directory.
// bus may be nil; bead events are then suppressed.
func NewGateway(root string, timeout, refreshEvery time.Duration, bus *eventbus.Bus) *Gateway {
	return &Gateway{
		root:    root,
		timeout: timeout,
		routes:  NewPrefixMap(root, refreshEvery),
		bus:     bus,
		run:     runBD,
	}
}

// Routes exposes the prefix map, mainly so serve can start its watcher.
func (g *Gateway) Routes() *PrefixMap { return g.routes }

func (g *Gateway) publish(topic eventbus.Topic, b *Bead) {
	if g.bus != nil {
		g.bus.Publish(topic, b)
	}
}

// runBD is the real executor.
func runBD(ctx context.Context, dir string, env []string, args ...string) ([]byte, string, error) {
	// --allow-stale keeps reads working when the db is ahead of its JSONL
	// export, which happens whenever a bd daemon was killed mid-sync.
	full := append([]string{"--allow-stale"}, args...)
	cmd := exec.CommandContext(ctx, "bd", full...)
	cmd.Dir = dir
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

// resolve picks the working directory and environment for one call.
// Inherited BEADS_DIR and BD_ACTOR are always stripped: getenv returns the
// first occurrence, so a stale inherited value would shadow ours.
func (g *Gateway) resolve(scope Scope, beadID string) (string, []string) {
	var env []string
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "BEADS_DIR=") || strings.HasPrefix(e, "BD_ACTOR=") {
			continue
		}
		env = append(env, e)
	}
	if scope.Actor != "" {
		env = append(env, "BD_ACTOR="+scope.Actor)
	}

	beadsDir := scope.BeadsDir
	if beadsDir == "" && beadID != "" {
		if dir, ok := g.routes.LookupID(beadID); ok {
			beadsDir = dir
		}
	}
	if beadsDir != "" {
		env = append(env, "BEADS_DIR="+beadsDir)
		return filepath.Dir(beadsDir), env
	}
	return g.root, env
}

// invoke runs one bd command under the gateway mutex.
func (g *Gateway) invoke(ctx context.Context, scope Scope, beadID string, args ...string) ([]byte, error) {
	dir, env := g.resolve(scope, beadID)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	g.mu.Lock()
	stdout, stderr, err := g.run(ctx, dir, env, args...)
	g.mu.Unlock()

	if err != nil {
		return nil, g.wrapError(ctx, err, stderr, args)
	}
	// bd sometimes exits 0 with an error on stderr and nothing on stdout.
	if len(stdout) == 0 && strings.TrimSpace(stderr) != "" {
		return nil, g.wrapError(ctx, fmt.Errorf("command produced no output"), stderr, args)
	}
	return stdout, nil
}

func (g *Gateway) wrapError(ctx context.Context, err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return adjerr.Wrap(adjerr.CodeSubprocess, ErrNotInstalled, "running bd")
	}
	if ctx.Err() == context.DeadlineExceeded {
		return adjerr.Newf(adjerr.CodeTimeout, "bd %s timed out after %s", strings.Join(args, " "), g.timeout)
	}
	if notFoundRe.MatchString(stderr) {
		return adjerr.Newf(adjerr.CodeNotFound, "bd %s: %s", strings.Join(args, " "), stderr)
	}
	if stderr != "" {
		return adjerr.Newf(adjerr.CodeSubprocess, "bd %s: %s", strings.Join(args, " "), stderr)
	}
	return adjerr.Wrap(adjerr.CodeSubprocess, err, "bd "+strings.Join(args, " "))
}

// listArgs translates a filter into bd list flags.
func listArgs(f ListFilter) []string {
	args := []string{"list", "--json"}
	if f.Status != "" {
		args = append(args, "--status="+f.Status)
	}
	if f.Type != "" {
		args = append(args, "--type="+f.Type)
	}
	if f.Assignee != "" {
		args = append(args, "--assignee="+f.Assignee)
	}
	if f.Parent != "" {
		args = append(args, "--parent="+f.Parent)
	}
	if f.Limit > 0 {
		args = append(args, "--limit="+strconv.Itoa(f.Limit))
	}
	return args
}

// listOne queries a single database.
func (g *Gateway) listOne(ctx context.Context, dir string, f ListFilter) ([]*Bead, error) {
	out, err := g.invoke(ctx, Scope{BeadsDir: dir}, "", listArgs(f)...)
	if err != nil {
		return nil, err
	}
	var beads []*Bead
	if err := json.Unmarshal(out, &beads); err != nil {
		return nil, adjerr.Wrap(adjerr.CodeSubprocess, err, "parsing bd list output")
	}
	rig := ""
	if dir != "" {
		rig = filepath.Base(filepath.Dir(dir))
	}
	for _, b := range beads {
		b.Rig = rig
	}
	return beads, nil
}

// databaseList selects which databases a listing should touch.
func (g *Gateway) databaseList(scope Scope, rig string) ([]string, error) {
	if scope.BeadsDir != "" {
		return []string{scope.BeadsDir}, nil
	}
	if rig != "" {
		dir, ok := g.routes.RigDir(rig)
		if !ok {
			return nil, adjerr.Newf(adjerr.CodeNotFound, "no beads database for rig %q", rig)
		}
		return []string{dir}, nil
	}
	dirs := g.routes.Dirs()
	if len(dirs) == 0 {
		// Fall back to bd's native discovery from the workspace root.
		return []string{""}, nil
	}
	return dirs, nil
}

// List queries the scoped database (or the filter's rig), hides wisps,
// and sorts by (priority asc, updated desc).
func (g *Gateway) List(ctx context.Context, scope Scope, f ListFilter) ([]*Bead, error) {
	dirs, err := g.databaseList(scope, f.Rig)
	if err != nil {
		return nil, err
	}
	return g.listAcross(ctx, dirs, f)
}

// ListAll queries the union of every known database.
func (g *Gateway) ListAll(ctx context.Context, f ListFilter) ([]*Bead, error) {
	f.Rig = ""
	dirs, err := g.databaseList(Scope{}, "")
	if err != nil {
		return nil, err
	}
	return g.listAcross(ctx, dirs, f)
}

func (g *Gateway) listAcross(ctx context.Context, dirs []string, f ListFilter) ([]*Bead, error) {
	seen := map[string]bool{}
	var merged []*Bead
	var lastErr error
	for _, dir := range dirs {
		beads, err := g.listOne(ctx, dir, f)
		if err != nil {
			// One broken database must not hide the others.
			lastErr = err
			continue
		}
		for _, b := range beads {
			if seen[b.ID] || b.IsWisp() {
				continue
			}
			seen[b.ID] = true
			merged = append(merged, b)
		}
	}
	if merged == nil && lastErr != nil {
		return nil, lastErr
	}
	sortBeads(merged)
	if f.Limit > 0 && len(merged) > f.Limit {
		merged = merged[:f.Limit]
	}
	return merged, nil
}

// ListRecentlyClosed returns beads closed within the last N hours across
// every known database, newest closure first.
func (g *Gateway) ListRecentlyClosed(ctx context.Context, hours int) ([]*Bead, error) {
	if hours <= 0 {
		hours = 24
	}
	beads, err := g.ListAll(ctx, ListFilter{Status: StatusClosed})
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	var recent []*Bead
	for _, b := range beads {
		if t, ok := parseTime(b.ClosedAt); ok && t.After(cutoff) {
			recent = append(recent, b)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool {
		ti, _ := parseTime(recent[i].ClosedAt)
		tj, _ := parseTime(recent[j].ClosedAt)
		return ti.After(tj)
	})
	return recent, nil
}

// Get fetches one bead by id, routing via its prefix.
func (g *Gateway) Get(ctx context.Context, scope Scope, id string) (*Bead, error) {
	if id == "" {
		return nil, adjerr.New(adjerr.CodeInvalidArg, "bead id is required")
	}
	out, err := g.invoke(ctx, scope, id, "show", id, "--json")
	if err != nil {
		return nil, err
	}
	return decodeBead(out)
}

// Create makes a new bead in the scoped database.
func (g *Gateway) Create(ctx context.Context, scope Scope, opts CreateOptions) (*Bead, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return nil, adjerr.New(adjerr.CodeValidation, "title is required")
	}
	typ := opts.Type
	if typ == "" {
		typ = TypeTask
	}
	if !ValidType(typ) {
		return nil, adjerr.Newf(adjerr.CodeValidation, "invalid bead type %q", typ)
	}
	if opts.Priority != nil && (*opts.Priority < 0 || *opts.Priority > 4) {
		return nil, adjerr.Newf(adjerr.CodeValidation, "priority %d out of range 0..4", *opts.Priority)
	}

	args := []string{"create", opts.Title, "--json", "-t", typ}
	if opts.Description != "" {
		args = append(args, "-d", opts.Description)
	}
	if opts.Priority != nil {
		args = append(args, "-p", strconv.Itoa(*opts.Priority))
	}
	if opts.Assignee != "" {
		args = append(args, "--assignee="+opts.Assignee)
	}
	if opts.Parent != "" {
		args = append(args, "--parent="+opts.Parent)
	}

	out, err := g.invoke(ctx, scope, "", args...)
	if err != nil {
		return nil, err
	}
	b, err := decodeBead(out)
	if err != nil {
		return nil, err
	}
	g.publish(eventbus.TopicBeadCreated, b)
	return b, nil
}

// Update mutates the given fields and returns the bead's new state. A
// status change to a terminal state triggers the epic cascade.
func (g *Gateway) Update(ctx context.Context, scope Scope, id string, opts UpdateOptions) (*Bead, error) {
	if id == "" {
		return nil, adjerr.New(adjerr.CodeInvalidArg, "bead id is required")
	}
	args := []string{"update", id}
	if opts.Title != nil {
		args = append(args, "--title="+*opts.Title)
	}
	if opts.Description != nil {
		args = append(args, "--description="+*opts.Description)
	}
	if opts.Status != nil {
		if !ValidStatus(*opts.Status) {
			return nil, adjerr.Newf(adjerr.CodeValidation, "invalid status %q", *opts.Status)
		}
		args = append(args, "--status="+*opts.Status)
	}
	if opts.Priority != nil {
		if *opts.Priority < 0 || *opts.Priority > 4 {
			return nil, adjerr.Newf(adjerr.CodeValidation, "priority %d out of range 0..4", *opts.Priority)
		}
		args = append(args, "--priority="+strconv.Itoa(*opts.Priority))
	}
	if opts.Assignee != nil {
		args = append(args, "--assignee="+*opts.Assignee)
	}
	if len(args) == 2 {
		return nil, adjerr.New(adjerr.CodeValidation, "no fields to update")
	}

	if _, err := g.invoke(ctx, scope, id, args...); err != nil {
		return nil, err
	}
	b, err := g.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	g.publish(eventbus.TopicBeadUpdated, b)
	if opts.Status != nil && b.IsClosed() {
		g.publish(eventbus.TopicBeadClosed, b)
		g.cascade(ctx, scope, b)
	}
	return b, nil
}

// Close closes a bead, then walks its epic ancestry closing any epic whose
// direct children are now all closed. One bead:closed fires per closure.
func (g *Gateway) Close(ctx context.Context, scope Scope, id, reason string) (*Bead, error) {
	if id == "" {
		return nil, adjerr.New(adjerr.CodeInvalidArg, "bead id is required")
	}
	args := []string{"close", id}
	if reason != "" {
		args = append(args, "--reason="+reason)
	}
	if _, err := g.invoke(ctx, scope, id, args...); err != nil {
		return nil, err
	}
	b, err := g.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	g.publish(eventbus.TopicBeadClosed, b)
	g.cascade(ctx, scope, b)
	return b, nil
}

// cascade auto-closes epic ancestors whose direct children are all closed.
// Best-effort: a failed lookup stops the walk, it never fails the close
// that triggered it.
func (g *Gateway) cascade(ctx context.Context, scope Scope, closed *Bead) {
	visited := map[string]bool{closed.ID: true}
	cur := closed
	for cur.Parent != "" && !visited[cur.Parent] {
		visited[cur.Parent] = true
		parent, err := g.Get(ctx, scope, cur.Parent)
		if err != nil || parent.Type != TypeEpic || parent.IsClosed() {
			return
		}
		children, err := g.List(ctx, scope, ListFilter{Parent: parent.ID, Status: "all"})
		if err != nil || len(children) == 0 {
			return
		}
		for _, c := range children {
			if !c.IsClosed() {
				return
			}
		}
		if _, err := g.invoke(ctx, scope, parent.ID, "close", parent.ID, "--reason=all children closed"); err != nil {
			return
		}
		parent.Status = StatusClosed
		g.publish(eventbus.TopicBeadClosed, parent)
		cur = parent
	}
}

// Graph assembles a dependency graph from a listing. Nodes deduplicate by
// id, edges by (from, to, kind).
func (g *Gateway) Graph(ctx context.Context, scope Scope, f ListFilter) (*Graph, error) {
	beads, err := g.List(ctx, scope, f)
	if err != nil {
		return nil, err
	}
	graph := &Graph{}
	nodeSeen := map[string]bool{}
	edgeSeen := map[GraphEdge]bool{}
	addEdge := func(e GraphEdge) {
		if e.From == "" || e.To == "" || edgeSeen[e] {
			return
		}
		edgeSeen[e] = true
		graph.Edges = append(graph.Edges, e)
	}
	for _, b := range beads {
		if !nodeSeen[b.ID] {
			nodeSeen[b.ID] = true
			graph.Nodes = append(graph.Nodes, b)
		}
		for _, dep := range b.DependsOn {
			addEdge(GraphEdge{From: b.ID, To: dep, Kind: "depends_on"})
		}
		for _, blocked := range b.Blocks {
			addEdge(GraphEdge{From: b.ID, To: blocked, Kind: "blocks"})
		}
		if b.Parent != "" {
			addEdge(GraphEdge{From: b.Parent, To: b.ID, Kind: "parent"})
		}
	}
	return graph, nil
}

// EpicsWithProgress lists epics with direct-child completion counts,
// most complete first.
func (g *Gateway) EpicsWithProgress(ctx context.Context, scope Scope, status string) ([]*EpicProgress, error) {
	if status == "" {
		status = StatusOpen
	}
	epics, err := g.List(ctx, scope, ListFilter{Type: TypeEpic, Status: status})
	if err != nil {
		return nil, err
	}
	var out []*EpicProgress
	for _, epic := range epics {
		children, err := g.List(ctx, scope, ListFilter{Parent: epic.ID, Status: "all"})
		if err != nil {
			return nil, err
		}
		p := &EpicProgress{Epic: epic, TotalChildren: len(children)}
		for _, c := range children {
			if c.IsClosed() {
				p.ClosedChildren++
			}
		}
		if p.TotalChildren > 0 {
			p.Completion = float64(p.ClosedChildren) / float64(p.TotalChildren)
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Completion != out[j].Completion {
			return out[i].Completion > out[j].Completion
		}
		return out[i].Epic.ID < out[j].Epic.ID
	})
	return out, nil
}

// Overview aggregates bead state for one project directory.
func (g *Gateway) Overview(ctx context.Context, projectPath string) (*ProjectOverview, error) {
	beadsDir := filepath.Join(projectPath, ".beads")
	if _, err := os.Stat(filepath.Join(beadsDir, "beads.db")); err != nil {
		return nil, adjerr.Newf(adjerr.CodeNotFound, "no beads database under %s", projectPath)
	}
	scope := Scope{BeadsDir: beadsDir}

	open, err := g.List(ctx, scope, ListFilter{Status: StatusOpen})
	if err != nil {
		return nil, err
	}
	inProgress, err := g.List(ctx, scope, ListFilter{Status: StatusInProgress})
	if err != nil {
		return nil, err
	}
	closed, err := g.List(ctx, scope, ListFilter{Status: StatusClosed})
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-24 * time.Hour)
	var recent []*Bead
	for _, b := range closed {
		if t, ok := parseTime(b.ClosedAt); ok && t.After(cutoff) {
			recent = append(recent, b)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool {
		ti, _ := parseTime(recent[i].ClosedAt)
		tj, _ := parseTime(recent[j].ClosedAt)
		return ti.After(tj)
	})
	epics, err := g.EpicsWithProgress(ctx, scope, StatusOpen)
	if err != nil {
		return nil, err
	}
	return &ProjectOverview{
		OpenBeads:      len(open),
		InProgress:     len(inProgress),
		RecentlyClosed: recent,
		Epics:          epics,
	}, nil
}

// decodeBead parses a single-issue JSON payload. bd emits either a bare
// object or a one-element array depending on the subcommand.
func decodeBead(out []byte) (*Bead, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var beads []*Bead
		if err := json.Unmarshal(trimmed, &beads); err != nil {
			return nil, adjerr.Wrap(adjerr.CodeSubprocess, err, "parsing bd output")
		}
		if len(beads) == 0 {
			return nil, adjerr.New(adjerr.CodeSubprocess, "bd returned an empty result")
		}
		return beads[0], nil
	}
	var b Bead
	if err := json.Unmarshal(trimmed, &b); err != nil {
		return nil, adjerr.Wrap(adjerr.CodeSubprocess, err, "parsing bd output")
	}
	if b.ID == "" {
		return nil, adjerr.New(adjerr.CodeSubprocess, "bd output missing issue id")
	}
	return &b, nil
}

// sortBeads orders by priority (urgent first), then most recently updated.
func sortBeads(beads []*Bead) {
	sort.SliceStable(beads, func(i, j int) bool {
		if beads[i].Priority != beads[j].Priority {
			return beads[i].Priority < beads[j].Priority
		}
		ti, _ := parseTime(beads[i].UpdatedAt)
		tj, _ := parseTime(beads[j].UpdatedAt)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return beads[i].ID < beads[j].ID
	})
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
