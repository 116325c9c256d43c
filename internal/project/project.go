// Package project keeps the on-disk registry of projects the dashboard
// manages. At most one project is active at a time; activation is the only
// cross-project state the backend holds.
//
// The registry never deletes anything from the filesystem. Unregister
// forgets the entry and nothing else.
package project

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/eventbus"
)

// Mode tags how agents are coordinated inside a project.
type Mode string

const (
	ModeStandalone Mode = "standalone"
	ModeSwarm      Mode = "swarm"
	ModeGastown    Mode = "gastown"
)

// ValidMode reports whether m is a known coordination mode.
func ValidMode(m Mode) bool {
	return m == ModeStandalone || m == ModeSwarm || m == ModeGastown
}

// cloneTimeout bounds git clone during registration.
const cloneTimeout = 2 * time.Minute

// Project is one registry entry.
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Path         string `json:"path"`
	GitRemote    string `json:"git_remote,omitempty"`
	Mode         Mode   `json:"mode"`
	Active       bool   `json:"active"`
	HasBeads     bool   `json:"has_beads"`
	RegisteredAt string `json:"registered_at"`
}

// Health is a point-in-time liveness report for one project.
type Health struct {
	PathExists bool `json:"path_exists"`
	GitValid   bool `json:"git_valid"`
	HasBeads   bool `json:"has_beads"`
}

// RegisterOptions name a project source. Exactly one of Path, CloneURL, or
// Empty must be set.
type RegisterOptions struct {
	Path     string // existing directory
	CloneURL string // git remote to clone under the workspace root
	Empty    bool   // create a fresh directory under the workspace root
	Name     string // display name; required for Empty, derived otherwise
	Mode     Mode   // defaults to standalone
}

type registryFile struct {
	Projects []*Project `json:"projects"`
}

// Registry owns the project list and its JSON file.
type Registry struct {
	path string // registry file
	root string // workspace root for clones and empty projects
	bus  *eventbus.Bus

	mu       sync.Mutex
	projects []*Project

	// runGit is swapped in tests.
	runGit func(ctx context.Context, args ...string) error
}

// Load reads the registry file, creating an empty registry when the file
// does not exist yet. bus may be nil.
func Load(path, workspaceRoot string, bus *eventbus.Bus) (*Registry, error) {
	r := &Registry{path: path, root: workspaceRoot, bus: bus, runGit: runGit}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "reading project registry")
	}
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, fmt.Sprintf("parsing %s", path))
	}
	r.projects = file.Projects
	return r, nil
}

func runGit(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return adjerr.Newf(adjerr.CodeSubprocess, "git %s: %s", strings.Join(args, " "), msg)
	}
	return nil
}

// save writes the whole registry through a temp file so a crash can never
// leave a half-written registry behind. Callers hold r.mu.
func (r *Registry) save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return adjerr.Wrap(adjerr.CodeStorage, err, "creating state directory")
	}
	data, err := json.MarshalIndent(registryFile{Projects: r.projects}, "", "  ")
	if err != nil {
		return adjerr.Wrap(adjerr.CodeStorage, err, "encoding project registry")
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return adjerr.Wrap(adjerr.CodeStorage, err, "writing project registry")
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return adjerr.Wrap(adjerr.CodeStorage, err, "replacing project registry")
	}
	return nil
}

func (r *Registry) publish(topic eventbus.Topic, p *Project) {
	if r.bus != nil {
		r.bus.Publish(topic, p)
	}
}

// Register adds a project from an existing path, a clone URL, or nothing.
func (r *Registry) Register(ctx context.Context, opts RegisterOptions) (*Project, error) {
	sources := 0
	if opts.Path != "" {
		sources++
	}
	if opts.CloneURL != "" {
		sources++
	}
	if opts.Empty {
		sources++
	}
	if sources != 1 {
		return nil, adjerr.New(adjerr.CodeValidation, "exactly one of path, clone_url, or empty is required")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeStandalone
	}
	if !ValidMode(mode) {
		return nil, adjerr.Newf(adjerr.CodeValidation, "invalid mode %q", mode)
	}

	var path, name, remote string
	switch {
	case opts.Path != "":
		abs, err := filepath.Abs(opts.Path)
		if err != nil {
			return nil, adjerr.Wrap(adjerr.CodeValidation, err, "resolving path")
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return nil, adjerr.Newf(adjerr.CodeValidation, "path %s is not a directory", abs)
		}
		path = abs
		name = opts.Name
		if name == "" {
			name = filepath.Base(abs)
		}

	case opts.CloneURL != "":
		name = opts.Name
		if name == "" {
			name = repoName(opts.CloneURL)
		}
		if name == "" {
			return nil, adjerr.New(adjerr.CodeValidation, "cannot derive a name from clone_url; pass name")
		}
		path = filepath.Join(r.root, name)
		if _, err := os.Stat(path); err == nil {
			return nil, adjerr.Newf(adjerr.CodeAlreadyExists, "%s already exists", path)
		}
		cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout)
		defer cancel()
		if err := r.runGit(cloneCtx, "clone", opts.CloneURL, path); err != nil {
			return nil, err
		}
		remote = opts.CloneURL

	case opts.Empty:
		if opts.Name == "" {
			return nil, adjerr.New(adjerr.CodeValidation, "name is required for an empty project")
		}
		name = opts.Name
		path = filepath.Join(r.root, name)
		if _, err := os.Stat(path); err == nil {
			return nil, adjerr.Newf(adjerr.CodeAlreadyExists, "%s already exists", path)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, adjerr.Wrap(adjerr.CodeStorage, err, "creating project directory")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.projects {
		if p.Path == path {
			return nil, adjerr.Newf(adjerr.CodeAlreadyExists, "project already registered at %s", path)
		}
	}

	p := &Project{
		ID:           uuid.NewString(),
		Name:         name,
		Path:         path,
		GitRemote:    remote,
		Mode:         mode,
		HasBeads:     hasBeads(path),
		RegisteredAt: time.Now().UTC().Format(time.RFC3339),
	}
	r.projects = append(r.projects, p)
	if err := r.save(); err != nil {
		r.projects = r.projects[:len(r.projects)-1]
		return nil, err
	}
	r.publish(eventbus.TopicProjectRegistered, p)
	return clone(p), nil
}

// List returns all projects in registration order.
func (r *Registry) List() []*Project {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Project, len(r.projects))
	for i, p := range r.projects {
		out[i] = clone(p)
	}
	return out
}

// Get returns one project by id.
func (r *Registry) Get(id string) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.find(id)
	if p == nil {
		return nil, adjerr.Newf(adjerr.CodeNotFound, "project %s not found", id)
	}
	return clone(p), nil
}

// Active returns the active project, or nil when none is active.
func (r *Registry) Active() *Project {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.projects {
		if p.Active {
			return clone(p)
		}
	}
	return nil
}

// Activate makes one project active and deactivates every other.
func (r *Registry) Activate(id string) (*Project, error) {
	r.mu.Lock()
	p := r.find(id)
	if p == nil {
		r.mu.Unlock()
		return nil, adjerr.Newf(adjerr.CodeNotFound, "project %s not found", id)
	}
	for _, other := range r.projects {
		other.Active = other.ID == id
	}
	if err := r.save(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	out := clone(p)
	r.mu.Unlock()

	r.publish(eventbus.TopicProjectActivated, out)
	return out, nil
}

// Unregister forgets a project. The directory on disk is untouched.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	idx := -1
	for i, p := range r.projects {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return adjerr.Newf(adjerr.CodeNotFound, "project %s not found", id)
	}
	removed := r.projects[idx]
	r.projects = append(r.projects[:idx], r.projects[idx+1:]...)
	if err := r.save(); err != nil {
		r.mu.Unlock()
		return err
	}
	out := clone(removed)
	r.mu.Unlock()

	r.publish(eventbus.TopicProjectUnregistered, out)
	return nil
}

// Discover scans base directories for project markers (.git or .beads),
// registers anything new, and refreshes has_beads on known entries.
// Depth is clamped to 1..3. Returns newly added projects.
func (r *Registry) Discover(baseDirs []string, maxDepth int) ([]*Project, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	if maxDepth > 3 {
		maxDepth = 3
	}

	var candidates []string
	for _, base := range baseDirs {
		base = filepath.Clean(base)
		_ = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(base, path)
			if relErr != nil {
				return nil
			}
			depth := 0
			if rel != "." {
				depth = strings.Count(rel, string(filepath.Separator)) + 1
			}
			if depth > maxDepth {
				return filepath.SkipDir
			}
			name := d.Name()
			if name == "node_modules" || name == "vendor" || (strings.HasPrefix(name, ".") && rel != ".") {
				return filepath.SkipDir
			}
			if isProjectDir(path) {
				candidates = append(candidates, path)
				return filepath.SkipDir
			}
			return nil
		})
	}

	r.mu.Lock()
	known := map[string]*Project{}
	for _, p := range r.projects {
		known[p.Path] = p
	}

	var added []*Project
	changed := false
	for _, path := range candidates {
		if p, ok := known[path]; ok {
			if beads := hasBeads(path); beads != p.HasBeads {
				p.HasBeads = beads
				changed = true
			}
			continue
		}
		p := &Project{
			ID:           uuid.NewString(),
			Name:         filepath.Base(path),
			Path:         path,
			Mode:         ModeStandalone,
			HasBeads:     hasBeads(path),
			RegisteredAt: time.Now().UTC().Format(time.RFC3339),
		}
		r.projects = append(r.projects, p)
		known[path] = p
		added = append(added, clone(p))
		changed = true
	}
	if changed {
		if err := r.save(); err != nil {
			r.mu.Unlock()
			return nil, err
		}
	}
	r.mu.Unlock()

	for _, p := range added {
		r.publish(eventbus.TopicProjectRegistered, p)
	}
	return added, nil
}

// Health reports liveness facts for one project without mutating it.
func (r *Registry) Health(id string) (*Health, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Stat(p.Path)
	exists := statErr == nil && info.IsDir()
	return &Health{
		PathExists: exists,
		GitValid:   exists && hasGit(p.Path),
		HasBeads:   exists && hasBeads(p.Path),
	}, nil
}

func (r *Registry) find(id string) *Project {
	for _, p := range r.projects {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func clone(p *Project) *Project {
	c := *p
	return &c
}

// isProjectDir reports whether a directory looks like a project root.
func isProjectDir(path string) bool {
	return hasGit(path) || hasBeadsDir(path)
}

// hasGit accepts both .git directories and the .git file a worktree uses.
func hasGit(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

func hasBeadsDir(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".beads"))
	return err == nil && info.IsDir()
}

// hasBeads requires an actual database, not just the directory.
func hasBeads(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".beads", "beads.db"))
	return err == nil
}

// repoName derives a project name from a git URL.
func repoName(url string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	idx := strings.LastIndexAny(trimmed, "/:")
	if idx < 0 || idx == len(trimmed)-1 {
		return ""
	}
	return trimmed[idx+1:]
}
