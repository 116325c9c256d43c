package beads

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// maxScanDepth bounds the workspace walk. Projects nest at most a few
// levels below the root.
const maxScanDepth = 4

// scanDebounce coalesces bursts of filesystem events into one rescan.
const scanDebounce = 500 * time.Millisecond

// PrefixMap maps bead id prefixes to the .beads directory that owns them.
// It is built by scanning the workspace for .beads/beads.db files and
// reading each database's issue_prefix tag, the same row bd itself writes.
type PrefixMap struct {
	root         string
	refreshEvery time.Duration

	mu       sync.RWMutex
	dirs     map[string]string // "adj-" -> /abs/path/.beads
	rigs     map[string]string // project dir name -> /abs/path/.beads
	lastScan time.Time
}

// NewPrefixMap creates a map rooted at the workspace directory. Call
// Refresh (or let a lookup miss trigger one) before first use.
func NewPrefixMap(root string, refreshEvery time.Duration) *PrefixMap {
	return &PrefixMap{
		root:         root,
		refreshEvery: refreshEvery,
		dirs:         map[string]string{},
		rigs:         map[string]string{},
	}
}

// Refresh rescans the workspace unconditionally.
func (p *PrefixMap) Refresh() {
	dirs, rigs := p.scan()
	p.mu.Lock()
	p.dirs = dirs
	p.rigs = rigs
	p.lastScan = time.Now()
	p.mu.Unlock()
}

// maybeRefresh rescans when the map has gone stale.
func (p *PrefixMap) maybeRefresh() {
	p.mu.RLock()
	stale := time.Since(p.lastScan) >= p.refreshEvery
	p.mu.RUnlock()
	if stale {
		p.Refresh()
	}
}

// Lookup resolves a prefix ("adj-") to its .beads directory. A miss
// triggers one rescan before giving up.
func (p *PrefixMap) Lookup(prefix string) (string, bool) {
	p.maybeRefresh()
	p.mu.RLock()
	dir, ok := p.dirs[prefix]
	p.mu.RUnlock()
	if ok {
		return dir, true
	}

	// Miss: the database may have been created since the last scan.
	p.Refresh()
	p.mu.RLock()
	dir, ok = p.dirs[prefix]
	p.mu.RUnlock()
	return dir, ok
}

// LookupID resolves a bead id via its prefix.
func (p *PrefixMap) LookupID(beadID string) (string, bool) {
	prefix := ExtractPrefix(beadID)
	if prefix == "" {
		return "", false
	}
	return p.Lookup(prefix)
}

// RigDir resolves a project directory name to its .beads directory.
func (p *PrefixMap) RigDir(rig string) (string, bool) {
	p.maybeRefresh()
	p.mu.RLock()
	dir, ok := p.rigs[rig]
	p.mu.RUnlock()
	return dir, ok
}

// Dirs returns every known .beads directory, deduplicated.
func (p *PrefixMap) Dirs() []string {
	p.maybeRefresh()
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, dir := range p.dirs {
		if !seen[dir] {
			seen[dir] = true
			out = append(out, dir)
		}
	}
	return out
}

// scan walks the workspace for beads databases and reads their prefixes.
// Databases that cannot be opened or carry no prefix are skipped.
func (p *PrefixMap) scan() (map[string]string, map[string]string) {
	dirs := map[string]string{}
	rigs := map[string]string{}
	root := filepath.Clean(p.root)

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr == nil && rel != "." && strings.Count(rel, string(filepath.Separator)) >= maxScanDepth {
			return filepath.SkipDir
		}
		name := d.Name()
		if name == "node_modules" || name == "vendor" || (strings.HasPrefix(name, ".") && name != ".beads" && rel != ".") {
			return filepath.SkipDir
		}
		if name != ".beads" {
			return nil
		}

		dbPath := filepath.Join(path, "beads.db")
		if _, statErr := os.Stat(dbPath); statErr != nil {
			return filepath.SkipDir
		}
		if prefix := readPrefix(dbPath); prefix != "" {
			dirs[prefix] = path
			rigs[filepath.Base(filepath.Dir(path))] = path
		}
		return filepath.SkipDir
	})

	return dirs, rigs
}

// readPrefix reads the issue_prefix config row from a beads database.
// Returns the prefix with its trailing hyphen, or "" if unreadable.
func readPrefix(dbPath string) string {
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		return ""
	}
	defer db.Close()

	var prefix string
	if err := db.QueryRow("SELECT value FROM config WHERE key = 'issue_prefix'").Scan(&prefix); err != nil {
		return ""
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasSuffix(prefix, "-") {
		prefix += "-"
	}
	return prefix
}

// Watch rescans on workspace filesystem changes, debounced, with the
// periodic interval as a fallback for events the watcher misses. Blocks
// until ctx is done.
func (p *PrefixMap) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// No inotify available; interval refresh still works.
		watcher = nil
	}
	if watcher != nil {
		defer watcher.Close()
		_ = watcher.Add(p.root)
	}

	ticker := time.NewTicker(p.refreshEvery)
	defer ticker.Stop()

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		var events chan fsnotify.Event
		var errors chan error
		if watcher != nil {
			events = watcher.Events
			errors = watcher.Errors
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Refresh()
		case _, ok := <-events:
			if !ok {
				watcher = nil
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(scanDebounce)
				fire = debounce.C
			} else {
				debounce.Reset(scanDebounce)
			}
		case _, ok := <-errors:
			if !ok {
				watcher = nil
			}
		case <-fire:
			debounce = nil
			fire = nil
			p.Refresh()
		}
	}
}
