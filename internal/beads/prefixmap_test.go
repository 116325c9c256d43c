package beads

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeBeadsDB creates projectDir/.beads/beads.db with the given prefix
// stored the way bd stores it.
func writeBeadsDB(t *testing.T, projectDir, prefix string) {
	t.Helper()
	beadsDir := filepath.Join(projectDir, ".beads")
	if err := os.MkdirAll(beadsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(beadsDir, "beads.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE config (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		t.Fatalf("create config: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO config (key, value) VALUES ('issue_prefix', ?)`, prefix); err != nil {
		t.Fatalf("insert prefix: %v", err)
	}
}

func TestPrefixMapScan(t *testing.T) {
	root := t.TempDir()
	writeBeadsDB(t, filepath.Join(root, "alpha"), "aa")
	writeBeadsDB(t, filepath.Join(root, "nested", "beta"), "bb-")

	// A .beads directory without a database is ignored.
	if err := os.MkdirAll(filepath.Join(root, "empty", ".beads"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	p := NewPrefixMap(root, time.Hour)
	p.Refresh()

	dir, ok := p.Lookup("aa-")
	if !ok || dir != filepath.Join(root, "alpha", ".beads") {
		t.Errorf("Lookup(aa-) = %q, %v", dir, ok)
	}
	// Prefixes normalize to a trailing hyphen regardless of how the
	// database spells them.
	if dir, ok := p.Lookup("bb-"); !ok || dir != filepath.Join(root, "nested", "beta", ".beads") {
		t.Errorf("Lookup(bb-) = %q, %v", dir, ok)
	}

	if dir, ok := p.LookupID("aa-042.7"); !ok || dir != filepath.Join(root, "alpha", ".beads") {
		t.Errorf("LookupID(aa-042.7) = %q, %v", dir, ok)
	}

	if dir, ok := p.RigDir("beta"); !ok || dir != filepath.Join(root, "nested", "beta", ".beads") {
		t.Errorf("RigDir(beta) = %q, %v", dir, ok)
	}

	if dirs := p.Dirs(); len(dirs) != 2 {
		t.Errorf("Dirs() = %v, want 2 entries", dirs)
	}
}

func TestPrefixMapMissTriggersRescan(t *testing.T) {
	root := t.TempDir()
	p := NewPrefixMap(root, time.Hour)
	p.Refresh()

	if _, ok := p.Lookup("cc-"); ok {
		t.Fatal("unexpected hit in empty workspace")
	}

	// A database created after the scan is found by the miss path.
	writeBeadsDB(t, filepath.Join(root, "gamma"), "cc")
	if dir, ok := p.Lookup("cc-"); !ok || dir != filepath.Join(root, "gamma", ".beads") {
		t.Errorf("Lookup(cc-) after create = %q, %v", dir, ok)
	}
}

// Watch holds its goroutine for the life of the context; callers that
// have more to do (the serve command) must not invoke it inline.
func TestPrefixMapWatchBlocksUntilCancel(t *testing.T) {
	p := NewPrefixMap(t.TempDir(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Watch returned before cancel: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Watch returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestPrefixMapSkipsUnreadableDatabases(t *testing.T) {
	root := t.TempDir()
	beadsDir := filepath.Join(root, "junk", ".beads")
	if err := os.MkdirAll(beadsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(beadsDir, "beads.db"), []byte("not a database"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := NewPrefixMap(root, time.Hour)
	p.Refresh()
	if dirs := p.Dirs(); len(dirs) != 0 {
		t.Errorf("Dirs() = %v, want none", dirs)
	}
}
