package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/eventbus"
)

func newRegistry(t *testing.T, bus *eventbus.Bus) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	r, err := Load(filepath.Join(root, "projects.json"), root, bus)
	if err != nil {
		t.Fatal(err)
	}
	return r, root
}

func projectDir(t *testing.T, root, name string) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Join(path, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRegisterExistingPath(t *testing.T) {
	r, root := newRegistry(t, nil)
	dir := projectDir(t, root, "widget")

	p, err := r.Register(context.Background(), RegisterOptions{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "widget" {
		t.Errorf("Name = %q, want widget", p.Name)
	}
	if p.Mode != ModeStandalone {
		t.Errorf("Mode = %q, want standalone default", p.Mode)
	}
	if p.Active {
		t.Error("new projects must not be active")
	}
	if p.ID == "" || p.RegisteredAt == "" {
		t.Error("ID and RegisteredAt must be set")
	}

	if _, err := r.Register(context.Background(), RegisterOptions{Path: dir}); adjerr.CodeOf(err) != adjerr.CodeAlreadyExists {
		t.Errorf("duplicate register error = %v, want ALREADY_EXISTS", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	r, root := newRegistry(t, nil)
	dir := projectDir(t, root, "widget")

	cases := []RegisterOptions{
		{},                                    // no source
		{Path: dir, Empty: true},              // two sources
		{Path: dir, Mode: Mode("anarchy")},    // bad mode
		{Empty: true},                         // empty needs a name
		{Path: filepath.Join(root, "no-dir")}, // path must exist
	}
	for i, opts := range cases {
		if _, err := r.Register(context.Background(), opts); adjerr.CodeOf(err) != adjerr.CodeValidation {
			t.Errorf("case %d: error = %v, want VALIDATION_ERROR", i, err)
		}
	}
}

func TestRegisterEmptyCreatesDirectory(t *testing.T) {
	r, root := newRegistry(t, nil)

	p, err := r.Register(context.Background(), RegisterOptions{Empty: true, Name: "fresh", Mode: ModeSwarm})
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(p.Path)
	if err != nil || !info.IsDir() {
		t.Fatalf("project dir %s not created: %v", p.Path, err)
	}
	if p.Path != filepath.Join(root, "fresh") {
		t.Errorf("Path = %q, want under workspace root", p.Path)
	}
	if p.Mode != ModeSwarm {
		t.Errorf("Mode = %q", p.Mode)
	}
}

func TestRegisterCloneUsesGit(t *testing.T) {
	r, root := newRegistry(t, nil)
	var gotArgs []string
	r.runGit = func(ctx context.Context, args ...string) error {
		gotArgs = args
		return os.MkdirAll(args[len(args)-1], 0o755)
	}

	p, err := r.Register(context.Background(), RegisterOptions{CloneURL: "git@example.com:org/thing.git"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "thing" {
		t.Errorf("Name = %q, want derived from URL", p.Name)
	}
	if p.GitRemote != "git@example.com:org/thing.git" {
		t.Errorf("GitRemote = %q", p.GitRemote)
	}
	if len(gotArgs) != 3 || gotArgs[0] != "clone" || gotArgs[2] != filepath.Join(root, "thing") {
		t.Errorf("git args = %v", gotArgs)
	}
}

func TestActivateIsExclusive(t *testing.T) {
	r, root := newRegistry(t, nil)
	a, _ := r.Register(context.Background(), RegisterOptions{Path: projectDir(t, root, "a")})
	b, _ := r.Register(context.Background(), RegisterOptions{Path: projectDir(t, root, "b")})

	if r.Active() != nil {
		t.Fatal("nothing should be active initially")
	}
	if _, err := r.Activate(a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Activate(b.ID); err != nil {
		t.Fatal(err)
	}

	active := r.Active()
	if active == nil || active.ID != b.ID {
		t.Fatalf("Active = %+v, want %s", active, b.ID)
	}
	got, _ := r.Get(a.ID)
	if got.Active {
		t.Error("activating b must deactivate a")
	}

	if _, err := r.Activate("nope"); adjerr.CodeOf(err) != adjerr.CodeNotFound {
		t.Errorf("activate unknown = %v, want NOT_FOUND", err)
	}
}

func TestUnregisterKeepsDirectory(t *testing.T) {
	r, root := newRegistry(t, nil)
	dir := projectDir(t, root, "keepme")
	p, _ := r.Register(context.Background(), RegisterOptions{Path: dir})

	if err := r.Unregister(p.ID); err != nil {
		t.Fatal(err)
	}
	if len(r.List()) != 0 {
		t.Error("project still listed after unregister")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Error("unregister must not touch the directory")
	}
	if err := r.Unregister(p.ID); adjerr.CodeOf(err) != adjerr.CodeNotFound {
		t.Errorf("double unregister = %v, want NOT_FOUND", err)
	}
}

func TestPersistenceRoundtrip(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	r, root := newRegistry(t, bus)
	dir := projectDir(t, root, "durable")
	p, err := r.Register(context.Background(), RegisterOptions{Path: dir, Mode: ModeGastown})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Activate(p.ID); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(filepath.Join(root, "projects.json"), root, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reloaded.Get(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "durable" || got.Mode != ModeGastown || !got.Active {
		t.Errorf("reloaded project = %+v", got)
	}
}

func TestRegisterAndActivateEvents(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	r, root := newRegistry(t, bus)
	dir := projectDir(t, root, "noisy")

	p, err := r.Register(context.Background(), RegisterOptions{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	waitTopic(t, sub, eventbus.TopicProjectRegistered)

	if _, err := r.Activate(p.ID); err != nil {
		t.Fatal(err)
	}
	waitTopic(t, sub, eventbus.TopicProjectActivated)

	if err := r.Unregister(p.ID); err != nil {
		t.Fatal(err)
	}
	waitTopic(t, sub, eventbus.TopicProjectUnregistered)
}

func waitTopic(t *testing.T, sub *eventbus.Subscription, topic eventbus.Topic) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			if ev.Topic == topic {
				return
			}
		case <-deadline:
			t.Fatalf("no %s event", topic)
		}
	}
}

func TestDiscoverFindsAndRefreshes(t *testing.T) {
	r, root := newRegistry(t, nil)
	scan := filepath.Join(root, "scan")
	one := filepath.Join(scan, "one")
	if err := os.MkdirAll(filepath.Join(one, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	two := filepath.Join(scan, "nested", "two")
	if err := os.MkdirAll(filepath.Join(two, ".beads"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Not a project: no markers.
	if err := os.MkdirAll(filepath.Join(scan, "plain"), 0o755); err != nil {
		t.Fatal(err)
	}

	added, err := r.Discover([]string{scan}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 2 {
		t.Fatalf("added %d projects, want 2", len(added))
	}

	// Second pass finds nothing new but refreshes has_beads.
	if err := os.WriteFile(filepath.Join(two, ".beads", "beads.db"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	added, err = r.Discover([]string{scan}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 0 {
		t.Errorf("second discover added %d, want 0", len(added))
	}
	for _, p := range r.List() {
		if p.Path == two && !p.HasBeads {
			t.Error("has_beads not refreshed")
		}
	}
}

func TestHealth(t *testing.T) {
	r, root := newRegistry(t, nil)
	dir := projectDir(t, root, "alive")
	p, _ := r.Register(context.Background(), RegisterOptions{Path: dir})

	h, err := r.Health(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !h.PathExists || !h.GitValid || h.HasBeads {
		t.Errorf("health = %+v", h)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	h, err = r.Health(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if h.PathExists || h.GitValid {
		t.Errorf("health after delete = %+v", h)
	}
}
