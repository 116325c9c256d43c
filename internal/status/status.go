// Package status reports backend health per coordination mode and
// exposes optional power control. Standalone and swarm deployments have
// nothing to power-cycle; gastown delegates to the gt CLI.
package status

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/project"
	"github.com/steveyegge/adjutant/internal/version"
)

// Status is the GET /api/status payload.
type Status struct {
	Mode             string           `json:"mode"`
	Healthy          bool             `json:"healthy"`
	Version          string           `json:"version"`
	UptimeSeconds    int64            `json:"uptime_seconds"`
	ActiveProject    *project.Project `json:"active_project,omitempty"`
	ConnectedAgents  int              `json:"connected_agents"`
	TerminalSessions int              `json:"terminal_sessions"`
	PowerControl     bool             `json:"power_control"`
}

// Provider is the capability set behind /api/status and /api/power/*.
type Provider interface {
	Status(ctx context.Context) (*Status, error)
	HasPowerControl() bool
	PowerUp(ctx context.Context) error
	PowerDown(ctx context.Context) error
}

// Counter counts live entries in a registry. *mcpserver.Registry and
// *bridge.Bridge both satisfy it.
type Counter interface {
	Len() int
}

// Deps are the collaborators every provider reads.
type Deps struct {
	Projects  *project.Registry
	Agents    Counter
	Sessions  Counter
	StartedAt time.Time
}

func (d Deps) status(mode string) *Status {
	s := &Status{
		Mode:          mode,
		Healthy:       true,
		Version:       version.Version,
		UptimeSeconds: int64(time.Since(d.StartedAt).Seconds()),
	}
	if d.Projects != nil {
		s.ActiveProject = d.Projects.Active()
	}
	if d.Agents != nil {
		s.ConnectedAgents = d.Agents.Len()
	}
	if d.Sessions != nil {
		s.TerminalSessions = d.Sessions.Len()
	}
	return s
}

// ForMode builds the provider for a project coordination mode. Unknown
// modes get standalone semantics.
func ForMode(mode project.Mode, deps Deps) Provider {
	switch mode {
	case project.ModeGastown:
		return NewGastown(deps)
	case project.ModeSwarm:
		return &Swarm{deps: deps}
	default:
		return &Standalone{deps: deps}
	}
}

// Standalone serves deployments with no external supervisor. Power
// control is absent.
type Standalone struct {
	deps Deps
}

// NewStandalone builds the standalone provider.
func NewStandalone(deps Deps) *Standalone { return &Standalone{deps: deps} }

func (s *Standalone) Status(ctx context.Context) (*Status, error) {
	return s.deps.status(string(project.ModeStandalone)), nil
}

func (s *Standalone) HasPowerControl() bool { return false }

func (s *Standalone) PowerUp(ctx context.Context) error {
	return adjerr.New(adjerr.CodeNotSupported, "power control is not available in standalone mode")
}

func (s *Standalone) PowerDown(ctx context.Context) error {
	return adjerr.New(adjerr.CodeNotSupported, "power control is not available in standalone mode")
}

// Swarm serves swarm-coordinated deployments. The swarm scheduler owns
// worker lifecycle, so power control is absent here too.
type Swarm struct {
	deps Deps
}

func (s *Swarm) Status(ctx context.Context) (*Status, error) {
	return s.deps.status(string(project.ModeSwarm)), nil
}

func (s *Swarm) HasPowerControl() bool { return false }

func (s *Swarm) PowerUp(ctx context.Context) error {
	return adjerr.New(adjerr.CodeNotSupported, "the swarm scheduler owns worker lifecycle")
}

func (s *Swarm) PowerDown(ctx context.Context) error {
	return adjerr.New(adjerr.CodeNotSupported, "the swarm scheduler owns worker lifecycle")
}

// Gastown serves gastown-mode deployments, where the gt CLI can start
// and stop the town's daemons.
type Gastown struct {
	deps Deps

	// runGT is swappable for tests.
	runGT func(ctx context.Context, args ...string) error
}

// NewGastown builds the gastown provider.
func NewGastown(deps Deps) *Gastown {
	return &Gastown{deps: deps, runGT: execGT}
}

func execGT(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "gt", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return adjerr.Wrap(adjerr.CodeTimeout, err, "gt "+args[0]+" timed out")
		}
		return adjerr.Wrap(adjerr.CodeSubprocess, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (g *Gastown) Status(ctx context.Context) (*Status, error) {
	s := g.deps.status(string(project.ModeGastown))
	s.PowerControl = true
	return s, nil
}

func (g *Gastown) HasPowerControl() bool { return true }

func (g *Gastown) PowerUp(ctx context.Context) error {
	return g.runGT(ctx, "up")
}

func (g *Gastown) PowerDown(ctx context.Context) error {
	return g.runGT(ctx, "down")
}
