package status

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/project"
)

type fixedCounter int

func (c fixedCounter) Len() int { return int(c) }

func testDeps() Deps {
	return Deps{
		Agents:    fixedCounter(3),
		Sessions:  fixedCounter(2),
		StartedAt: time.Now().Add(-90 * time.Second),
	}
}

func TestForMode(t *testing.T) {
	deps := testDeps()
	if _, ok := ForMode(project.ModeGastown, deps).(*Gastown); !ok {
		t.Error("gastown mode should build the Gastown provider")
	}
	if _, ok := ForMode(project.ModeSwarm, deps).(*Swarm); !ok {
		t.Error("swarm mode should build the Swarm provider")
	}
	if _, ok := ForMode(project.ModeStandalone, deps).(*Standalone); !ok {
		t.Error("standalone mode should build the Standalone provider")
	}
	if _, ok := ForMode(project.Mode("weird"), deps).(*Standalone); !ok {
		t.Error("unknown modes should fall back to standalone")
	}
}

func TestStandaloneStatusAndPower(t *testing.T) {
	p := NewStandalone(testDeps())
	s, err := p.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if s.Mode != "standalone" || !s.Healthy || s.PowerControl {
		t.Errorf("status = %+v", s)
	}
	if s.ConnectedAgents != 3 || s.TerminalSessions != 2 {
		t.Errorf("counts = %d agents, %d sessions", s.ConnectedAgents, s.TerminalSessions)
	}
	if s.UptimeSeconds < 89 {
		t.Errorf("uptime = %d, want >= 89", s.UptimeSeconds)
	}

	if p.HasPowerControl() {
		t.Error("standalone must not claim power control")
	}
	if err := p.PowerUp(context.Background()); adjerr.CodeOf(err) != adjerr.CodeNotSupported {
		t.Errorf("PowerUp code = %v, want NOT_SUPPORTED", adjerr.CodeOf(err))
	}
	if err := p.PowerDown(context.Background()); adjerr.CodeOf(err) != adjerr.CodeNotSupported {
		t.Errorf("PowerDown code = %v, want NOT_SUPPORTED", adjerr.CodeOf(err))
	}
}

func TestGastownPowerDelegatesToGT(t *testing.T) {
	p := NewGastown(testDeps())
	var got [][]string
	p.runGT = func(ctx context.Context, args ...string) error {
		got = append(got, args)
		return nil
	}

	if !p.HasPowerControl() {
		t.Fatal("gastown should have power control")
	}
	if err := p.PowerUp(context.Background()); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if err := p.PowerDown(context.Background()); err != nil {
		t.Fatalf("PowerDown: %v", err)
	}
	if len(got) != 2 || got[0][0] != "up" || got[1][0] != "down" {
		t.Errorf("gt calls = %v", got)
	}

	s, err := p.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !s.PowerControl || s.Mode != "gastown" {
		t.Errorf("status = %+v", s)
	}
}

func TestSwarmPowerNotSupported(t *testing.T) {
	p := ForMode(project.ModeSwarm, testDeps())
	err := p.PowerUp(context.Background())
	if adjerr.CodeOf(err) != adjerr.CodeNotSupported {
		t.Errorf("PowerUp code = %v, want NOT_SUPPORTED", adjerr.CodeOf(err))
	}
	if !strings.Contains(adjerr.MessageOf(err), "scheduler") {
		t.Errorf("message = %q", adjerr.MessageOf(err))
	}
}
