package store

import (
	"context"
	"testing"
	"time"

	"github.com/steveyegge/adjutant/internal/adjerr"
)

func mustProposal(t *testing.T, s *Store, author, title, typ string) *Proposal {
	t.Helper()
	p, err := s.CreateProposal(context.Background(), author, title, "", typ)
	if err != nil {
		t.Fatalf("CreateProposal(%s): %v", title, err)
	}
	return p
}

func TestProposalLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := mustProposal(t, s, "crew-a", "cache bd list results", ProposalEngineering)
	if p.Status != ProposalPending {
		t.Fatalf("new proposal status = %q, want pending", p.Status)
	}

	p, err := s.UpdateProposalStatus(ctx, p.ID, ProposalAccepted)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if p.Status != ProposalAccepted {
		t.Errorf("status = %q, want accepted", p.Status)
	}

	p, err = s.UpdateProposalStatus(ctx, p.ID, ProposalCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if p.Status != ProposalCompleted {
		t.Errorf("status = %q, want completed", p.Status)
	}
}

func TestProposalTransitionRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		steps []string // applied in order; the last one must fail
	}{
		{"pending straight to completed", []string{ProposalCompleted}},
		{"dismissed is terminal", []string{ProposalDismissed, ProposalAccepted}},
		{"completed is terminal", []string{ProposalAccepted, ProposalCompleted, ProposalAccepted}},
		{"accepted cannot be dismissed", []string{ProposalAccepted, ProposalDismissed}},
		{"cannot return to pending", []string{ProposalPending}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustProposal(t, s, "crew-a", tt.name, ProposalProduct)
			var err error
			for i, status := range tt.steps {
				_, err = s.UpdateProposalStatus(ctx, p.ID, status)
				if i < len(tt.steps)-1 && err != nil {
					t.Fatalf("setup step %s: %v", status, err)
				}
			}
			if adjerr.CodeOf(err) != adjerr.CodeValidation {
				t.Errorf("code = %q, want %q (err: %v)", adjerr.CodeOf(err), adjerr.CodeValidation, err)
			}
		})
	}
}

func TestProposalValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateProposal(ctx, "crew-a", "  ", "", ProposalProduct); adjerr.CodeOf(err) != adjerr.CodeValidation {
		t.Errorf("blank title code = %q, want validation", adjerr.CodeOf(err))
	}
	if _, err := s.CreateProposal(ctx, "crew-a", "ok", "", "whimsy"); adjerr.CodeOf(err) != adjerr.CodeValidation {
		t.Errorf("bad type code = %q, want validation", adjerr.CodeOf(err))
	}
	if _, err := s.ListProposals(ctx, "archived"); adjerr.CodeOf(err) != adjerr.CodeValidation {
		t.Errorf("bad status filter code = %q, want validation", adjerr.CodeOf(err))
	}
	if _, err := s.UpdateProposalStatus(ctx, "no-such-id", ProposalAccepted); adjerr.CodeOf(err) != adjerr.CodeNotFound {
		t.Errorf("unknown id code = %q, want not found", adjerr.CodeOf(err))
	}
	if _, err := s.GetProposal(ctx, "no-such-id"); adjerr.CodeOf(err) != adjerr.CodeNotFound {
		t.Errorf("get unknown id code = %q, want not found", adjerr.CodeOf(err))
	}
}

func TestProposalListOrderAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Same-instant creations fall back to insertion order, newest first.
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	first := mustProposal(t, s, "crew-a", "first", ProposalProduct)
	second := mustProposal(t, s, "crew-b", "second", ProposalEngineering)
	third := mustProposal(t, s, "crew-a", "third", ProposalEngineering)

	if _, err := s.UpdateProposalStatus(ctx, second.ID, ProposalDismissed); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	all, err := s.ListProposals(ctx, "")
	if err != nil {
		t.Fatalf("ListProposals: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i, want := range []string{third.ID, second.ID, first.ID} {
		if all[i].ID != want {
			t.Errorf("all[%d] = %s (%s), want %s", i, all[i].ID, all[i].Title, want)
		}
	}

	pending, err := s.ListProposals(ctx, ProposalPending)
	if err != nil {
		t.Fatalf("ListProposals(pending): %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending len = %d, want 2", len(pending))
	}
	for _, p := range pending {
		if p.Status != ProposalPending {
			t.Errorf("filter leak: %s has status %s", p.Title, p.Status)
		}
	}
}
