package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/steveyegge/adjutant/internal/adjerr"
)

// Proposal types.
const (
	ProposalProduct     = "product"
	ProposalEngineering = "engineering"
)

// Proposal statuses. Pending may move to accepted or dismissed; accepted
// may move to completed. Dismissed and completed are terminal.
const (
	ProposalPending   = "pending"
	ProposalAccepted  = "accepted"
	ProposalDismissed = "dismissed"
	ProposalCompleted = "completed"
)

// Proposal is a work suggestion an agent has raised for human review.
type Proposal struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

var proposalTransitions = map[string][]string{
	ProposalPending:  {ProposalAccepted, ProposalDismissed},
	ProposalAccepted: {ProposalCompleted},
}

func transitionAllowed(from, to string) bool {
	for _, next := range proposalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CreateProposal stores a new pending proposal.
func (s *Store) CreateProposal(ctx context.Context, author, title, description, typ string) (*Proposal, error) {
	if strings.TrimSpace(title) == "" {
		return nil, adjerr.New(adjerr.CodeValidation, "title is required")
	}
	switch typ {
	case ProposalProduct, ProposalEngineering:
	default:
		return nil, adjerr.Newf(adjerr.CodeValidation, "invalid proposal type %q", typ)
	}

	now := s.timestamp()
	p := &Proposal{
		ID:          uuid.NewString(),
		Author:      author,
		Title:       title,
		Description: description,
		Type:        typ,
		Status:      ProposalPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.writeMu.Lock()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO proposals (id, author, title, description, type, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Author, p.Title, p.Description, p.Type, p.Status, p.CreatedAt, p.UpdatedAt)
	s.writeMu.Unlock()
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "inserting proposal")
	}
	return p, nil
}

// ListProposals returns proposals newest first, optionally filtered by
// status. rowid breaks ties between proposals created in the same instant.
func (s *Store) ListProposals(ctx context.Context, status string) ([]*Proposal, error) {
	query := `
        SELECT id, author, title, description, type, status, created_at, updated_at
        FROM proposals`
	var args []interface{}
	if status != "" {
		switch status {
		case ProposalPending, ProposalAccepted, ProposalDismissed, ProposalCompleted:
		default:
			return nil, adjerr.Newf(adjerr.CodeValidation, "invalid proposal status %q", status)
		}
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "listing proposals")
	}
	defer rows.Close()

	var proposals []*Proposal
	for rows.Next() {
		p := &Proposal{}
		if err := rows.Scan(&p.ID, &p.Author, &p.Title, &p.Description, &p.Type, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, adjerr.Wrap(adjerr.CodeStorage, err, "scanning proposal")
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "listing proposals")
	}
	return proposals, nil
}

// GetProposal returns one proposal by id.
func (s *Store) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	p := &Proposal{}
	err := s.db.QueryRowContext(ctx, `
        SELECT id, author, title, description, type, status, created_at, updated_at
        FROM proposals WHERE id = ?`, id).
		Scan(&p.ID, &p.Author, &p.Title, &p.Description, &p.Type, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, adjerr.Newf(adjerr.CodeNotFound, "proposal %s not found", id)
	}
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "reading proposal")
	}
	return p, nil
}

// UpdateProposalStatus advances a proposal along the allowed transitions.
// Requests from terminal states, or skipping states, are validation errors.
func (s *Store) UpdateProposalStatus(ctx context.Context, id, status string) (*Proposal, error) {
	switch status {
	case ProposalAccepted, ProposalDismissed, ProposalCompleted:
	case ProposalPending:
		return nil, adjerr.New(adjerr.CodeValidation, "proposals cannot return to pending")
	default:
		return nil, adjerr.Newf(adjerr.CodeValidation, "invalid proposal status %q", status)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p := &Proposal{}
	err := s.db.QueryRowContext(ctx, `
        SELECT id, author, title, description, type, status, created_at, updated_at
        FROM proposals WHERE id = ?`, id).
		Scan(&p.ID, &p.Author, &p.Title, &p.Description, &p.Type, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, adjerr.Newf(adjerr.CodeNotFound, "proposal %s not found", id)
	}
	if err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "reading proposal")
	}

	if !transitionAllowed(p.Status, status) {
		return nil, adjerr.Newf(adjerr.CodeValidation, "cannot move proposal from %s to %s", p.Status, status)
	}

	now := s.timestamp()
	if _, err := s.db.ExecContext(ctx,
		"UPDATE proposals SET status = ?, updated_at = ? WHERE id = ?",
		status, now, id); err != nil {
		return nil, adjerr.Wrap(adjerr.CodeStorage, err, "updating proposal")
	}
	p.Status = status
	p.UpdatedAt = now
	return p, nil
}
