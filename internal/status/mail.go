package status

import (
	"context"

	"github.com/steveyegge/adjutant/internal/store"
)

// MailTransport abstracts where operator mail lives. Gastown and swarm
// towns historically carried their own mail planes; here the local
// message store is the canonical transport for every mode.
type MailTransport interface {
	ListMail(ctx context.Context, limit int) ([]*store.Message, error)
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	SendMessage(ctx context.Context, to, body string) (*store.Message, error)
	MarkRead(ctx context.Context, id string) error
	SenderIdentity() string
}

// StoreMail serves mail from the local message store as the operator
// identity.
type StoreMail struct {
	Store    *store.Store
	Identity string // defaults to "user"
}

func (m *StoreMail) identity() string {
	if m.Identity == "" {
		return "user"
	}
	return m.Identity
}

func (m *StoreMail) ListMail(ctx context.Context, limit int) ([]*store.Message, error) {
	return m.Store.Read(ctx, store.ReadFilter{AgentID: m.identity(), Limit: limit})
}

func (m *StoreMail) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	return m.Store.Get(ctx, id)
}

func (m *StoreMail) SendMessage(ctx context.Context, to, body string) (*store.Message, error) {
	return m.Store.Insert(ctx, store.InsertParams{
		Sender:    m.identity(),
		Recipient: to,
		Role:      store.RoleUser,
		Body:      body,
	})
}

func (m *StoreMail) MarkRead(ctx context.Context, id string) error {
	return m.Store.MarkRead(ctx, id)
}

func (m *StoreMail) SenderIdentity() string { return m.identity() }
