package doctor

import (
	"os"
	"path/filepath"

	"github.com/steveyegge/adjutant/internal/eventbus"
	"github.com/steveyegge/adjutant/internal/store"
)

// StoreCheck opens the message store and runs its migrations. This is
// the same path the server takes on boot, so a pass here means the
// database file and schema are usable.
type StoreCheck struct {
	BaseCheck
}

// NewStoreCheck creates the message store check.
func NewStoreCheck() *StoreCheck {
	return &StoreCheck{
		BaseCheck{
			CheckName:        "message-store",
			CheckDescription: "Message store opens and migrates",
			CheckCategory:    CategoryStorage,
		},
	}
}

// Run opens the store read-write and closes it again.
func (c *StoreCheck) Run(ctx *CheckContext) *CheckResult {
	result := &CheckResult{Name: c.Name(), Category: c.Category()}
	path := ctx.Config.StorePath()

	if _, err := os.Stat(filepath.Dir(path)); os.IsNotExist(err) {
		result.Status = StatusWarning
		result.Message = "state directory missing, store not yet created"
		result.FixHint = "Run 'adjutant doctor --fix' to create the state directory"
		return result
	}

	bus := eventbus.New()
	defer bus.Close()
	st, err := store.Open(path, bus)
	if err != nil {
		result.Status = StatusError
		result.Message = err.Error()
		result.FixHint = "If the file is corrupt, move " + path + " aside and restart"
		return result
	}
	st.Close()

	result.Status = StatusOK
	result.Message = path
	return result
}
