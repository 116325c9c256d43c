// Package version carries build identification, injected at link time.
package version

import "fmt"

// Set via -ldflags "-X github.com/steveyegge/adjutant/internal/version.Version=..."
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// ShortCommit truncates a commit hash to 12 characters for display.
func ShortCommit(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// String renders the full version line the CLI prints.
func String() string {
	s := Version
	if Commit != "" {
		s += fmt.Sprintf(" (%s)", ShortCommit(Commit))
	}
	if Date != "" {
		s += " built " + Date
	}
	return s
}
