// Command adjutant runs the Adjutant coordination server and its
// client tools.
package main

import (
	"os"

	"github.com/steveyegge/adjutant/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
