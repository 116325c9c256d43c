package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/adjutant/internal/version"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: GroupDiag,
	Short:   "Print the adjutant version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("adjutant " + version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
