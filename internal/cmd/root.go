// Package cmd provides the adjutant CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/adjutant/internal/config"
	"github.com/steveyegge/adjutant/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "adjutant",
	Short:   "Adjutant - coordination server for AI coding agents",
	Version: version.String(),
	Long: `Adjutant is the backend for a multi-agent coding dashboard.

It persists agent-to-operator messages, serves MCP tools to connected
agents, routes bd (beads) issue commands across projects, bridges tmux
terminal sessions, and fans everything out live over WebSocket.`,
}

var configPath string

// Execute runs the root command and returns an exit code for main.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// Command group IDs, ordering the help output.
const (
	GroupServer = "server"
	GroupClient = "client"
	GroupDiag   = "diag"
)

func init() {
	cobra.EnablePrefixMatching = true

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupServer, Title: "Server:"},
		&cobra.Group{ID: GroupClient, Title: "Client:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupDiag)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+config.DefaultPath()+")")
}

// resolveConfigPath honors --config, then ADJUTANT_CONFIG, then the
// default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// loadConfig reads the effective configuration.
func loadConfig() (*config.Config, string, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	return cfg, path, err
}
