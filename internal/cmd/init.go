package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/steveyegge/adjutant/internal/config"
	"github.com/steveyegge/adjutant/internal/ui"
)

var (
	initForce bool
	initYes   bool
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: GroupServer,
	Short:   "Set up the server config and wire this project",
	Long: `Interactively write the Adjutant config file and, when run inside a
project, add an adjutant entry to its .mcp.json so agents launched here
connect back to the server.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config")
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "Accept all defaults without prompting")
	rootCmd.AddCommand(initCmd)
}

func generateAPIKey() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return "adj_" + hex.EncodeToString(buf)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.Default()
	cfg.APIKey = generateAPIKey()

	if !initYes {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Listen address").
					Description("host:port the server binds").
					Value(&cfg.ListenAddr),
				huh.NewInput().
					Title("Workspace root").
					Description("base directory scanned for beads databases").
					Value(&cfg.WorkspaceRoot),
				huh.NewInput().
					Title("API key").
					Description("authenticates dashboard and feed clients").
					Value(&cfg.APIKey),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}
	}

	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("%s wrote %s\n", ui.RenderPassIcon(), path)

	if err := writeMCPConfig(cfg); err != nil {
		return err
	}
	return nil
}

// writeMCPConfig merges an adjutant server entry into ./.mcp.json when
// the current directory looks like a project (has .git or .beads).
func writeMCPConfig(cfg *config.Config) error {
	cwd, err := os.Getwd()
	if err != nil {
		return nil
	}
	isProject := false
	for _, marker := range []string{".git", ".beads"} {
		if _, err := os.Stat(filepath.Join(cwd, marker)); err == nil {
			isProject = true
			break
		}
	}
	if !isProject {
		return nil
	}

	mcpPath := filepath.Join(cwd, ".mcp.json")
	doc := map[string]interface{}{}
	if raw, err := os.ReadFile(mcpPath); err == nil {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("%s exists but is not valid JSON: %w", mcpPath, err)
		}
	}

	servers, _ := doc["mcpServers"].(map[string]interface{})
	if servers == nil {
		servers = map[string]interface{}{}
	}
	addr := cfg.ListenAddr
	if addr != "" && addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}
	servers["adjutant"] = map[string]interface{}{
		"type": "http",
		"url":  "http://" + addr + "/mcp",
	}
	doc["mcpServers"] = servers

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(mcpPath, append(data, '\n'), 0o644); err != nil {
		return err
	}
	fmt.Printf("%s wrote %s\n", ui.RenderPassIcon(), mcpPath)
	return nil
}
