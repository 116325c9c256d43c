package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/steveyegge/adjutant/internal/feed"
)

var (
	feedServer string
	feedAPIKey string
)

var feedCmd = &cobra.Command{
	Use:     "feed",
	GroupID: GroupClient,
	Short:   "Watch the live activity feed in the terminal",
	Long: `Connect to a running Adjutant server and stream its activity feed:
agent messages, status changes, bead updates, and session events, as
they happen. Reconnects automatically and resumes from the last seen
event.`,
	RunE: runFeed,
}

func init() {
	feedCmd.Flags().StringVar(&feedServer, "server", "", "Server URL (default http://127.0.0.1<listen-addr>)")
	feedCmd.Flags().StringVar(&feedAPIKey, "api-key", "", "API key (default from config)")
	rootCmd.AddCommand(feedCmd)
}

func runFeed(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	server := feedServer
	if server == "" {
		addr := cfg.ListenAddr
		if addr != "" && addr[0] == ':' {
			addr = "127.0.0.1" + addr
		}
		server = "http://" + addr
	}
	apiKey := feedAPIKey
	if apiKey == "" {
		apiKey = cfg.APIKey
	}

	client, err := feed.NewClient(feed.ClientOptions{
		ServerURL: server,
		APIKey:    apiKey,
	})
	if err != nil {
		return err
	}

	p := tea.NewProgram(feed.NewModel(client), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	return nil
}
