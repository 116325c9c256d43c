package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/steveyegge/adjutant/internal/adjerr"
	"github.com/steveyegge/adjutant/internal/beads"
	"github.com/steveyegge/adjutant/internal/bridge"
	"github.com/steveyegge/adjutant/internal/eventbus"
	"github.com/steveyegge/adjutant/internal/mcpserver"
	"github.com/steveyegge/adjutant/internal/project"
	"github.com/steveyegge/adjutant/internal/status"
	"github.com/steveyegge/adjutant/internal/store"
	"github.com/steveyegge/adjutant/internal/tmux"
	"github.com/steveyegge/adjutant/internal/version"
	"github.com/steveyegge/adjutant/internal/web"
)

var serveForeground bool

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: GroupServer,
	Short:   "Run the Adjutant server",
	Long: `Run the Adjutant server: REST API, MCP tool endpoint, WebSocket
fanout, and the tmux terminal bridge, all on one port.

Only one instance may run per state directory; a lock file enforces
this. Logs rotate in the state directory unless --foreground also
mirrors them to stderr.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveForeground, "foreground", false, "Mirror logs to stderr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.ProjectsStateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	// Single instance per state directory.
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return adjerr.Newf(adjerr.CodeAlreadyRunning, "another adjutant instance holds %s", cfg.LockPath())
	}
	defer lock.Unlock()

	logSink := io.Writer(&lumberjack.Logger{
		Filename:   cfg.LogPath(),
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if serveForeground {
		logSink = io.MultiWriter(os.Stderr, logSink)
	}
	logger := log.New(logSink, "", log.LstdFlags)
	logger.Printf("adjutant %s starting (config %s)", version.String(), cfgPath)

	bus := eventbus.New()
	defer bus.Close()

	st, err := store.Open(cfg.StorePath(), bus)
	if err != nil {
		return fmt.Errorf("opening message store: %w", err)
	}
	defer st.Close()

	gateway := beads.NewGateway(cfg.WorkspaceRoot, cfg.BDTimeout(), cfg.PrefixMapRefresh(), bus)

	projects, err := project.Load(cfg.ProjectsPath(), cfg.WorkspaceRoot, bus)
	if err != nil {
		return fmt.Errorf("loading project registry: %w", err)
	}

	mcpSrv := mcpserver.New(mcpserver.Deps{
		Store:    st,
		Gateway:  gateway,
		Projects: projects,
		Bus:      bus,
		Logger:   logger,
	})

	// Terminal sessions need tmux; without it the endpoints answer
	// NOT_SUPPORTED and everything else still works.
	var br *bridge.Bridge
	if _, err := exec.LookPath("tmux"); err == nil {
		br, err = bridge.New(bridge.Options{
			Tmux:        tmux.New(),
			Bus:         bus,
			StatePath:   cfg.SessionsPath(),
			FifoDir:     filepath.Join(cfg.ProjectsStateDir, "fifo"),
			MaxSessions: cfg.MaxTerminalSessions,
			RingLines:   cfg.SessionOutputRingLines,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("starting terminal bridge: %w", err)
		}
		defer br.Close()
	} else {
		logger.Printf("tmux not found, terminal sessions disabled")
	}

	mode := project.ModeStandalone
	if p := projects.Active(); p != nil {
		mode = p.Mode
	}
	provider := status.ForMode(mode, status.Deps{
		Projects:  projects,
		Agents:    mcpSrv.Registry(),
		Sessions:  sessionCounter{br},
		StartedAt: time.Now(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Watch blocks until ctx is done, so it gets its own goroutine.
	go func() {
		if err := gateway.Routes().Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("prefix map watch stopped: %v", err)
		}
	}()

	hub := web.NewHub(web.HubOptions{
		Bus:        bus,
		APIKey:     cfg.APIKey,
		ReplaySize: cfg.WSReplayBufferSize,
		Logger:     logger,
	})
	go hub.Run(ctx)

	srv := web.New(web.Options{
		Config:   cfg,
		Store:    st,
		Gateway:  gateway,
		Projects: projects,
		Agents:   mcpSrv.Registry(),
		Bridge:   br,
		Provider: provider,
		Mail:     &status.StoreMail{Store: st},
		Hub:      hub,
		MCP:      mcpSrv.Handler(),
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Printf("listening on %s", cfg.ListenAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sessionCounter adapts a possibly-nil bridge to the status Counter.
type sessionCounter struct {
	b *bridge.Bridge
}

func (c sessionCounter) Len() int {
	if c.b == nil {
		return 0
	}
	return c.b.Len()
}
