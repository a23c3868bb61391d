package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/site_mon/internal/bridge"
	"github.com/eliteGoblin/focusd/site_mon/internal/config"
	"github.com/eliteGoblin/focusd/site_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/infra"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
	"github.com/eliteGoblin/focusd/site_mon/internal/usecase"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon in the foreground",
	Long: `Runs the coordinator and the WebSocket endpoint the browser extension
connects to. Blocks until interrupted.`,
	RunE: runServe,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and active profiles",
	RunE:  runStatus,
}

var autostartCmd = &cobra.Command{
	Use:   "autostart",
	Short: "Manage the login item that keeps the daemon running (macOS)",
}

var autostartInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Run the daemon at login and restart it if it crashes",
	Args:  cobra.NoArgs,
	RunE:  runAutostartInstall,
}

var autostartUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the login item",
	Args:  cobra.NoArgs,
	RunE:  runAutostartUninstall,
}

func init() {
	autostartCmd.AddCommand(autostartInstallCmd)
	autostartCmd.AddCommand(autostartUninstallCmd)

	rootCmd.AddCommand(autostartCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

// openStore opens the profile store the config asks for, creating the
// encryption key on first use.
func openStore(c *config.Config) (*infra.SQLStore, error) {
	if !c.Encrypted {
		return infra.NewPlainStore(c.DataDir)
	}
	key, err := infra.EnsureKey(infra.NewFileKeyProvider(c.DataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load store key: %w", err)
	}
	return infra.NewEncryptedStore(c.DataDir, key)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open profile store", zap.Error(err))
		return err
	}

	server, err := bridge.NewServer(bridge.ServerConfig{AllowedOrigins: cfg.Origins()}, logger.Named("bridge"))
	if err != nil {
		_ = store.Close()
		return err
	}

	matcher := policy.NewMatcher(logger)
	guard := usecase.NewTabGuard(usecase.TabGuardConfig{
		ExtensionOrigin: cfg.ExtensionOrigin,
		CallTimeout:     cfg.TabTimeout,
	}, server, matcher, logger.Named("tabguard"))

	coordConfig := daemon.DefaultCoordinatorConfig()
	coordConfig.PollInterval = cfg.PollInterval
	coordConfig.HeartbeatInterval = cfg.HeartbeatInterval
	coordConfig.Location = loc

	info := domain.DaemonInfo{
		PID:        os.Getpid(),
		ListenAddr: cfg.ListenAddr,
		StartedAt:  time.Now(),
		AppVersion: Version,
	}
	coord := daemon.NewCoordinator(coordConfig, store, guard, matcher, server,
		infra.NewFileRegistry(cfg.DataDir), info, logger.Named("coordinator"))
	defer func() {
		if err := coord.Close(); err != nil {
			logger.Warn("failed to close profile store", zap.Error(err))
		}
	}()

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coord.Init(ctx); err != nil {
		logger.Error("failed to load profiles", zap.Error(err))
		return err
	}
	server.SetHandler(coord)
	server.OnTabHostConnected(func(ctx context.Context) {
		if _, err := coord.Reconcile(ctx); err != nil {
			logger.Debug("reconcile on connect skipped", zap.Error(err))
		}
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}
	httpServer := &http.Server{
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.Strings("origins", cfg.Origins()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx)
	})
	g.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// WebSocket connections are hijacked; Shutdown does not see them
		_ = server.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("daemon stopped")
		return nil
	}
	return err
}

// serveArgs are the flags a spawned daemon needs to find this CLI's config.
func serveArgs() []string {
	args := []string{"--data-dir", cfg.DataDir, "--listen", cfg.ListenAddr}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	return args
}

func runStart(cmd *cobra.Command, args []string) error {
	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.DataDir)

	if info, err := daemon.RunningDaemon(registry, pm); err == nil {
		fmt.Printf("sitemon is already running (pid %d, %s)\n", info.PID, info.ListenAddr)
		return nil
	}

	pid, err := daemon.StartDaemon(serveArgs()...)
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	info, err := daemon.WaitForDaemon(registry, pm, 5*time.Second)
	if err != nil {
		return fmt.Errorf("daemon (pid %d) did not come up, see %s", pid, cfg.LogFile)
	}
	fmt.Printf("sitemon started (pid %d, listening on %s)\n", info.PID, info.ListenAddr)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.DataDir)

	err := daemon.StopDaemon(registry, pm, 10*time.Second)
	if errors.Is(err, daemon.ErrNotRunning) {
		fmt.Println("sitemon is not running")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println("sitemon stopped")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.DataDir)

	fmt.Println("\n=== sitemon Status ===")

	info, err := daemon.RunningDaemon(registry, pm)
	if err != nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'sitemon start' to start the daemon.")
		return nil
	}

	fmt.Println("Status: RUNNING")
	fmt.Printf("PID: %d\n", info.PID)
	fmt.Printf("Listening: %s\n", info.ListenAddr)
	if info.AppVersion != "" {
		fmt.Printf("Version: %s\n", info.AppVersion)
	}
	fmt.Printf("Started: %s\n", humanize.Time(info.StartedAt))
	if info.LastHeartbeat > 0 {
		fmt.Printf("Last heartbeat: %s\n", humanize.Time(time.Unix(info.LastHeartbeat, 0)))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()
	err = withClient(ctx, func(c *bridge.Client) error {
		var active domain.ActiveProfiles
		if err := c.Call(ctx, domain.ActionGetActiveProfiles, nil, &active); err != nil {
			return err
		}
		if len(active.Profiles) == 0 {
			fmt.Println("\nNo active profiles.")
			return nil
		}
		fmt.Printf("\nActive profiles (%s):\n", active.Mode)
		for _, p := range active.Profiles {
			marker := ""
			if p.Name == active.Selected {
				marker = " (selected)"
			}
			fmt.Printf("  - %s: %d sites%s\n", p.Name, len(p.Sites), marker)
		}
		return nil
	})
	if err != nil {
		fmt.Printf("\nCould not query daemon: %v\n", err)
	}

	fmt.Println("======================")
	return nil
}

func runAutostartInstall(cmd *cobra.Command, args []string) error {
	m, err := infra.NewAutostartManager(cfg.DataDir)
	if err != nil {
		return err
	}
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	if m.IsInstalled() && !m.NeedsUpdate(executable, serveArgs()...) {
		fmt.Printf("Autostart already installed (%s)\n", m.Path())
		return nil
	}

	// launchd will own the daemon from now on
	if err := daemon.StopDaemon(infra.NewFileRegistry(cfg.DataDir), infra.NewProcessManager(), 10*time.Second); err != nil && !errors.Is(err, daemon.ErrNotRunning) {
		return err
	}
	if err := m.Install(executable, serveArgs()...); err != nil {
		return err
	}
	fmt.Printf("Installed LaunchAgent %s\n", m.Path())
	return nil
}

func runAutostartUninstall(cmd *cobra.Command, args []string) error {
	m, err := infra.NewAutostartManager(cfg.DataDir)
	if err != nil {
		return err
	}
	if !m.IsInstalled() {
		fmt.Println("Autostart is not installed")
		return nil
	}
	if err := m.Uninstall(); err != nil {
		return err
	}
	fmt.Println("Autostart removed; the daemon has been stopped")
	return nil
}
