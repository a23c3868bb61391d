// Package main is the CLI entry point for sitemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/site_mon/internal/config"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool

	v   = viper.New()
	cfg *config.Config
)

func main() {
	// Ctrl-C cancels the command context, e.g. a challenge countdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sitemon",
	Short: "Site monitor - blocks distracting websites on a schedule",
	Long: `sitemon is a daemon that decides which websites are blocked in the browser.
Profiles group site patterns; active profiles block (or allow-list) them,
and each profile can switch itself on and off at fixed times of day.

The browser extension connects to the daemon over a local WebSocket.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	RunE:  runVersion,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sitemon.yaml)")
	flags.String("data-dir", "", "data directory (default ~/.sitemon)")
	flags.String("listen", "", "daemon listen address (default 127.0.0.1:7878)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log client activity to stderr")

	_ = v.BindPFlag(config.KeyDataDir, flags.Lookup("data-dir"))
	_ = v.BindPFlag(config.KeyListenAddr, flags.Lookup("listen"))
	_ = v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and environment before any command runs.
// Flags left unset fall through to env, file and defaults.
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.ReadFile(v, cfgFile); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// createLogger builds the daemon's file logger.
func createLogger(c *config.Config) *zap.Logger {
	config := zap.NewProductionConfig()
	if level, err := zap.ParseAtomicLevel(c.LogLevel); err == nil {
		config.Level = level
	}
	if err := os.MkdirAll(filepath.Dir(c.LogFile), 0700); err == nil {
		config.OutputPaths = []string{c.LogFile}
		config.ErrorOutputPaths = []string{c.LogFile}
	}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

// cliLogger is quiet unless --verbose is set.
func cliLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) error {
	if !jsonOutput {
		fmt.Printf("sitemon %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
		return nil
	}
	return json.NewEncoder(os.Stdout).Encode(map[string]string{
		"version":    Version,
		"commit":     Commit,
		"build_time": BuildTime,
	})
}
