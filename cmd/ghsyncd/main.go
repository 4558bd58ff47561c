package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schaermu/ghsyncd/internal/archive"
	"github.com/schaermu/ghsyncd/internal/config"
	"github.com/schaermu/ghsyncd/internal/github"
	"github.com/schaermu/ghsyncd/internal/scheduler"
	ghsync "github.com/schaermu/ghsyncd/internal/sync"
	"github.com/schaermu/ghsyncd/internal/webhook"
	"github.com/spf13/cobra"
)

// tickInterval is the daemon's scheduler cadence. The engine's interval gate
// decides per tick whether a sync is actually due.
const tickInterval = time.Minute

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
	force     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ghsyncd",
	Short: "Mirror a GitHub repository branch into a local directory",
	Long: `ghsyncd keeps a local content directory in sync with one GitHub repository
branch, using the branch head's commit SHA as a change fingerprint and the
branch zip archive as the transfer format. No git binary is required.

It can run as a oneshot sync (via systemd timer), as a periodic polling
daemon, or as a long-running webhook daemon that responds to GitHub push
events.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a single sync cycle",
	Long: `Sync runs one decision cycle: it resolves the branch head, compares it with
the last synced commit, and downloads and installs the branch snapshot when
a change is detected.

The cycle is skipped when the configured sync interval has not elapsed since
the last successful sync; pass --force to bypass the interval gate.`,
	RunE: runSync,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the periodic sync daemon",
	Long: `Run starts the polling daemon: a scheduler ticks once a minute and the sync
engine decides per tick whether a cycle is due, based on the configured
interval and credential presence. Cycle failures are logged and retried on
the next tick; they never stop the daemon.`,
	RunE: runDaemon,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve starts a long-running HTTP server that listens for GitHub push events
and triggers a sync when the mirrored branch is updated.

This mode requires serve configuration for the webhook secret and listen
address. When started under systemd socket activation, the activated socket
is used instead of listen_addr.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ghsyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/ghsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "log format (auto, text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().BoolVar(&force, "force", false, "run the cycle even if the sync interval has not elapsed")

	// Run command flags
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	engine, err := buildEngine(logger)
	if err != nil {
		return err
	}

	logger.Info("starting sync operation", "force", force)
	runFn := engine.Run
	if force {
		runFn = engine.ForceRun
	}
	if err := runFn(ctx); err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	engine, err := buildEngine(logger)
	if err != nil {
		return err
	}

	ticker := scheduler.NewTicker(tickInterval, logger)
	ticker.OnTick(func(tickCtx context.Context) {
		// A failed cycle is contained here: logged, state untouched,
		// retried on the next tick.
		if err := engine.Run(tickCtx); err != nil {
			logger.Error("sync cycle failed", "error", err)
		}
	})

	logger.Info("starting sync daemon", "tick_interval", tickInterval)
	ticker.Run(ctx)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve is not enabled in the configuration")
	}

	engine, err := buildEngineFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	server, err := webhook.NewServer(cfg, engine, logger)
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	return server.Start(ctx)
}

// buildEngine loads the configuration and wires up the sync engine
func buildEngine(logger *slog.Logger) (*ghsync.Engine, error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return buildEngineFromConfig(cfg, logger)
}

func buildEngineFromConfig(cfg *config.Config, logger *slog.Logger) (*ghsync.Engine, error) {
	token, err := cfg.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve API token: %w", err)
	}

	fetcher := github.NewClient(cfg.APIBaseURL, cfg.WebBaseURL, token)
	installer := archive.NewZipInstaller(cfg.Paths.CacheDir, cfg.Sync.Ignore, logger)
	store := ghsync.NewFileStore(cfg.StateFilePath())

	return ghsync.NewEngine(cfg, fetcher, installer, store, logger, dryRun), nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	format := logFormat
	if format == "auto" {
		// Human-readable on a terminal, JSON when piped or under a unit
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/ghsyncd/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"owner", cfg.Repo.Owner,
		"repo", cfg.Repo.Name,
		"branch", cfg.Repo.Branch,
		"target_dir", cfg.TargetPath(),
		"cache_dir", cfg.Paths.CacheDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
