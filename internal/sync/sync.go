package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/schaermu/ghsyncd/internal/archive"
	"github.com/schaermu/ghsyncd/internal/config"
	"github.com/schaermu/ghsyncd/internal/github"
)

// ErrTargetUnavailable marks configuration problems with the destination
// directory. Cycles failing with it made no network calls and no filesystem
// mutations.
var ErrTargetUnavailable = errors.New("target directory unavailable")

// Default sync intervals. Authenticated API calls are rate-limited far less,
// so polling can be more frequent with a credential configured.
const (
	AuthenticatedInterval = 5 * time.Minute
	AnonymousInterval     = time.Hour
)

// Engine orchestrates the sync decision cycle
type Engine struct {
	cfg       *config.Config
	fetcher   github.Fetcher
	installer archive.Installer
	store     StateStore
	logger    *slog.Logger
	dryRun    bool

	// now is swappable for tests
	now func() time.Time

	// mu serializes cycles; the delete-then-move replace step must never
	// interleave with another cycle for the same target.
	mu sync.Mutex
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, fetcher github.Fetcher, installer archive.Installer, store StateStore, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:       cfg,
		fetcher:   fetcher,
		installer: installer,
		store:     store,
		logger:    logger,
		dryRun:    dryRun,
		now:       time.Now,
	}
}

// Run executes one sync cycle, honoring the interval gate. It is invoked once
// per scheduler tick; callers contain the returned error at the tick boundary.
func (e *Engine) Run(ctx context.Context) error {
	return e.run(ctx, false)
}

// ForceRun executes one sync cycle regardless of when the last one ran. Used
// by the webhook server, where the push event itself signals a change.
func (e *Engine) ForceRun(ctx context.Context) error {
	return e.run(ctx, true)
}

func (e *Engine) run(ctx context.Context, force bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dest := e.cfg.TargetPath()
	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTargetUnavailable, dest, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrTargetUnavailable, dest)
	}

	state, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load sync state: %w", err)
	}

	start := e.now()
	if !force && !state.Time.IsZero() {
		due := state.Time.Add(e.interval())
		if start.Before(due) {
			e.logger.Debug("sync not due yet",
				"last_sync", state.Time,
				"next_sync", due)
			return nil
		}
	}

	repo := e.cfg.Repo
	sha, err := e.fetcher.LatestCommit(ctx, repo.Owner, repo.Name, repo.Branch)
	if err != nil {
		return fmt.Errorf("failed to resolve branch head: %w", err)
	}

	if sha == state.SHA {
		e.logger.Info("already up to date", "sha", sha)
		return nil
	}

	if e.dryRun {
		e.logger.Info("[dry-run] would install snapshot",
			"sha", sha,
			"previous", state.SHA,
			"dest", dest)
		return nil
	}

	e.logger.Info("change detected, downloading snapshot",
		"sha", sha,
		"previous", state.SHA)

	data, err := e.fetcher.DownloadArchive(ctx, repo.Owner, repo.Name, repo.Branch)
	if err != nil {
		return fmt.Errorf("failed to download snapshot: %w", err)
	}

	if err := e.installer.Install(data, dest); err != nil {
		return fmt.Errorf("failed to install snapshot: %w", err)
	}

	newState := &State{SHA: sha, Time: e.now()}
	if err := e.store.Save(newState); err != nil {
		return fmt.Errorf("failed to persist sync state: %w", err)
	}

	e.logger.Info("sync completed", "sha", sha, "dest", dest)
	return nil
}

// interval returns the effective sync interval: the configured override if
// set, else the credential-derived default.
func (e *Engine) interval() time.Duration {
	if e.cfg.Sync.Interval > 0 {
		return time.Duration(e.cfg.Sync.Interval)
	}
	if e.cfg.HasCredential() {
		return AuthenticatedInterval
	}
	return AnonymousInterval
}
