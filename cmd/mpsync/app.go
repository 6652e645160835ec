package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/steveyegge/mpsync/internal/config"
	"github.com/steveyegge/mpsync/internal/debug"
	"github.com/steveyegge/mpsync/internal/lockfile"
	"github.com/steveyegge/mpsync/internal/storage"
	"github.com/steveyegge/mpsync/internal/storage/sqlite"
	"github.com/steveyegge/mpsync/internal/telemetry"
	"github.com/steveyegge/mpsync/internal/tracker"
	"github.com/steveyegge/mpsync/internal/tracker/megaplan"
	"github.com/steveyegge/mpsync/internal/tracker/openproject"
)

// app bundles what a writing command holds for the length of a run.
type app struct {
	cfg    *config.Config
	store  storage.IdentityStore
	lock   *lockfile.RunLock
	source *megaplan.Client
	target *openproject.Client
}

func newSource(cfg *config.Config) *megaplan.Client {
	return megaplan.NewClient(cfg.Megaplan.BaseURL, cfg.Megaplan.Username, cfg.Megaplan.Password,
		cfg.HTTP.Timeout, cfg.HTTP.MaxRetries, debug.Logger().Named("megaplan"))
}

func newTarget(cfg *config.Config) *openproject.Client {
	return openproject.NewClient(cfg.OpenProject.BaseURL, cfg.OpenProject.Username, cfg.OpenProject.Password,
		cfg.HTTP.Timeout, cfg.HTTP.MaxRetries, debug.Logger().Named("openproject"))
}

// openApp prepares runtime directories, takes the run lock and opens the
// state database. The caller must Close the app.
func openApp(ctx context.Context, opts *rootOptions, cfg *config.Config, command string) (*app, error) {
	if err := cfg.EnsureRuntimeDirs(); err != nil {
		return nil, err
	}

	lock := lockfile.New(cfg.StateDB)
	if err := lock.Acquire(ctx, command, opts.lockTimeout); err != nil {
		return nil, err
	}

	st, err := sqlite.New(ctx, cfg.StateDB)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	return &app{
		cfg:    cfg,
		store:  telemetry.WrapStore(st),
		lock:   lock,
		source: newSource(cfg),
		target: newTarget(cfg),
	}, nil
}

// Close closes the store, then releases the lock.
func (a *app) Close() error {
	return errors.Join(a.store.Close(), a.lock.Release())
}

func (a *app) engine() *tracker.Engine {
	e := tracker.NewEngine(a.source, a.target, a.store,
		tracker.NewMapper(a.cfg.Sync.StatusMapping), a.cfg.SyncOptions())

	logger := debug.Logger().Named("engine")
	e.OnMessage = func(msg string) { logger.Info(msg) }
	e.OnWarning = func(msg string) { logger.Warn(msg) }
	return e
}
