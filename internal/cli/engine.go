package cli

import (
	"fmt"
	"log/slog"

	"github.com/ppiankov/specwarden/internal/fetch"
	"github.com/ppiankov/specwarden/internal/health"
	"github.com/ppiankov/specwarden/internal/model"
	"github.com/ppiankov/specwarden/internal/persist"
	"github.com/ppiankov/specwarden/internal/pipeline"
	"github.com/ppiankov/specwarden/internal/scheduler"
	"github.com/ppiankov/specwarden/internal/store"
)

// engine holds the components one command works with
type engine struct {
	cfg       *model.Config
	store     store.Store
	persister *persist.Persister
	health    *health.Tracker
	logger    *slog.Logger
}

// openEngine opens the record store. Close it when done.
func openEngine(cfg *model.Config, logger *slog.Logger) (*engine, error) {
	s, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &engine{
		cfg:       cfg,
		store:     s,
		persister: persist.New(s, logger),
		health:    health.NewTracker(s, health.Options{FailureThreshold: cfg.Health.FailureThreshold, Logger: logger}),
		logger:    logger,
	}, nil
}

// scheduler loads the manifest and builds a scheduler over it
func (e *engine) scheduler() (*scheduler.Scheduler, error) {
	manifest, err := fetch.LoadManifest(e.cfg.Manifest.Path)
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.Options{
		Manifest:  manifest,
		Pipeline:  pipeline.NewFromConfig(e.cfg, e.logger),
		Persister: e.persister,
		Health:    e.health,
		Timeout:   e.cfg.Run.Timeout,
		Logger:    e.logger,
		Lock:      store.NewFileLock(store.LockPath(e.cfg.Store.Path)),
	}), nil
}

func (e *engine) Close() error {
	return e.store.Close()
}
