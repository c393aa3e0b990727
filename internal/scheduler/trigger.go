package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/specwarden/internal/clock"
	"github.com/ppiankov/specwarden/internal/model"
)

// Default trigger intervals
const (
	DefaultFullInterval     = 24 * time.Hour
	DefaultCriticalInterval = 6 * time.Hour
)

// Runner executes one verification run
type Runner interface {
	RunOnce(ctx context.Context, mode model.RunMode) (model.VerificationRun, error)
}

// TriggerOptions configures a Trigger
type TriggerOptions struct {
	FullInterval     time.Duration
	CriticalInterval time.Duration
	RunAtStart       bool // start a full run immediately
	Clock            clock.Clock
	Logger           *slog.Logger

	// OnRun observes every finished or rejected run
	OnRun func(mode model.RunMode, run model.VerificationRun, err error)
}

// Trigger drives a Runner periodically: full runs on one interval and
// critical-only runs on another. Runs are started concurrently so a
// critical tick during a full run is rejected rather than queued.
type Trigger struct {
	runner Runner
	opts   TriggerOptions
	wg     sync.WaitGroup
}

// NewTrigger creates a trigger for runner
func NewTrigger(runner Runner, opts TriggerOptions) *Trigger {
	if opts.FullInterval <= 0 {
		opts.FullInterval = DefaultFullInterval
	}
	if opts.CriticalInterval <= 0 {
		opts.CriticalInterval = DefaultCriticalInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Trigger{runner: runner, opts: opts}
}

// Run fires runs until ctx is done, then waits for in-flight runs and
// returns ctx.Err()
func (t *Trigger) Run(ctx context.Context) error {
	full := t.opts.Clock.NewTicker(t.opts.FullInterval)
	defer full.Stop()
	critical := t.opts.Clock.NewTicker(t.opts.CriticalInterval)
	defer critical.Stop()
	defer t.wg.Wait()

	t.opts.Logger.Info("trigger started",
		"full_interval", t.opts.FullInterval,
		"critical_interval", t.opts.CriticalInterval,
	)

	if t.opts.RunAtStart {
		t.fire(ctx, model.ModeFull)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-full.C:
			t.fire(ctx, model.ModeFull)
		case <-critical.C:
			t.fire(ctx, model.ModeCriticalOnly)
		}
	}
}

func (t *Trigger) fire(ctx context.Context, mode model.RunMode) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		run, err := t.runner.RunOnce(ctx, mode)
		switch {
		case errors.Is(err, model.ErrRunInProgress):
			t.opts.Logger.Info("critical run skipped, another run in flight")
		case err != nil:
			t.opts.Logger.Error("run failed", "mode", mode, "error", err)
		default:
			t.opts.Logger.Info("run outcome", "mode", mode, "run", run.ID, "status", run.Status)
		}
		if t.opts.OnRun != nil {
			t.opts.OnRun(mode, run, err)
		}
	}()
}
