package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/specwarden/internal/clock"
	"github.com/ppiankov/specwarden/internal/fetch"
	"github.com/ppiankov/specwarden/internal/health"
	"github.com/ppiankov/specwarden/internal/model"
	"github.com/ppiankov/specwarden/internal/persist"
	"github.com/ppiankov/specwarden/internal/pipeline"
	"github.com/ppiankov/specwarden/internal/rules"
	"github.com/ppiankov/specwarden/internal/store"
)

// DefaultRunTimeout bounds a run when no timeout is configured
const DefaultRunTimeout = 15 * time.Minute

// lockPollInterval is how often a waiting full run retries the run lock
var lockPollInterval = 250 * time.Millisecond

// RunLock excludes runs of every scheduler sharing one store
type RunLock interface {
	// TryLock takes the lock without blocking and returns its release
	// func, or store.ErrLocked while another holder owns it
	TryLock() (func() error, error)
}

// Options configures a Scheduler
type Options struct {
	Manifest  model.Manifest
	Pipeline  *pipeline.Pipeline
	Persister *persist.Persister
	Health    *health.Tracker
	Timeout   time.Duration
	Clock     clock.Clock
	Logger    *slog.Logger

	// Lock excludes runs of other processes over the same store; nil
	// excludes runs of this scheduler only
	Lock RunLock

	// NewRunID overrides UUIDv7 run ids
	NewRunID func() (string, error)
}

// Scheduler executes verification runs against one manifest, at most one at
// a time
type Scheduler struct {
	manifest  model.Manifest
	pipeline  *pipeline.Pipeline
	persister *persist.Persister
	health    *health.Tracker
	timeout   time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	newRunID  func() (string, error)
	runLock   RunLock

	// lock holds a token while a run of this scheduler is in flight
	lock chan struct{}
}

// New creates a scheduler
func New(opts Options) *Scheduler {
	s := &Scheduler{
		manifest:  opts.Manifest,
		pipeline:  opts.Pipeline,
		persister: opts.Persister,
		health:    opts.Health,
		timeout:   opts.Timeout,
		clock:     opts.Clock,
		logger:    opts.Logger,
		newRunID:  opts.NewRunID,
		runLock:   opts.Lock,
		lock:      make(chan struct{}, 1),
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRunTimeout
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.newRunID == nil {
		s.newRunID = newUUIDv7
	}
	if s.pipeline == nil {
		s.pipeline = pipeline.New(pipeline.Options{Logger: s.logger})
	}
	return s
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// acquire takes the run lock and returns its release func. Full runs wait
// for it; critical-only runs are rejected while another run is in flight,
// in this process or in another one sharing the store.
func (s *Scheduler) acquire(ctx context.Context, mode model.RunMode) (func(), error) {
	if mode == model.ModeCriticalOnly {
		select {
		case s.lock <- struct{}{}:
		default:
			return nil, model.ErrRunInProgress
		}
	} else {
		select {
		case s.lock <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.runLock == nil {
		return s.release, nil
	}

	for {
		unlock, err := s.runLock.TryLock()
		switch {
		case err == nil:
			return func() {
				if err := unlock(); err != nil {
					s.logger.Warn("run lock release failed", "error", err)
				}
				s.release()
			}, nil
		case !errors.Is(err, store.ErrLocked):
			s.release()
			return nil, fmt.Errorf("take run lock: %w", err)
		case mode == model.ModeCriticalOnly:
			s.release()
			return nil, model.ErrRunInProgress
		}

		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.release()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) release() { <-s.lock }

// RunOnce executes one verification run and returns its record.
//
// A rejected critical-only run returns model.ErrRunInProgress and leaves no
// record. A *model.CommitError is returned with the uncommitted run; health
// is then left untouched. Every other outcome, including timeouts,
// cancellation and fatal fetch failures, is a committed run with a nil error.
func (s *Scheduler) RunOnce(ctx context.Context, mode model.RunMode) (model.VerificationRun, error) {
	if mode != model.ModeFull && mode != model.ModeCriticalOnly {
		return model.VerificationRun{}, fmt.Errorf("unknown run mode %q", mode)
	}
	release, err := s.acquire(ctx, mode)
	if err != nil {
		if errors.Is(err, model.ErrRunInProgress) {
			s.logger.Warn("run rejected", "mode", mode, "error", err)
		}
		return model.VerificationRun{}, err
	}
	defer release()

	id, err := s.newRunID()
	if err != nil {
		return model.VerificationRun{}, fmt.Errorf("generate run id: %w", err)
	}
	run := model.VerificationRun{
		ID:        id,
		Mode:      mode,
		StartedAt: s.clock.Now().UTC(),
		Status:    model.StatusRunning,
	}
	logger := s.logger.With("run", run.ID, "mode", mode)
	logger.Info("run started")

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	manifest, err := s.manifestFor(runCtx, mode)
	var v *pipeline.Verification
	if err == nil {
		v, err = s.pipeline.Verify(runCtx, manifest, s.previousHashes(runCtx), run.ID)
	}
	if v == nil {
		v = &pipeline.Verification{}
	}

	run.EndedAt = s.clock.Now().UTC()
	run.Findings = v.Findings
	run.Documents = v.Documents
	run.APIs = v.Results(manifest)

	var fatal *model.FatalFetchError
	switch {
	case err == nil:
		run.Status = model.StatusCompleted
		if counts := model.CountBySeverity(run.Findings); counts[model.SeverityError]+counts[model.SeverityWarning] > 0 {
			run.Status = model.StatusCompletedWithFindings
		}
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		run.Status = model.StatusAborted
		run.AbortReason = fmt.Sprintf("timed out after %s", s.timeout)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		run.Status = model.StatusAborted
		run.AbortReason = "cancelled"
	case errors.As(err, &fatal):
		run.Status = model.StatusAborted
		run.AbortReason = fatal.Error()
	default:
		run.Status = model.StatusAborted
		run.AbortReason = err.Error()
	}

	var ruleSet []model.ValidationRule
	if run.Status != model.StatusAborted {
		ruleSet = v.Rules
		digest, derr := rules.Digest(ruleSet)
		if derr != nil {
			logger.Warn("rules digest failed", "error", derr)
		}
		run.RulesDigest = digest
	}
	run.RuleCount = len(ruleSet)

	if s.persister != nil {
		if _, cerr := s.persister.Commit(ctx, run, ruleSet); cerr != nil {
			logger.Error("run commit failed", "error", cerr)
			return run, cerr
		}
		run.Committed = true
	}

	s.recordHealth(ctx, logger, run, v.FatalAPIs)

	counts := model.CountBySeverity(run.Findings)
	logger.Info("run finished",
		"status", run.Status,
		"duration", run.Duration(),
		"errors", counts[model.SeverityError],
		"warnings", counts[model.SeverityWarning],
		"rules", run.RuleCount,
	)
	return run, nil
}

// manifestFor returns the documents a run of mode covers: everything for a
// full run; critical entries plus the APIs currently failing otherwise
func (s *Scheduler) manifestFor(ctx context.Context, mode model.RunMode) (model.Manifest, error) {
	if mode == model.ModeFull {
		return s.manifest, nil
	}
	failing := make(map[string]bool)
	if s.health != nil {
		apis, err := s.health.Failing(ctx)
		if err != nil {
			return model.Manifest{BaseDir: s.manifest.BaseDir}, fmt.Errorf("read failing apis: %w", err)
		}
		for _, api := range apis {
			failing[api] = true
		}
	}
	return s.manifest.Filter(func(e model.ManifestEntry) bool {
		return e.Critical || failing[e.APIID()]
	}), nil
}

// previousHashes looks each document's hash up in the most recent
// committed run that fetched it, so documents a critical-only run skipped
// keep the hash of the last run that covered them.
func (s *Scheduler) previousHashes(ctx context.Context) fetch.HashLookup {
	if s.persister == nil {
		return nil
	}
	runs, err := s.persister.Runs(ctx)
	if err != nil {
		s.logger.Warn("previous runs unavailable", "error", err)
		return nil
	}
	if len(runs) == 0 {
		return nil
	}
	hashes := make(map[string]string)
	for i := len(runs) - 1; i >= 0; i-- {
		for _, d := range runs[i].Documents {
			if _, seen := hashes[d.Name]; !seen && d.Hash != "" {
				hashes[d.Name] = d.Hash
			}
		}
	}
	return func(name string) (string, bool) {
		h, ok := hashes[name]
		return h, ok
	}
}

// recordHealth feeds the run's per-API outcome to the health tracker.
// Aborted runs only record the APIs whose mandatory documents failed.
func (s *Scheduler) recordHealth(ctx context.Context, logger *slog.Logger, run model.VerificationRun, fatalAPIs []string) {
	if s.health == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	record := func(api string, o health.Outcome) {
		if _, err := s.health.Record(ctx, api, o); err != nil {
			logger.Error("health update failed", "api", api, "error", err)
		}
	}

	if run.Status == model.StatusAborted {
		for _, api := range fatalAPIs {
			record(api, health.Outcome{RunID: run.ID, At: run.EndedAt, FatalFetch: true})
		}
		return
	}
	for _, r := range run.APIs {
		record(r.API, health.Outcome{
			RunID:      run.ID,
			At:         run.EndedAt,
			Errors:     r.Errors,
			Warnings:   r.Warnings,
			FatalFetch: r.FatalFetch,
		})
	}
}
