package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"

	"github.com/ppiankov/specwarden/internal/codec"
	"github.com/ppiankov/specwarden/internal/model"
	"github.com/ppiankov/specwarden/internal/rules"
	"github.com/ppiankov/specwarden/internal/store"
)

// ErrAlreadyCommitted refuses a second commit of the same run id
var ErrAlreadyCommitted = errors.New("run already committed")

// Key layout
const (
	runPrefix    = "run/"
	rulePrefix   = "rule/"
	latestPrefix = "latest/"
	lastRunKey   = "meta/last-run"
	keySeparator = "/"
)

func seg(s string) string { return url.PathEscape(s) }

func runKey(runID string) string { return runPrefix + seg(runID) }

func latestKey(api string) string { return latestPrefix + seg(api) }

func runRulesPrefix(runID string) string { return rulePrefix + seg(runID) + keySeparator }

func apiRulesPrefix(runID, api string) string {
	return runRulesPrefix(runID) + seg(api) + keySeparator
}

// ruleKey is rule/<run>/<api>/<document>/<schema>/<field>. Documents of one
// API may declare the same schema, so the document is part of the identity.
func ruleKey(runID string, r model.ValidationRule) string {
	return apiRulesPrefix(runID, r.API) + seg(r.Document) + keySeparator + seg(r.Schema) + keySeparator + seg(r.FieldPath)
}

// CommitResult describes a committed run
type CommitResult struct {
	RunID      string
	Rules      int
	LatestAPIs []string // APIs whose latest pointer moved to this run
}

// Persister commits verification runs and their rules and serves the
// latest and per-run views
type Persister struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Persister over s. A nil logger discards.
func New(s store.Store, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Persister{store: s, logger: logger}
}

// Commit stores run and its rules in one transaction. Aborted runs are
// stored without rules and leave every latest pointer in place. A commit is
// never interrupted by cancellation of ctx. Any failure rolls back and
// returns a *model.CommitError.
func (p *Persister) Commit(ctx context.Context, run model.VerificationRun, ruleSet []model.ValidationRule) (result CommitResult, err error) {
	ctx = context.WithoutCancel(ctx)
	fail := func(cause error) (CommitResult, error) {
		return CommitResult{}, &model.CommitError{RunID: run.ID, Cause: cause}
	}

	if run.ID == "" {
		return fail(errors.New("run has no id"))
	}
	if run.Status == model.StatusAborted {
		ruleSet = nil
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				p.logger.Error("rollback failed", "run", run.ID, "error", rbErr)
			}
		}
	}()

	switch _, readErr := tx.Read(runKey(run.ID)); {
	case readErr == nil:
		return fail(ErrAlreadyCommitted)
	case !errors.Is(readErr, store.ErrNotFound):
		return fail(readErr)
	}

	run.RuleCount = len(ruleSet)
	run.Committed = false
	data, err := codec.Marshal(run)
	if err != nil {
		return fail(fmt.Errorf("encode run: %w", err))
	}
	if err := tx.Write(runKey(run.ID), data); err != nil {
		return fail(err)
	}

	written := make(map[string]bool, len(ruleSet))
	for _, r := range ruleSet {
		r.RunID = run.ID
		key := ruleKey(run.ID, r)
		if written[key] {
			return fail(fmt.Errorf("duplicate rule %s", key))
		}
		written[key] = true
		data, err := codec.Marshal(r)
		if err != nil {
			return fail(fmt.Errorf("encode rule %s/%s/%s: %w", r.API, r.Schema, r.FieldPath, err))
		}
		if err := tx.Write(key, data); err != nil {
			return fail(err)
		}
	}

	var latest []string
	if run.Status != model.StatusAborted {
		latest = verifiedAPIs(run)
		for _, api := range latest {
			if err := tx.Write(latestKey(api), []byte(run.ID)); err != nil {
				return fail(err)
			}
		}
	}
	if err := tx.Write(lastRunKey, []byte(run.ID)); err != nil {
		return fail(err)
	}

	if err := tx.Commit(); err != nil {
		return fail(err)
	}

	p.logger.Info("run committed", "run", run.ID, "status", run.Status, "rules", len(ruleSet), "latest", len(latest))
	return CommitResult{RunID: run.ID, Rules: len(ruleSet), LatestAPIs: latest}, nil
}

// verifiedAPIs lists the APIs with at least one document that was fetched
// and parsed in run, sorted
func verifiedAPIs(run model.VerificationRun) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range run.Documents {
		if d.FetchError != "" || d.ParseError != "" || seen[d.API] {
			continue
		}
		seen[d.API] = true
		out = append(out, d.API)
	}
	sort.Strings(out)
	return out
}

// Latest returns the rules of api from the most recent run that verified
// it, and that run's id
func (p *Persister) Latest(ctx context.Context, api string) ([]model.ValidationRule, string, error) {
	id, err := p.store.Read(ctx, latestKey(api))
	if err != nil {
		return nil, "", fmt.Errorf("latest %s: %w", api, err)
	}
	runID := string(id)
	out, err := p.readRules(ctx, apiRulesPrefix(runID, api))
	if err != nil {
		return nil, "", err
	}
	return out, runID, nil
}

// ByRun returns every rule committed with runID
func (p *Persister) ByRun(ctx context.Context, runID string) ([]model.ValidationRule, error) {
	if _, err := p.store.Read(ctx, runKey(runID)); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return p.readRules(ctx, runRulesPrefix(runID))
}

func (p *Persister) readRules(ctx context.Context, prefix string) ([]model.ValidationRule, error) {
	records, err := p.store.ReadRange(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]model.ValidationRule, 0, len(records))
	for _, rec := range records {
		var r model.ValidationRule
		if err := codec.Unmarshal(rec.Value, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		out = append(out, r)
	}
	rules.Sort(out)
	return out, nil
}

// Run returns the committed run with the given id
func (p *Persister) Run(ctx context.Context, runID string) (model.VerificationRun, error) {
	data, err := p.store.Read(ctx, runKey(runID))
	if err != nil {
		return model.VerificationRun{}, fmt.Errorf("run %s: %w", runID, err)
	}
	return decodeRun(runKey(runID), data)
}

// LastRun returns the most recently committed run
func (p *Persister) LastRun(ctx context.Context) (model.VerificationRun, error) {
	id, err := p.store.Read(ctx, lastRunKey)
	if err != nil {
		return model.VerificationRun{}, fmt.Errorf("last run: %w", err)
	}
	return p.Run(ctx, string(id))
}

// Runs returns every committed run, oldest first
func (p *Persister) Runs(ctx context.Context) ([]model.VerificationRun, error) {
	records, err := p.store.ReadRange(ctx, runPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]model.VerificationRun, 0, len(records))
	for _, rec := range records {
		run, err := decodeRun(rec.Key, rec.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func decodeRun(key string, data []byte) (model.VerificationRun, error) {
	var run model.VerificationRun
	if err := codec.Unmarshal(data, &run); err != nil {
		return model.VerificationRun{}, fmt.Errorf("decode %s: %w", key, err)
	}
	run.Committed = true
	return run, nil
}
