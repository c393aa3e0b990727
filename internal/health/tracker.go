package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/specwarden/internal/codec"
	"github.com/ppiankov/specwarden/internal/model"
	"github.com/ppiankov/specwarden/internal/store"
)

// DefaultFailureThreshold is the number of consecutive error runs that
// turn a degraded API into a failing one
const DefaultFailureThreshold = 3

const keyPrefix = "health/"

func key(api string) string { return keyPrefix + url.PathEscape(api) }

// Outcome is what one run observed for one API
type Outcome struct {
	RunID      string
	At         time.Time
	Errors     int
	Warnings   int
	FatalFetch bool
}

func (o Outcome) clean() bool  { return o.Errors == 0 && o.Warnings == 0 && !o.FatalFetch }
func (o Outcome) failed() bool { return o.Errors > 0 || o.FatalFetch }

// Next applies outcome to status and returns the new status. status is not
// modified.
//
//	clean                     -> healthy, from any state
//	warning only              -> degraded (failing stays failing), error streak reset
//	error or fatal fetch      -> streak+1; failing once the streak reaches threshold,
//	                             degraded before that
func Next(status model.APIHealthStatus, outcome Outcome, threshold int) model.APIHealthStatus {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	next := status.Clone()
	if next.State == "" {
		next.State = model.HealthUnknown
	}

	switch {
	case outcome.clean():
		next.State = model.HealthHealthy
		next.ConsecutiveFailures = 0
		next.LastSuccessfulRun = outcome.RunID
	case outcome.failed():
		next.ConsecutiveFailures++
		if next.State == model.HealthFailing || next.ConsecutiveFailures >= threshold {
			next.State = model.HealthFailing
		} else {
			next.State = model.HealthDegraded
		}
	default:
		next.ConsecutiveFailures = 0
		next.LastSuccessfulRun = outcome.RunID
		if next.State != model.HealthFailing {
			next.State = model.HealthDegraded
		}
	}

	next.History = append(next.History, model.HealthEntry{RunID: outcome.RunID, State: next.State, At: outcome.At})
	return next
}

// Options configures a Tracker
type Options struct {
	FailureThreshold int
	Logger           *slog.Logger
}

// Tracker keeps the health state of every API in the record store. Writes
// to one API are serialized; different APIs update concurrently.
type Tracker struct {
	store     store.Store
	threshold int
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a tracker over s
func NewTracker(s store.Store, opts Options) *Tracker {
	t := &Tracker{
		store:     s,
		threshold: opts.FailureThreshold,
		logger:    opts.Logger,
		locks:     make(map[string]*sync.Mutex),
	}
	if t.threshold <= 0 {
		t.threshold = DefaultFailureThreshold
	}
	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}
	return t
}

func (t *Tracker) lock(api string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[api]
	if !ok {
		l = &sync.Mutex{}
		t.locks[api] = l
	}
	return l
}

// Record applies outcome to api and persists the result in its own
// transaction. Recording a run id already in the API's history is a no-op.
func (t *Tracker) Record(ctx context.Context, api string, outcome Outcome) (model.APIHealthStatus, error) {
	l := t.lock(api)
	l.Lock()
	defer l.Unlock()

	current, err := t.Current(ctx, api)
	if err != nil {
		return model.APIHealthStatus{}, err
	}
	for _, h := range current.History {
		if h.RunID == outcome.RunID {
			return current, nil
		}
	}

	next := Next(current, outcome, t.threshold)
	data, err := codec.Marshal(next)
	if err != nil {
		return model.APIHealthStatus{}, fmt.Errorf("encode health %s: %w", api, err)
	}

	tx, err := t.store.Begin(ctx)
	if err != nil {
		return model.APIHealthStatus{}, fmt.Errorf("record health %s: %w", api, err)
	}
	if err := tx.Write(key(api), data); err != nil {
		_ = tx.Rollback()
		return model.APIHealthStatus{}, fmt.Errorf("record health %s: %w", api, err)
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return model.APIHealthStatus{}, fmt.Errorf("record health %s: %w", api, err)
	}

	if next.State != current.State {
		t.logger.Info("api health changed", "api", api, "from", current.State, "to", next.State, "run", outcome.RunID)
	}
	return next, nil
}

// Current returns the health of api; an API never recorded is unknown
func (t *Tracker) Current(ctx context.Context, api string) (model.APIHealthStatus, error) {
	data, err := t.store.Read(ctx, key(api))
	if errors.Is(err, store.ErrNotFound) {
		return model.APIHealthStatus{API: api, State: model.HealthUnknown}, nil
	}
	if err != nil {
		return model.APIHealthStatus{}, fmt.Errorf("read health %s: %w", api, err)
	}
	var status model.APIHealthStatus
	if err := codec.Unmarshal(data, &status); err != nil {
		return model.APIHealthStatus{}, fmt.Errorf("decode health %s: %w", api, err)
	}
	return status, nil
}

// History returns api's (run, state) entries, oldest first
func (t *Tracker) History(ctx context.Context, api string) ([]model.HealthEntry, error) {
	status, err := t.Current(ctx, api)
	if err != nil {
		return nil, err
	}
	return status.History, nil
}

// All returns the health of every recorded API, sorted by API
func (t *Tracker) All(ctx context.Context) ([]model.APIHealthStatus, error) {
	records, err := t.store.ReadRange(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("read health: %w", err)
	}
	out := make([]model.APIHealthStatus, 0, len(records))
	for _, rec := range records {
		var status model.APIHealthStatus
		if err := codec.Unmarshal(rec.Value, &status); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].API < out[j].API })
	return out, nil
}

// Failing returns the APIs currently in the failing state
func (t *Tracker) Failing(ctx context.Context) ([]string, error) {
	all, err := t.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range all {
		if s.State == model.HealthFailing {
			out = append(out, s.API)
		}
	}
	return out, nil
}
