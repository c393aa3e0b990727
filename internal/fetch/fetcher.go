package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/specwarden/internal/cache"
	"github.com/ppiankov/specwarden/internal/clock"
	"github.com/ppiankov/specwarden/internal/model"
	"github.com/ppiankov/specwarden/internal/worker"
)

const fetchMaxRetries = 3

// fetchSleepFunc waits between retries and returns early with ctx's error
// (injectable for tests)
var fetchSleepFunc = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HashLookup returns the content hash the previous run recorded for a
// document name. A nil HashLookup marks every document as changed.
type HashLookup func(name string) (string, bool)

// Options configures a Fetcher
type Options struct {
	Timeout      time.Duration // per document, across all attempts
	UserAgent    string
	MaxBodyBytes int64
	Workers      int

	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string

	RequestsPerSecond float64
	BurstSize         int
	RespectRobots     bool

	Cache  cache.Cache  // conditional GET cache; nil disables
	Clock  clock.Clock  // nil uses the wall clock
	Logger *slog.Logger // nil discards
}

// OptionsFromConfig builds fetcher options from the fetch and concurrency config
func OptionsFromConfig(cfg *model.Config) Options {
	return Options{
		Timeout:           cfg.Fetch.Timeout,
		UserAgent:         cfg.Fetch.UserAgent,
		MaxBodyBytes:      cfg.Fetch.MaxBodyBytes,
		Workers:           cfg.Concurrency.FetchWorkers,
		HTTPProxy:         cfg.Fetch.HTTPProxy,
		HTTPSProxy:        cfg.Fetch.HTTPSProxy,
		NoProxy:           cfg.Fetch.NoProxy,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		BurstSize:         cfg.Fetch.BurstSize,
		RespectRobots:     cfg.Fetch.RespectRobots,
	}
}

// Fetcher retrieves specification documents listed in a manifest
type Fetcher struct {
	httpClient *http.Client
	opts       Options
	limiter    *worker.Limiter
	robots     *RobotsChecker
	cache      cache.Cache
	clock      clock.Clock
	logger     *slog.Logger
}

// NewFetcher creates a new Fetcher with the given options
func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10_000_000
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "specwarden/0.1"
	}

	f := &Fetcher{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: NewProxyFunc(opts.HTTPProxy, opts.HTTPSProxy, opts.NoProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		opts:    opts,
		limiter: worker.NewLimiter(opts.RequestsPerSecond, opts.BurstSize),
		cache:   opts.Cache,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
	if f.cache == nil {
		f.cache = cache.Nop{}
	}
	if f.clock == nil {
		f.clock = clock.Real()
	}
	if f.logger == nil {
		f.logger = slog.New(slog.DiscardHandler)
	}
	if opts.RespectRobots {
		f.robots = NewRobotsChecker(f.httpClient, opts.UserAgent)
	}

	return f
}

// Result is the outcome of fetching a manifest. Documents and Failures are
// both in manifest order.
type Result struct {
	Documents []model.SpecDocument
	Failures  []*model.FetchError
}

// Failure returns the fetch error recorded for the named document
func (r *Result) Failure(name string) (*model.FetchError, bool) {
	for _, f := range r.Failures {
		if f.Document == name {
			return f, true
		}
	}
	return nil, false
}

type fetchOutcome struct {
	doc *model.SpecDocument
	err *model.FetchError
}

// Fetch retrieves every document of the manifest concurrently. Per-document
// failures are collected in the result. If any mandatory document failed,
// the result is returned together with a *model.FatalFetchError.
func (f *Fetcher) Fetch(ctx context.Context, manifest model.Manifest, previous HashLookup) (*Result, error) {
	outcomes := worker.Map(ctx, f.opts.Workers, manifest.Entries, func(ctx context.Context, _ int, entry model.ManifestEntry) fetchOutcome {
		return f.fetchEntry(ctx, manifest.BaseDir, entry, previous)
	})

	result := &Result{}
	var fatal []*model.FetchError
	for i, out := range outcomes {
		entry := manifest.Entries[i]
		if out.doc == nil && out.err == nil {
			// never started: the batch context ended first
			out.err = &model.FetchError{Document: entry.Name, Reason: model.FetchNetwork, Err: ctx.Err()}
		}
		if out.err != nil {
			result.Failures = append(result.Failures, out.err)
			if entry.Mandatory {
				fatal = append(fatal, out.err)
			}
			continue
		}
		result.Documents = append(result.Documents, *out.doc)
	}

	if len(fatal) > 0 {
		return result, &model.FatalFetchError{Failures: fatal}
	}
	return result, nil
}

func (f *Fetcher) fetchEntry(ctx context.Context, baseDir string, entry model.ManifestEntry, previous HashLookup) fetchOutcome {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	source := ResolveSource(baseDir, entry.URL)
	body, err := f.FetchWithRetry(ctx, source)
	if err != nil {
		fe := &model.FetchError{Document: entry.Name, Reason: classify(err), Err: err}
		f.logger.Warn("document fetch failed",
			"document", entry.Name,
			"source", source,
			"reason", fe.Reason,
			"error", err,
		)
		return fetchOutcome{err: fe}
	}

	if len(body) == 0 {
		return fetchOutcome{err: &model.FetchError{Document: entry.Name, Reason: model.FetchMalformed, Err: errors.New("empty document")}}
	}
	if !utf8.Valid(body) {
		return fetchOutcome{err: &model.FetchError{Document: entry.Name, Reason: model.FetchMalformed, Err: errors.New("content is not valid UTF-8")}}
	}

	hash := ContentHash(body)
	changed := true
	if previous != nil {
		if prev, ok := previous(entry.Name); ok && prev == hash {
			changed = false
		}
	}

	f.logger.Debug("document fetched",
		"document", entry.Name,
		"bytes", len(body),
		"hash", hash,
		"changed", changed,
	)

	return fetchOutcome{doc: &model.SpecDocument{
		Name:        entry.Name,
		API:         entry.APIID(),
		Source:      source,
		Content:     body,
		Hash:        hash,
		RetrievedAt: f.clock.Now().UTC(),
		Version:     DetectVersion(body),
		Changed:     changed,
		Mandatory:   entry.Mandatory,
		Critical:    entry.Critical,
	}}
}

// FetchWithRetry retrieves one source, retrying transient failures with
// exponential backoff
func (f *Fetcher) FetchWithRetry(ctx context.Context, source string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < fetchMaxRetries; attempt++ {
		body, err := f.fetchSource(ctx, source)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < fetchMaxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			if err := fetchSleepFunc(ctx, backoff); err != nil {
				return nil, lastErr
			}
		}
	}
	return nil, lastErr
}

func (f *Fetcher) fetchSource(ctx context.Context, source string) ([]byte, error) {
	parsed, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, source)
	case "file":
		return f.readFile(parsed.Path)
	case "":
		return f.readFile(source)
	default:
		return nil, fmt.Errorf("unsupported source scheme %q", parsed.Scheme)
	}
}

func (f *Fetcher) readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = file.Close() }()

	body, err := f.readBody(file)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return body, nil
}

// readBody reads r up to MaxBodyBytes. A longer body fails with a
// *tooLargeError.
func (f *Fetcher) readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, &tooLargeError{Limit: f.opts.MaxBodyBytes}
	}
	return body, nil
}

// cachedResponse is what the conditional GET cache stores per source
type cachedResponse struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	Body         []byte `json:"body"`
}

func (f *Fetcher) fetchHTTP(ctx context.Context, source string) ([]byte, error) {
	var crawlDelay time.Duration
	if f.robots != nil {
		allowed, delay, err := f.robots.CanFetch(ctx, source)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, errDisallowed
		}
		crawlDelay = delay
	}
	if err := f.limiter.WaitWithDelay(ctx, source, crawlDelay); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/yaml,application/x-yaml,text/yaml,application/json;q=0.9,*/*;q=0.8")

	key := cache.Key(source)
	var cached *cachedResponse
	if raw, ok := f.cache.Get(key); ok {
		var c cachedResponse
		if err := json.Unmarshal(raw, &c); err == nil {
			cached = &c
			if c.ETag != "" {
				req.Header.Set("If-None-Match", c.ETag)
			}
			if c.LastModified != "" {
				req.Header.Set("If-Modified-Since", c.LastModified)
			}
		}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		return cached.Body, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := f.readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	etag, lastModified := resp.Header.Get("ETag"), resp.Header.Get("Last-Modified")
	if etag != "" || lastModified != "" {
		raw, err := json.Marshal(cachedResponse{ETag: etag, LastModified: lastModified, Body: body})
		if err == nil {
			if err := f.cache.Set(key, raw, 0); err != nil {
				f.logger.Debug("cache write failed", "source", source, "error", err)
			}
		}
	}

	return body, nil
}

// ResolveSource turns a manifest URL into an absolute source: http(s) and
// file URLs pass through, plain paths are joined to the manifest directory
func ResolveSource(baseDir, raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	if filepath.IsAbs(raw) || baseDir == "" {
		return raw
	}
	return filepath.Join(baseDir, raw)
}

var errDisallowed = errors.New("disallowed by robots.txt")

// statusError is a non-2xx HTTP response
type statusError struct {
	Code   int
	Status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.Code, e.Status)
}

// tooLargeError is a document body over the configured size cap
type tooLargeError struct {
	Limit int64
}

func (e *tooLargeError) Error() string {
	return fmt.Sprintf("document exceeds %d bytes", e.Limit)
}

// isRetryable returns true for transient failures
func isRetryable(err error) bool {
	var tl *tooLargeError
	if errors.As(err, &tl) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || (se.Code >= 500 && se.Code < 600)
	}
	if errors.Is(err, errDisallowed) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset")
}

// classify maps a fetch failure to its FetchError reason
func classify(err error) model.FetchReason {
	var se *statusError
	if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusGone) {
		return model.FetchNotFound
	}
	if errors.Is(err, fs.ErrNotExist) {
		return model.FetchNotFound
	}
	var tl *tooLargeError
	if errors.As(err, &tl) {
		return model.FetchMalformed
	}
	return model.FetchNetwork
}
