package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ppiankov/specwarden/internal/cache"
	"github.com/ppiankov/specwarden/internal/check"
	"github.com/ppiankov/specwarden/internal/fetch"
	"github.com/ppiankov/specwarden/internal/model"
	"github.com/ppiankov/specwarden/internal/parse"
	"github.com/ppiankov/specwarden/internal/resolve"
	"github.com/ppiankov/specwarden/internal/rules"
)

// Fetcher retrieves the documents of a manifest
type Fetcher interface {
	Fetch(ctx context.Context, manifest model.Manifest, previous fetch.HashLookup) (*fetch.Result, error)
}

// Pipeline runs the verification stages over one manifest:
// fetch, parse, resolve, check and rule derivation
type Pipeline struct {
	fetcher  Fetcher
	parser   *parse.Parser
	resolver *resolve.Resolver
	checker  *check.Checker
	deriver  *rules.Deriver
	logger   *slog.Logger
}

// Options wires the stages of a Pipeline. Nil stages get defaults.
type Options struct {
	Fetcher  Fetcher
	Parser   *parse.Parser
	Resolver *resolve.Resolver
	Checker  *check.Checker
	Deriver  *rules.Deriver
	Logger   *slog.Logger
}

// New creates a pipeline from explicit stages
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Pipeline{
		fetcher:  opts.Fetcher,
		parser:   opts.Parser,
		resolver: opts.Resolver,
		checker:  opts.Checker,
		deriver:  opts.Deriver,
		logger:   logger,
	}
	if p.fetcher == nil {
		p.fetcher = fetch.NewFetcher(fetch.Options{Logger: logger})
	}
	if p.parser == nil {
		p.parser = parse.NewParser(parse.Options{
			InsurancePrefix: parse.DefaultInsurancePrefix,
			SpecialFiles:    parse.DefaultSpecialFiles,
			Logger:          logger,
		})
	}
	if p.resolver == nil {
		p.resolver = resolve.NewResolver(logger)
	}
	if p.checker == nil {
		p.checker = check.NewChecker(check.Options{InlineSchemas: rules.DefaultInlineSchemas, Logger: logger})
	}
	if p.deriver == nil {
		p.deriver = rules.NewDeriver(rules.Options{InlineSchemas: rules.DefaultInlineSchemas, Logger: logger})
	}
	return p
}

// NewFromConfig builds every stage from cfg. The response cache is shared
// by all fetches of the pipeline.
func NewFromConfig(cfg *model.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	fetchOpts := fetch.OptionsFromConfig(cfg)
	fetchOpts.Logger = logger
	if cfg.Cache.Enabled {
		fetchOpts.Cache = cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)
	}

	parseOpts := parse.OptionsFromConfig(cfg)
	parseOpts.Logger = logger

	checkOpts := check.OptionsFromConfig(cfg)
	checkOpts.Logger = logger

	return New(Options{
		Fetcher:  fetch.NewFetcher(fetchOpts),
		Parser:   parse.NewParser(parseOpts),
		Resolver: resolve.NewResolver(logger),
		Checker:  check.NewChecker(checkOpts),
		Deriver:  rules.NewDeriver(rules.Options{InlineSchemas: cfg.Domain.InlineSchemas, Logger: logger}),
		Logger:   logger,
	})
}

// Verification is what the stages produced for one manifest
type Verification struct {
	Documents []model.DocumentSummary // manifest order
	Findings  []model.Finding         // sorted
	Graph     *model.Graph            // nil when the run stopped before resolution
	Rules     []model.ValidationRule
	FatalAPIs []string // APIs of mandatory documents that could not be fetched
}

// Verify runs every stage for manifest and tags derived rules with runID.
// A *model.FatalFetchError or a context error stops the pipeline; the
// partial verification is returned alongside it.
func (p *Pipeline) Verify(ctx context.Context, manifest model.Manifest, previous fetch.HashLookup, runID string) (*Verification, error) {
	v := &Verification{}

	// 1. Fetch
	fetched, fetchErr := p.fetcher.Fetch(ctx, manifest, previous)
	if fetched == nil {
		fetched = &fetch.Result{}
	}
	v.Documents = summarize(manifest, fetched)
	for _, fe := range fetched.Failures {
		entry := entryFor(manifest, fe.Document)
		severity := model.SeverityWarning
		if entry.Mandatory {
			severity = model.SeverityError
		}
		v.Findings = append(v.Findings, model.Finding{
			Rule:     model.RuleFetchFailed,
			Severity: severity,
			Document: fe.Document,
			API:      entry.APIID(),
			Detail:   fe.Error(),
		})
	}
	if err := ctx.Err(); err != nil {
		model.SortFindings(v.Findings)
		return v, err
	}
	var fatal *model.FatalFetchError
	if errors.As(fetchErr, &fatal) {
		for _, fe := range fatal.Failures {
			v.FatalAPIs = appendUnique(v.FatalAPIs, entryFor(manifest, fe.Document).APIID())
		}
		sort.Strings(v.FatalAPIs)
		model.SortFindings(v.Findings)
		return v, fetchErr
	}
	if fetchErr != nil {
		return v, fmt.Errorf("fetch: %w", fetchErr)
	}

	// 2. Parse, with a cancellation checkpoint after every document
	parsed, err := p.parser.ParseAll(ctx, fetched.Documents)
	var defs []model.SchemaDefinition
	for _, res := range parsed {
		if !res.Parsed {
			continue
		}
		if res.Err != nil {
			setParseError(v.Documents, res.Document, res.Err.Error())
			v.Findings = append(v.Findings, model.Finding{
				Rule:     model.RuleParseFailed,
				Severity: model.SeverityError,
				Document: res.Document,
				API:      res.API,
				Detail:   res.Err.Error(),
			})
			continue
		}
		if len(res.Definitions) == 0 {
			v.Findings = append(v.Findings, model.Finding{
				Rule:     model.RuleNoSchemas,
				Severity: model.SeverityWarning,
				Document: res.Document,
				API:      res.API,
				Detail:   "document declares no schemas",
			})
		}
		defs = append(defs, res.Definitions...)
	}
	if err != nil {
		model.SortFindings(v.Findings)
		return v, err
	}

	// 3. Resolve
	graph := p.resolver.Resolve(defs)
	if err := ctx.Err(); err != nil {
		model.SortFindings(v.Findings)
		return v, err
	}

	// 4. Check
	checked, findings := p.checker.Check(graph)
	v.Graph = checked
	v.Findings = append(v.Findings, findings...)
	model.SortFindings(v.Findings)
	if err := ctx.Err(); err != nil {
		return v, err
	}

	// 5. Derive
	v.Rules = p.deriver.Derive(checked, runID)

	p.logger.Debug("verification stages complete",
		"documents", len(fetched.Documents),
		"definitions", len(checked.Definitions),
		"findings", len(v.Findings),
		"rules", len(v.Rules),
	)
	return v, nil
}

// Results aggregates findings and rules per API, for every API of manifest
func (v *Verification) Results(manifest model.Manifest) []model.APIResult {
	byAPI := make(map[string]*model.APIResult)
	mandatory := make(map[string]bool)
	var order []string
	for _, e := range manifest.Entries {
		api := e.APIID()
		if _, ok := byAPI[api]; !ok {
			byAPI[api] = &model.APIResult{API: api, Status: model.APIClean}
			order = append(order, api)
		}
		if e.Mandatory {
			mandatory[e.Name] = true
		}
	}
	get := func(api string) *model.APIResult {
		r, ok := byAPI[api]
		if !ok {
			r = &model.APIResult{API: api, Status: model.APIClean}
			byAPI[api] = r
			order = append(order, api)
		}
		return r
	}

	for _, f := range v.Findings {
		r := get(f.API)
		switch f.Severity {
		case model.SeverityError:
			r.Errors++
			if mandatory[f.Document] {
				r.Status = model.APIFailed
			} else if r.Status == model.APIClean {
				r.Status = model.APIFindings
			}
		case model.SeverityWarning:
			r.Warnings++
			if r.Status == model.APIClean {
				r.Status = model.APIFindings
			}
		default:
			r.Infos++
		}
	}
	for _, api := range v.FatalAPIs {
		r := get(api)
		r.FatalFetch = true
		r.Status = model.APIFailed
	}
	for _, rule := range v.Rules {
		get(rule.API).Rules++
	}

	sort.Strings(order)
	out := make([]model.APIResult, len(order))
	for i, api := range order {
		out[i] = *byAPI[api]
	}
	return out
}

func summarize(manifest model.Manifest, fetched *fetch.Result) []model.DocumentSummary {
	docs := make(map[string]model.SpecDocument, len(fetched.Documents))
	for _, d := range fetched.Documents {
		docs[d.Name] = d
	}
	out := make([]model.DocumentSummary, 0, len(manifest.Entries))
	for _, e := range manifest.Entries {
		s := model.DocumentSummary{Name: e.Name, API: e.APIID(), Mandatory: e.Mandatory}
		if d, ok := docs[e.Name]; ok {
			s.Hash = d.Hash
			s.Version = d.Version
			s.Changed = d.Changed
		} else if fe, ok := fetched.Failure(e.Name); ok {
			s.FetchError = fe.Error()
		} else {
			s.FetchError = "not fetched"
		}
		out = append(out, s)
	}
	return out
}

func setParseError(docs []model.DocumentSummary, name, detail string) {
	for i := range docs {
		if docs[i].Name == name {
			docs[i].ParseError = detail
		}
	}
}

func entryFor(manifest model.Manifest, name string) model.ManifestEntry {
	for _, e := range manifest.Entries {
		if e.Name == name {
			return e
		}
	}
	return model.ManifestEntry{Name: name}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
