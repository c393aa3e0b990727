package check

import (
	"fmt"
	"log/slog"

	"github.com/ppiankov/specwarden/internal/model"
	"github.com/ppiankov/specwarden/internal/resolve"
)

// PolicyIDField is the synthetic property linking domain schemas to a policy
const PolicyIDField = "policyId"

// policyIDLength is the maxLength of the injected policyId
const policyIDLength = 100

// Options configures a Checker
type Options struct {
	Correlator    Correlator
	InlineSchemas []string // schemas folded into their referrers; never injected
	Logger        *slog.Logger
}

// OptionsFromConfig maps the domain config section
func OptionsFromConfig(cfg *model.Config) Options {
	return Options{
		Correlator:    NewAffixCorrelator(cfg.Domain.CorrelationAffixes),
		InlineSchemas: cfg.Domain.InlineSchemas,
	}
}

// Checker applies the insurance-domain consistency rules to a resolved graph
type Checker struct {
	correlator Correlator
	inline     map[string]bool
	logger     *slog.Logger
}

// NewChecker creates a checker. A nil Correlator uses DefaultAffixes.
func NewChecker(opts Options) *Checker {
	c := &Checker{
		correlator: opts.Correlator,
		inline:     make(map[string]bool, len(opts.InlineSchemas)),
		logger:     opts.Logger,
	}
	if c.correlator == nil {
		c.correlator = NewAffixCorrelator(DefaultAffixes)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	for _, s := range opts.InlineSchemas {
		c.inline[s] = true
	}
	return c
}

// Check returns an adjusted copy of g with its findings, and the findings
// on their own. g is not modified. Running Check on its own output yields
// the same graph and findings.
func (c *Checker) Check(g *model.Graph) (*model.Graph, []model.Finding) {
	out := g.Clone()

	// Findings this checker owns are recomputed; the rest pass through
	var findings []model.Finding
	for _, f := range out.Findings {
		if f.Rule == model.RuleDanglingReference || f.Rule == model.RuleCorrelatedDivergence {
			continue
		}
		findings = append(findings, f)
	}

	injected := c.injectPolicyID(out)
	findings = append(findings, injected...)

	divergent := c.correlate(out)
	findings = append(findings, divergent...)

	dangling := 0
	for i := range out.Definitions {
		def := &out.Definitions[i]
		for _, r := range def.References {
			if r.State == model.RefDangling {
				findings = append(findings, resolve.DanglingFinding(*def, r, model.SeverityError))
				dangling++
			}
		}
	}

	model.SortFindings(findings)
	out.Findings = findings

	c.logger.Debug("checked graph",
		"definitions", len(out.Definitions),
		"injected", len(injected),
		"divergent", len(divergent),
		"dangling", dangling,
	)
	return out, findings
}

// injectPolicyID adds the synthetic policyId to every insurance or
// special-file definition that lacks it
func (c *Checker) injectPolicyID(g *model.Graph) []model.Finding {
	var findings []model.Finding
	for i := range g.Definitions {
		def := &g.Definitions[i]
		if !def.Flags.IsDomain() || c.inline[def.ID.Name] {
			continue
		}
		if _, ok := def.Field(PolicyIDField); ok {
			continue
		}
		def.Fields = append(def.Fields, model.Field{
			Name:      PolicyIDField,
			Type:      "string",
			Format:    "identifier",
			Required:  false,
			MaxLength: policyIDLength,
			Synthetic: true,
		})
		findings = append(findings, model.Finding{
			Rule:     model.RulePolicyIDInjected,
			Severity: model.SeverityInfo,
			Document: def.ID.Document,
			API:      def.API,
			Schemas:  []model.SchemaID{def.ID},
			Field:    PolicyIDField,
			Detail:   fmt.Sprintf("synthetic %s added to %s schema", PolicyIDField, def.Flags),
		})
	}
	return findings
}

// edge is the reference carried by one field
type edge struct {
	kind   model.RefKind
	state  model.RefState
	target model.SchemaID
}

func fieldEdges(def *model.SchemaDefinition) map[string]edge {
	edges := make(map[string]edge)
	for _, r := range def.References {
		if r.Field == "" {
			continue
		}
		if _, seen := edges[r.Field]; !seen {
			edges[r.Field] = edge{kind: r.Kind, state: r.State, target: r.Target}
		}
	}
	return edges
}

// correlate compares every correlated pair of definitions on the fields
// both declare where at least one side is a reference
func (c *Checker) correlate(g *model.Graph) []model.Finding {
	edges := make([]map[string]edge, len(g.Definitions))
	for i := range g.Definitions {
		edges[i] = fieldEdges(&g.Definitions[i])
	}

	var findings []model.Finding
	for i := range g.Definitions {
		a := &g.Definitions[i]
		for j := i + 1; j < len(g.Definitions); j++ {
			b := &g.Definitions[j]
			if !c.correlator.Correlated(a, b) {
				continue
			}
			for _, f := range a.Fields {
				if _, ok := b.Field(f.Name); !ok {
					continue
				}
				ea, aRef := edges[i][f.Name]
				eb, bRef := edges[j][f.Name]
				if !aRef && !bRef {
					continue
				}
				if detail, diverge := divergence(ea, aRef, eb, bRef); diverge {
					findings = append(findings, model.Finding{
						Rule:     model.RuleCorrelatedDivergence,
						Severity: model.SeverityWarning,
						Document: a.ID.Document,
						API:      a.API,
						Schemas:  []model.SchemaID{a.ID, b.ID},
						Field:    f.Name,
						Detail:   detail,
					})
				}
			}
		}
	}
	return findings
}

// divergence decides whether two sides of a shared field disagree. Dangling
// sides are reported by the escalation pass instead.
func divergence(a edge, aRef bool, b edge, bRef bool) (string, bool) {
	switch {
	case aRef && a.state == model.RefDangling, bRef && b.state == model.RefDangling:
		return "", false
	case aRef != bRef:
		return "field is a reference on one side and an inline type on the other", true
	case a.target != b.target:
		return fmt.Sprintf("field references %s on one side and %s on the other", a.target, b.target), true
	case a.kind != b.kind:
		return fmt.Sprintf("field is a %s reference on one side and a %s reference on the other", a.kind, b.kind), true
	}
	return "", false
}
