package resolve

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/ppiankov/specwarden/internal/model"
)

// index maps schema names to definitions across a batch
type index struct {
	byDoc  map[string]map[string]model.SchemaID // document base name -> schema name -> id
	byName map[string][]model.SchemaID          // schema name -> ids, sorted by document
}

func newIndex(defs []model.SchemaDefinition) *index {
	idx := &index{
		byDoc:  make(map[string]map[string]model.SchemaID),
		byName: make(map[string][]model.SchemaID),
	}
	for _, d := range defs {
		doc := docKey(d.ID.Document)
		if idx.byDoc[doc] == nil {
			idx.byDoc[doc] = make(map[string]model.SchemaID)
		}
		idx.byDoc[doc][d.ID.Name] = d.ID
		idx.byName[d.ID.Name] = append(idx.byName[d.ID.Name], d.ID)
	}
	for _, ids := range idx.byName {
		sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	}
	return idx
}

// lookup finds the target of a reference made from document from
func (idx *index) lookup(from string, ref model.Reference) (model.SchemaID, bool) {
	if ref.Document != "" {
		id, ok := idx.byDoc[docKey(ref.Document)][ref.Name]
		return id, ok
	}
	if id, ok := idx.byDoc[docKey(from)][ref.Name]; ok {
		return id, true
	}
	if ids := idx.byName[ref.Name]; len(ids) > 0 {
		return ids[0], true
	}
	return model.SchemaID{}, false
}

func docKey(name string) string {
	return strings.ToLower(path.Base(name))
}

// Resolver links the references of a parsed batch
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver. A nil logger discards.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{logger: logger}
}

// Resolve resolves every reference of defs in a single pass and reports
// dangling references and reference cycles. defs is not modified.
func (r *Resolver) Resolve(defs []model.SchemaDefinition) *model.Graph {
	out := make([]model.SchemaDefinition, len(defs))
	for i, d := range defs {
		out[i] = d.Clone()
	}

	idx := newIndex(out)
	var findings []model.Finding
	resolved, dangling := 0, 0

	for i := range out {
		def := &out[i]
		for j := range def.References {
			ref := &def.References[j]
			if target, ok := idx.lookup(def.ID.Document, *ref); ok {
				ref.State = model.RefResolved
				ref.Target = target
				resolved++
				continue
			}
			ref.State = model.RefDangling
			ref.Target = model.SchemaID{}
			dangling++
			findings = append(findings, DanglingFinding(*def, *ref, model.SeverityWarning))
		}
	}

	g := model.NewGraph(out, nil)
	findings = append(findings, cycleFindings(g)...)
	model.SortFindings(findings)
	g.Findings = findings

	r.logger.Debug("resolved references", "definitions", len(out), "resolved", resolved, "dangling", dangling)
	return g
}

// DanglingFinding describes a reference without a target at the given severity
func DanglingFinding(def model.SchemaDefinition, ref model.Reference, severity model.Severity) model.Finding {
	where := "composition"
	if ref.Field != "" {
		where = "field " + ref.Field
	}
	return model.Finding{
		Rule:     model.RuleDanglingReference,
		Severity: severity,
		Document: def.ID.Document,
		API:      def.API,
		Schemas:  []model.SchemaID{def.ID},
		Field:    ref.Field,
		Detail:   fmt.Sprintf("%s references %q which no document of the batch declares", where, ref.Raw),
	}
}

// cycleFindings reports every strongly connected component that forms a
// cycle: more than one node, or a single node referencing itself
func cycleFindings(g *model.Graph) []model.Finding {
	var findings []model.Finding
	for _, scc := range stronglyConnected(g) {
		if len(scc) == 1 && !selfLoop(g, scc[0]) {
			continue
		}
		sort.Slice(scc, func(i, j int) bool { return scc[i].Less(scc[j]) })
		names := make([]string, len(scc))
		for i, id := range scc {
			names[i] = id.String()
		}
		first, _ := g.Lookup(scc[0])
		findings = append(findings, model.Finding{
			Rule:     model.RuleReferenceCycle,
			Severity: model.SeverityInfo,
			Document: scc[0].Document,
			API:      first.API,
			Schemas:  scc,
			Detail:   "reference cycle: " + strings.Join(names, " -> "),
		})
	}
	return findings
}

func selfLoop(g *model.Graph, id model.SchemaID) bool {
	def, ok := g.Lookup(id)
	if !ok {
		return false
	}
	for _, r := range def.References {
		if r.State == model.RefResolved && r.Target == id {
			return true
		}
	}
	return false
}
