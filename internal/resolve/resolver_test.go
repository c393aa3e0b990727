package resolve

import (
	"fmt"
	"testing"

	"github.com/ppiankov/specwarden/internal/model"
)

func def(doc, name string, refs ...model.Reference) model.SchemaDefinition {
	id := model.SchemaID{Document: doc, Name: name}
	for i := range refs {
		refs[i].From = id
		refs[i].State = model.RefUnresolved
	}
	return model.SchemaDefinition{ID: id, API: model.DefaultAPIID(doc), References: refs}
}

func ref(field, document, name string) model.Reference {
	raw := "#/components/schemas/" + name
	if document != "" {
		raw = document + raw
	}
	return model.Reference{Field: field, Kind: model.RefProperty, Raw: raw, Document: document, Name: name}
}

func TestResolve_PointerRules(t *testing.T) {
	defs := []model.SchemaDefinition{
		def("insurance-auto.yaml", "AutoPolicy",
			ref("insured", "person.yaml", "PersonBase"),
			ref("coverage", "", "Coverage"),
			ref("address", "", "Address"),
			ref("holder", "resources_v2.yaml", "Holder"),
		),
		def("insurance-auto.yaml", "Coverage"),
		def("person.yaml", "PersonBase"),
		def("b-common.yaml", "Address"),
		def("a-common.yaml", "Address"),
		def("other.yaml", "Coverage"),
		def("other.yaml", "Holder"),
	}

	g := NewResolver(nil).Resolve(defs)

	policy, ok := g.Lookup(model.SchemaID{Document: "insurance-auto.yaml", Name: "AutoPolicy"})
	if !ok {
		t.Fatal("AutoPolicy missing from graph")
	}
	want := []struct {
		state  model.RefState
		target model.SchemaID
	}{
		{model.RefResolved, model.SchemaID{Document: "person.yaml", Name: "PersonBase"}},
		{model.RefResolved, model.SchemaID{Document: "insurance-auto.yaml", Name: "Coverage"}},
		{model.RefResolved, model.SchemaID{Document: "a-common.yaml", Name: "Address"}},
		{model.RefDangling, model.SchemaID{}},
	}
	for i, w := range want {
		r := policy.References[i]
		if r.State != w.state || r.Target != w.target {
			t.Errorf("reference %s = %s -> %s, want %s -> %s", r.Raw, r.State, r.Target, w.state, w.target)
		}
	}

	if len(g.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %v", g.Findings)
	}
	f := g.Findings[0]
	if f.Rule != model.RuleDanglingReference || f.Field != "holder" || f.API != "insurance-auto" {
		t.Errorf("unexpected finding: %+v", f)
	}

	if defs[0].References[0].State != model.RefUnresolved {
		t.Error("Resolve mutated its input")
	}
}

func TestResolve_NoReferenceLeftUnresolved(t *testing.T) {
	g := NewResolver(nil).Resolve([]model.SchemaDefinition{
		def("a.yaml", "A", ref("b", "", "B"), ref("c", "", "C")),
		def("a.yaml", "B"),
	})
	for _, d := range g.Definitions {
		for _, r := range d.References {
			if r.State == model.RefUnresolved {
				t.Errorf("reference %s left unresolved", r.Raw)
			}
		}
	}
	if len(g.Dangling()) != 1 {
		t.Errorf("expected 1 dangling reference, got %d", len(g.Dangling()))
	}
}

func TestResolve_Cycles(t *testing.T) {
	defs := []model.SchemaDefinition{
		def("a.yaml", "A", ref("b", "", "B")),
		def("a.yaml", "B", ref("a", "", "A")),
		def("a.yaml", "Self", ref("parent", "", "Self")),
		def("a.yaml", "Leaf"),
		def("a.yaml", "Root", ref("leaf", "", "Leaf"), ref("a", "", "A")),
	}

	g := NewResolver(nil).Resolve(defs)

	var cycles []model.Finding
	for _, f := range g.Findings {
		if f.Rule == model.RuleReferenceCycle {
			cycles = append(cycles, f)
		}
	}
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %v", cycles)
	}
	for _, c := range cycles {
		if c.Severity != model.SeverityInfo {
			t.Errorf("cycle severity = %s", c.Severity)
		}
	}
	if len(cycles[0].Schemas) != 2 || cycles[0].Schemas[0].Name != "A" || cycles[0].Schemas[1].Name != "B" {
		t.Errorf("unexpected first cycle: %v", cycles[0].Schemas)
	}
	if len(cycles[1].Schemas) != 1 || cycles[1].Schemas[0].Name != "Self" {
		t.Errorf("unexpected second cycle: %v", cycles[1].Schemas)
	}
}

func TestResolve_DeepChainDoesNotRecurse(t *testing.T) {
	const depth = 20000
	defs := make([]model.SchemaDefinition, depth)
	for i := 0; i < depth; i++ {
		name := fmt.Sprintf("S%06d", i)
		if i+1 < depth {
			defs[i] = def("chain.yaml", name, ref("next", "", fmt.Sprintf("S%06d", i+1)))
		} else {
			defs[i] = def("chain.yaml", name, ref("next", "", "S000000"))
		}
	}

	g := NewResolver(nil).Resolve(defs)
	if len(g.Findings) != 1 || g.Findings[0].Rule != model.RuleReferenceCycle {
		t.Fatalf("expected a single cycle finding, got %d findings", len(g.Findings))
	}
	if len(g.Findings[0].Schemas) != depth {
		t.Errorf("cycle has %d schemas, want %d", len(g.Findings[0].Schemas), depth)
	}
}
