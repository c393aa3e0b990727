package check

import (
	"reflect"
	"testing"

	"github.com/ppiankov/specwarden/internal/model"
	"github.com/ppiankov/specwarden/internal/resolve"
)

func schema(doc, name string, flags model.DomainFlags, fields []model.Field, refs ...model.Reference) model.SchemaDefinition {
	id := model.SchemaID{Document: doc, Name: name}
	for i := range refs {
		refs[i].From = id
		refs[i].State = model.RefUnresolved
	}
	return model.SchemaDefinition{ID: id, API: model.DefaultAPIID(doc), Fields: fields, References: refs, Flags: flags}
}

func refField(name, document, target string) (model.Field, model.Reference) {
	raw := document + "#/components/schemas/" + target
	return model.Field{Name: name, Type: "object", MaxLength: 1, Ref: raw},
		model.Reference{Field: name, Kind: model.RefProperty, Raw: raw, Document: document, Name: target}
}

func resolved(defs ...model.SchemaDefinition) *model.Graph {
	return resolve.NewResolver(nil).Resolve(defs)
}

func byRule(findings []model.Finding, rule model.RuleID) []model.Finding {
	var out []model.Finding
	for _, f := range findings {
		if f.Rule == rule {
			out = append(out, f)
		}
	}
	return out
}

func TestCheck_InjectsPolicyIDAndEscalatesDangling(t *testing.T) {
	insuredField, insuredRef := refField("insured", "person.yaml", "PersonBase")
	g := resolved(
		schema("insurance-auto.yaml", "AutoPolicy", model.FlagInsurance,
			[]model.Field{{Name: "policyNumber", Type: "string", Required: true, MaxLength: 60}, insuredField},
			insuredRef),
	)
	if len(byRule(g.Findings, model.RuleDanglingReference)) != 1 {
		t.Fatalf("resolver should report one provisional dangling finding, got %v", g.Findings)
	}

	out, findings := NewChecker(Options{}).Check(g)

	policy, _ := out.Lookup(model.SchemaID{Document: "insurance-auto.yaml", Name: "AutoPolicy"})
	f, ok := policy.Field(PolicyIDField)
	if !ok {
		t.Fatal("policyId not injected")
	}
	want := model.Field{Name: "policyId", Type: "string", Format: "identifier", MaxLength: 100, Synthetic: true}
	if !reflect.DeepEqual(f, want) {
		t.Errorf("policyId = %+v, want %+v", f, want)
	}

	injected := byRule(findings, model.RulePolicyIDInjected)
	if len(injected) != 1 || injected[0].Severity != model.SeverityInfo {
		t.Errorf("expected one info injection finding, got %v", injected)
	}

	dangling := byRule(findings, model.RuleDanglingReference)
	if len(dangling) != 1 {
		t.Fatalf("expected exactly one dangling finding, got %v", dangling)
	}
	if dangling[0].Severity != model.SeverityError || dangling[0].Field != "insured" {
		t.Errorf("unexpected dangling finding: %+v", dangling[0])
	}
	if findings[0].Severity != model.SeverityError {
		t.Error("errors should sort first")
	}

	if _, ok := g.Definitions[0].Field(PolicyIDField); ok {
		t.Error("Check mutated its input graph")
	}
}

func TestCheck_Idempotent(t *testing.T) {
	insuredField, insuredRef := refField("insured", "", "Missing")
	g := resolved(
		schema("person.yaml", "PersonBase", model.FlagSpecialFile,
			[]model.Field{{Name: "name", Type: "string", MaxLength: 100}, insuredField}, insuredRef),
		schema("insurance-life.yaml", "LifePolicy", model.FlagInsurance,
			[]model.Field{{Name: "policyId", Type: "string", MaxLength: 36}}),
	)

	checker := NewChecker(Options{})
	once, first := checker.Check(g)
	twice, second := checker.Check(once)

	if !reflect.DeepEqual(once.Definitions, twice.Definitions) {
		t.Error("second Check changed the definitions")
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second Check changed the findings:\n%v\n%v", first, second)
	}

	life, _ := once.Lookup(model.SchemaID{Document: "insurance-life.yaml", Name: "LifePolicy"})
	if f, _ := life.Field(PolicyIDField); f.Synthetic || f.MaxLength != 36 {
		t.Errorf("existing policyId was replaced: %+v", f)
	}
	if len(byRule(first, model.RulePolicyIDInjected)) != 1 {
		t.Error("only PersonBase should be injected")
	}
}

func TestCheck_SkipsPlainAndInlineSchemas(t *testing.T) {
	g := resolved(
		schema("accounts.yaml", "Account", 0, []model.Field{{Name: "id", Type: "string"}}),
		schema("insurance-auto.yaml", "AmountDetails", model.FlagInsurance, []model.Field{{Name: "amount", Type: "string"}}),
	)
	out, findings := NewChecker(Options{InlineSchemas: []string{"AmountDetails"}}).Check(g)
	for _, d := range out.Definitions {
		if _, ok := d.Field(PolicyIDField); ok {
			t.Errorf("%s should not be injected", d.ID)
		}
	}
	if len(findings) != 0 {
		t.Errorf("expected no findings, got %v", findings)
	}
}

func TestCheck_CorrelatedDivergence(t *testing.T) {
	baseAddr, baseRef := refField("address", "", "Address")
	respAddr, respRef := refField("address", "", "LegacyAddress")
	dataAddr, dataRef := refField("address", "", "Address")
	g := resolved(
		schema("person.yaml", "PersonBase", 0, []model.Field{baseAddr, {Name: "name", Type: "string"}}, baseRef),
		schema("person.yaml", "PersonResponse", 0, []model.Field{respAddr, {Name: "name", Type: "string"}}, respRef),
		schema("person.yaml", "PersonData", 0, []model.Field{dataAddr}, dataRef),
		schema("person.yaml", "Address", 0, nil),
		schema("person.yaml", "LegacyAddress", 0, nil),
	)

	_, findings := NewChecker(Options{}).Check(g)

	divergent := byRule(findings, model.RuleCorrelatedDivergence)
	if len(divergent) != 2 {
		t.Fatalf("expected 2 divergence findings (Base/Response, Data/Response), got %v", divergent)
	}
	for _, f := range divergent {
		if f.Severity != model.SeverityWarning || f.Field != "address" || len(f.Schemas) != 2 {
			t.Errorf("unexpected finding: %+v", f)
		}
		names := f.Schemas[0].Name + "," + f.Schemas[1].Name
		if names != "PersonBase,PersonResponse" && names != "PersonData,PersonResponse" {
			t.Errorf("unexpected pair %s", names)
		}
	}
}

func TestCheck_ReferenceVersusInlineDiverges(t *testing.T) {
	addr, addrRef := refField("address", "", "Address")
	g := resolved(
		schema("person.yaml", "PersonBase", 0, []model.Field{addr}, addrRef),
		schema("person.yaml", "PersonList", 0, []model.Field{{Name: "address", Type: "string"}}),
		schema("person.yaml", "Address", 0, nil),
	)
	_, findings := NewChecker(Options{}).Check(g)
	if len(byRule(findings, model.RuleCorrelatedDivergence)) != 1 {
		t.Errorf("expected one divergence, got %v", findings)
	}
}

func TestCheck_CustomCorrelator(t *testing.T) {
	a, aRef := refField("owner", "", "Person")
	b, bRef := refField("owner", "", "Company")
	g := resolved(
		schema("x.yaml", "Car", 0, []model.Field{a}, aRef),
		schema("x.yaml", "Truck", 0, []model.Field{b}, bRef),
		schema("x.yaml", "Person", 0, nil),
		schema("x.yaml", "Company", 0, nil),
	)

	_, findings := NewChecker(Options{}).Check(g)
	if len(byRule(findings, model.RuleCorrelatedDivergence)) != 0 {
		t.Fatal("default correlator should not pair Car and Truck")
	}

	vehicles := CorrelatorFunc(func(a, b *model.SchemaDefinition) bool {
		return a.ID != b.ID && (a.ID.Name == "Car" || a.ID.Name == "Truck") && (b.ID.Name == "Car" || b.ID.Name == "Truck")
	})
	_, findings = NewChecker(Options{Correlator: vehicles}).Check(g)
	if len(byRule(findings, model.RuleCorrelatedDivergence)) != 1 {
		t.Errorf("custom correlator should report one divergence, got %v", findings)
	}
}

func TestAffixCorrelator_Stem(t *testing.T) {
	c := NewAffixCorrelator(DefaultAffixes)
	tests := map[string]string{
		"PersonBase":         "Person",
		"PersonResponse":     "Person",
		"PersonDataResponse": "Person",
		"PolicyList":         "Policy",
		"Base":               "Base",
		"Database":           "Database",
	}
	for in, want := range tests {
		if got := c.Stem(in); got != want {
			t.Errorf("Stem(%q) = %q, want %q", in, got, want)
		}
	}
}
