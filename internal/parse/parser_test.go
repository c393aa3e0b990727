package parse

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ppiankov/specwarden/internal/model"
)

const insuranceAuto = `openapi: 3.0.0
info:
  title: Insurance Auto
  version: 1.0.0
components:
  schemas:
    AutoPolicy:
      type: object
      required: [policyNumber, status]
      properties:
        policyNumber:
          type: string
          maxLength: 60
        status:
          type: string
          enum: [ACTIVE, CANCELLED, SUSPENDED_BY_INSURER]
        premium:
          type: number
        insured:
          $ref: 'person.yaml#/components/schemas/PersonBase'
        coverages:
          type: array
          items:
            $ref: '#/components/schemas/Coverage'
        amount:
          type: object
          required: [currency]
          properties:
            value:
              type: number
            currency:
              type: string
              enum: [BRL, USD]
    Coverage:
      allOf:
        - $ref: '#/components/schemas/AmountDetails'
        - type: object
          properties:
            code:
              type: string
    AmountDetails:
      type: object
      properties:
        amount:
          type: string
`

func newTestParser() *Parser {
	return NewParser(Options{
		InsurancePrefix: DefaultInsurancePrefix,
		SpecialFiles:    DefaultSpecialFiles,
		Workers:         2,
	})
}

func doc(name, content string) model.SpecDocument {
	return model.SpecDocument{Name: name, API: model.DefaultAPIID(name), Content: []byte(content)}
}

func TestParse_InsuranceDocument(t *testing.T) {
	defs, err := newTestParser().Parse(doc("insurance-auto.yaml", insuranceAuto))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var names []string
	for _, d := range defs {
		names = append(names, d.ID.Name)
	}
	if want := []string{"AmountDetails", "AutoPolicy", "Coverage"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("definitions = %v, want %v", names, want)
	}

	policy := defs[1]
	if !policy.Flags.Has(model.FlagInsurance) {
		t.Errorf("flags = %s, want insurance", policy.Flags)
	}
	if policy.API != "insurance-auto" || policy.Title != "Insurance Auto" {
		t.Errorf("api=%q title=%q", policy.API, policy.Title)
	}

	tests := []struct {
		field     string
		typ       string
		required  bool
		maxLength int
		ref       string
	}{
		{"policyNumber", "string", true, 60, ""},
		{"status", "string", true, len("SUSPENDED_BY_INSURER"), ""},
		{"premium", "number", false, 10, ""},
		{"insured", "object", false, 1, "person.yaml#/components/schemas/PersonBase"},
		{"coverages", "array", false, 1, "#/components/schemas/Coverage"},
		{"amount.value", "number", false, 10, ""},
		{"amount.currency", "string", true, 3, ""},
	}
	for _, tt := range tests {
		f, ok := policy.Field(tt.field)
		if !ok {
			t.Errorf("field %s missing", tt.field)
			continue
		}
		if f.Type != tt.typ || f.Required != tt.required || f.MaxLength != tt.maxLength || f.Ref != tt.ref {
			t.Errorf("field %s = %+v", tt.field, f)
		}
	}
	if _, ok := policy.Field("amount"); ok {
		t.Error("inline object parent should be flattened away")
	}

	if len(policy.References) != 2 {
		t.Fatalf("expected 2 references, got %d", len(policy.References))
	}
	insured := policy.References[0]
	if insured.Kind != model.RefProperty || insured.Document != "person.yaml" || insured.Name != "PersonBase" || insured.State != model.RefUnresolved {
		t.Errorf("unexpected insured reference: %+v", insured)
	}
	if item := policy.References[1]; item.Kind != model.RefItem || item.Document != "" || item.Name != "Coverage" {
		t.Errorf("unexpected item reference: %+v", item)
	}

	coverage := defs[2]
	if _, ok := coverage.Field("code"); !ok {
		t.Error("allOf inline properties were not merged")
	}
	if len(coverage.References) != 1 || coverage.References[0].Kind != model.RefComposition {
		t.Errorf("expected one composition reference, got %+v", coverage.References)
	}
}

func TestParse_Deterministic(t *testing.T) {
	p := newTestParser()
	a, err := p.Parse(doc("insurance-auto.yaml", insuranceAuto))
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Parse(doc("insurance-auto.yaml", insuranceAuto))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("identical input produced different output")
	}
}

func TestParse_SwaggerDefinitions(t *testing.T) {
	defs, err := newTestParser().Parse(doc("person.yaml", `swagger: "2.0"
definitions:
  PersonBase:
    properties:
      name:
        type: [string, "null"]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(defs) != 1 || defs[0].ID.Name != "PersonBase" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
	if !defs[0].Flags.Has(model.FlagSpecialFile) || defs[0].Flags.Has(model.FlagInsurance) {
		t.Errorf("flags = %s, want special-file only", defs[0].Flags)
	}
	if f, _ := defs[0].Field("name"); f.Type != "string" || f.MaxLength != 100 {
		t.Errorf("field = %+v", f)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		location string
		detail   string
	}{
		{
			name:     "syntax",
			content:  "components:\n  schemas:\n    A: [unclosed\n",
			location: ":0",
			detail:   "yaml",
		},
		{
			name:    "empty",
			content: "",
			detail:  "empty document",
		},
		{
			name:     "root scalar",
			content:  "just a string\n",
			location: "1:1",
			detail:   "not a mapping",
		},
		{
			name: "untyped field",
			content: `components:
  schemas:
    A:
      properties:
        loose:
          description: nothing declared
`,
			location: "6:11",
			detail:   "declares neither",
		},
		{
			name: "malformed ref",
			content: `components:
  schemas:
    A:
      properties:
        other:
          $ref: 'person.yaml#/paths/B'
`,
			location: "6:17",
			detail:   "malformed reference",
		},
		{
			name: "empty ref name",
			content: `components:
  schemas:
    A:
      properties:
        other:
          $ref: '#/components/schemas/'
`,
			detail: "malformed reference",
		},
		{
			name: "bad maxLength",
			content: `components:
  schemas:
    A:
      properties:
        code:
          type: string
          maxLength: long
`,
			detail: "maxLength",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestParser().Parse(doc("a.yaml", tt.content))
			var pe *model.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if pe.Document != "a.yaml" {
				t.Errorf("Document = %q", pe.Document)
			}
			if tt.location != "" && !strings.Contains(pe.Location, tt.location) {
				t.Errorf("Location = %q, want to contain %q", pe.Location, tt.location)
			}
			if !strings.Contains(pe.Error(), tt.detail) {
				t.Errorf("error %q does not mention %q", pe.Error(), tt.detail)
			}
		})
	}
}

func TestParse_NoSchemas(t *testing.T) {
	defs, err := newTestParser().Parse(doc("empty-api.yaml", "openapi: 3.0.0\ninfo:\n  title: x\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(defs) != 0 {
		t.Errorf("expected no definitions, got %d", len(defs))
	}
}

func TestParseAll_OrderAndErrors(t *testing.T) {
	docs := []model.SpecDocument{
		doc("insurance-auto.yaml", insuranceAuto),
		doc("broken.yaml", "a: [\n"),
		doc("person.yaml", "components:\n  schemas:\n    PersonBase:\n      properties:\n        name: {type: string}\n"),
	}
	results, err := newTestParser().ParseAll(context.Background(), docs)
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Document != docs[i].Name || !r.Parsed {
			t.Errorf("result %d = %s parsed=%v", i, r.Document, r.Parsed)
		}
	}
	if results[1].Err == nil {
		t.Error("broken.yaml should carry a ParseError")
	}
	if results[0].Err != nil || len(results[2].Definitions) != 1 {
		t.Error("valid documents should parse despite a broken sibling")
	}
}

func TestParseAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := newTestParser().ParseAll(ctx, []model.SpecDocument{doc("person.yaml", "a: 1\n")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if results[0].Parsed || results[0].Document != "person.yaml" {
		t.Errorf("unexpected result for cancelled batch: %+v", results[0])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want model.DomainFlags
	}{
		{"insurance-auto.yaml", model.FlagInsurance},
		{"Insurance-Life.YAML", model.FlagInsurance},
		{"specs/insurance-home.yaml", model.FlagInsurance},
		{"person.yaml", model.FlagSpecialFile},
		{"PERSON.yaml", model.FlagSpecialFile},
		{"resources_v2.yaml", model.FlagSpecialFile},
		{"resources_v3.yaml", 0},
		{"reinsurance-auto.yaml", 0},
		{"accounts.yaml", 0},
	}
	defaults := NewClassifier(DefaultInsurancePrefix, DefaultSpecialFiles)
	for _, tt := range tests {
		if got := defaults.Classify(tt.name); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}

	custom := NewClassifier("seguro-", []string{"pessoa.yaml"})
	if custom.Classify("seguro-auto.yaml") != model.FlagInsurance {
		t.Error("custom prefix not honoured")
	}
	if custom.Classify("person.yaml") != 0 {
		t.Error("default special files leaked into custom classifier")
	}
}

func TestSplitPointer(t *testing.T) {
	tests := []struct {
		raw, doc, name string
		ok             bool
	}{
		{"#/components/schemas/Coverage", "", "Coverage", true},
		{"person.yaml#/components/schemas/PersonBase", "person.yaml", "PersonBase", true},
		{"../shared/person.yaml#/definitions/PersonBase", "person.yaml", "PersonBase", true},
		{"#/components/schemas/A~1B", "", "A/B", true},
		{"#/components/responses/Error", "", "", false},
		{"person.yaml", "", "", false},
		{"#/components/schemas/A/extra", "", "", false},
	}
	for _, tt := range tests {
		d, n, ok := SplitPointer(tt.raw)
		if ok != tt.ok || d != tt.doc || n != tt.name {
			t.Errorf("SplitPointer(%q) = %q, %q, %v", tt.raw, d, n, ok)
		}
	}
}
