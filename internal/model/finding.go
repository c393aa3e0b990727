package model

import (
	"fmt"
	"sort"
	"strings"
)

// Severity indicates the importance of a finding
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// rank orders severities for sorting
func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// RuleID names the rule that produced a finding
type RuleID string

const (
	RuleFetchFailed          RuleID = "fetch-failed"          // per-document fetch error
	RuleParseFailed          RuleID = "parse-failed"          // per-document parse error
	RuleDanglingReference    RuleID = "dangling-reference"    // reference without a target in the batch
	RuleReferenceCycle       RuleID = "reference-cycle"       // mutually recursive schemas
	RulePolicyIDInjected     RuleID = "policy-id-injected"    // synthetic policyId added
	RuleCorrelatedDivergence RuleID = "correlated-divergence" // correlated schemas disagree on a shared field
	RuleNoSchemas            RuleID = "no-schemas"            // document parsed but declared nothing
)

// Finding is the result of one consistency rule applied to one or more
// schema definitions. Immutable once produced.
type Finding struct {
	Rule     RuleID     `json:"rule" cbor:"rule"`
	Severity Severity   `json:"severity" cbor:"severity"`
	Document string     `json:"document,omitempty" cbor:"document,omitempty"`
	API      string     `json:"api,omitempty" cbor:"api,omitempty"`
	Schemas  []SchemaID `json:"schemas,omitempty" cbor:"schemas,omitempty"`
	Field    string     `json:"field,omitempty" cbor:"field,omitempty"`
	Detail   string     `json:"detail" cbor:"detail"`
}

// String renders a single-line description
func (f Finding) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", f.Severity, f.Rule)
	if len(f.Schemas) > 0 {
		ids := make([]string, len(f.Schemas))
		for i, id := range f.Schemas {
			ids[i] = id.String()
		}
		fmt.Fprintf(&b, " %s", strings.Join(ids, ","))
	} else if f.Document != "" {
		fmt.Fprintf(&b, " %s", f.Document)
	}
	if f.Field != "" {
		fmt.Fprintf(&b, " field=%s", f.Field)
	}
	fmt.Fprintf(&b, ": %s", f.Detail)
	return b.String()
}

// SortFindings orders findings by severity (errors first), then document,
// rule, schemas and field, so runs over the same input report identically.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() > b.Severity.rank()
		}
		if a.Document != b.Document {
			return a.Document < b.Document
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		as, bs := joinIDs(a.Schemas), joinIDs(b.Schemas)
		if as != bs {
			return as < bs
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Detail < b.Detail
	})
}

func joinIDs(ids []SchemaID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

// CountBySeverity tallies findings per severity
func CountBySeverity(findings []Finding) map[Severity]int {
	counts := make(map[Severity]int, 3)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}
