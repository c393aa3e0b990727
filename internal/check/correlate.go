package check

import (
	"strings"

	"github.com/ppiankov/specwarden/internal/model"
)

// Correlator decides whether two schema definitions describe the same
// business entity and must agree on shared reference fields
type Correlator interface {
	Correlated(a, b *model.SchemaDefinition) bool
}

// CorrelatorFunc adapts a function to Correlator
type CorrelatorFunc func(a, b *model.SchemaDefinition) bool

// Correlated calls f(a, b)
func (f CorrelatorFunc) Correlated(a, b *model.SchemaDefinition) bool { return f(a, b) }

// DefaultAffixes are stripped from schema names before stems are compared
var DefaultAffixes = []string{"Response", "Request", "Data", "Base", "List"}

// AffixCorrelator correlates distinct schemas whose names share a stem once
// the configured affixes are stripped: PersonBase, PersonResponse and
// PersonData all have the stem "Person"
type AffixCorrelator struct {
	affixes []string
}

// NewAffixCorrelator creates an AffixCorrelator. Affixes are matched case-sensitively.
func NewAffixCorrelator(affixes []string) *AffixCorrelator {
	return &AffixCorrelator{affixes: affixes}
}

// Stem strips trailing affixes from name until none applies. A name made
// only of affixes keeps its last non-empty form.
func (c *AffixCorrelator) Stem(name string) string {
	for {
		stripped := false
		for _, a := range c.affixes {
			if a == "" || len(name) <= len(a) {
				continue
			}
			if strings.HasSuffix(name, a) {
				name = name[:len(name)-len(a)]
				stripped = true
			}
		}
		if !stripped {
			return name
		}
	}
}

// Correlated reports whether a and b are distinct and share a stem
func (c *AffixCorrelator) Correlated(a, b *model.SchemaDefinition) bool {
	if a.ID == b.ID {
		return false
	}
	return c.Stem(a.ID.Name) == c.Stem(b.ID.Name)
}
