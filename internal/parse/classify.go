package parse

import (
	"path"
	"strings"

	"github.com/ppiankov/specwarden/internal/model"
)

// Default classification identifiers
const (
	DefaultInsurancePrefix = "insurance-"
)

// DefaultSpecialFiles are documents that need insurance handling without
// carrying the prefix
var DefaultSpecialFiles = []string{"person.yaml", "resources_v2.yaml"}

// Classifier decides the domain flags of a document from its name
type Classifier struct {
	prefix  string
	special map[string]bool
}

// NewClassifier creates a classifier. An empty prefix disables the
// insurance flag. Names are matched case-insensitively on their base name.
func NewClassifier(prefix string, special []string) *Classifier {
	c := &Classifier{
		prefix:  strings.ToLower(prefix),
		special: make(map[string]bool, len(special)),
	}
	for _, s := range special {
		c.special[strings.ToLower(path.Base(s))] = true
	}
	return c
}

// Classify returns the flags of the document with the given name
func (c *Classifier) Classify(name string) model.DomainFlags {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))

	var flags model.DomainFlags
	if c.prefix != "" && strings.HasPrefix(base, c.prefix) {
		flags |= model.FlagInsurance
	}
	if c.special[base] {
		flags |= model.FlagSpecialFile
	}
	return flags
}
