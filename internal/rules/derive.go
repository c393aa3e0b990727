package rules

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/ppiankov/specwarden/internal/codec"
	"github.com/ppiankov/specwarden/internal/model"
)

// DefaultInlineSchemas are folded into the schemas that reference them
var DefaultInlineSchemas = []string{"AmountDetails"}

// Options configures a Deriver
type Options struct {
	InlineSchemas []string
	Logger        *slog.Logger
}

// Deriver turns a checked schema graph into validation rules
type Deriver struct {
	inline map[string]bool
	logger *slog.Logger
}

// NewDeriver creates a deriver
func NewDeriver(opts Options) *Deriver {
	d := &Deriver{inline: make(map[string]bool, len(opts.InlineSchemas)), logger: opts.Logger}
	for _, s := range opts.InlineSchemas {
		d.inline[s] = true
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	return d
}

// Derive emits one rule per field of every definition, tagged with runID.
// Insurance and special-file schemas drop reference fields, since the
// relationship is carried by policyId, except references to inline schemas,
// which expand into "field.subfield" rules. Inline schemas of those
// documents get no rules of their own.
func (d *Deriver) Derive(g *model.Graph, runID string) []model.ValidationRule {
	var out []model.ValidationRule
	for i := range g.Definitions {
		def := &g.Definitions[i]
		domain := def.Flags.IsDomain()
		if domain && d.inline[def.ID.Name] {
			continue
		}

		refs := make(map[string]model.Reference, len(def.References))
		for _, r := range def.References {
			if _, seen := refs[r.Field]; r.Field != "" && !seen {
				refs[r.Field] = r
			}
		}

		for _, f := range def.Fields {
			if f.Ref == "" {
				out = append(out, rule(def, f.Name, f, runID))
				continue
			}

			ref := refs[f.Name]
			target, resolved := (*model.SchemaDefinition)(nil), false
			if ref.State == model.RefResolved {
				target, resolved = g.Lookup(ref.Target)
			}

			switch {
			case domain && resolved && d.inline[target.ID.Name]:
				for _, sub := range target.Fields {
					if sub.Ref != "" {
						continue
					}
					out = append(out, rule(def, f.Name+"."+sub.Name, sub, runID))
				}
			case domain:
				d.logger.Debug("skipping reference field of domain schema",
					"schema", def.ID.String(), "field", f.Name, "ref", f.Ref)
			default:
				r := rule(def, f.Name, f, runID)
				r.FieldType = "object"
				if ref.Kind == model.RefItem {
					r.FieldType = "array"
				}
				r.MaxLength = 1
				out = append(out, r)
			}
		}
	}

	Sort(out)
	return out
}

func rule(def *model.SchemaDefinition, path string, f model.Field, runID string) model.ValidationRule {
	return model.ValidationRule{
		API:       def.API,
		Schema:    def.ID.Name,
		Document:  def.ID.Document,
		FieldPath: path,
		FieldType: f.Type,
		Required:  f.Required,
		MaxLength: f.MaxLength,
		Enum:      append([]string(nil), f.Enum...),
		Synthetic: f.Synthetic,
		RunID:     runID,
	}
}

// Sort orders rules by (API, Schema, FieldPath), then document
func Sort(rules []model.ValidationRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.API != b.API {
			return a.API < b.API
		}
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		if a.FieldPath != b.FieldPath {
			return a.FieldPath < b.FieldPath
		}
		return a.Document < b.Document
	})
}

// Digest returns the hex BLAKE3 digest of the rules' content. Run ids are
// excluded, so two runs deriving the same rules share a digest.
func Digest(rules []model.ValidationRule) (string, error) {
	content := make([]model.ValidationRule, len(rules))
	for i, r := range rules {
		r.RunID = ""
		content[i] = r
	}
	data, err := codec.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("encode rules: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
