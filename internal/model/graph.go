package model

import "sort"

// Graph is the resolved schema graph of one run: every definition of the
// batch plus the findings produced while building and checking it
type Graph struct {
	Definitions []SchemaDefinition `json:"definitions"`
	Findings    []Finding          `json:"findings,omitempty"`

	index map[SchemaID]int
}

// NewGraph builds a graph over defs, ordered by schema id
func NewGraph(defs []SchemaDefinition, findings []Finding) *Graph {
	g := &Graph{Definitions: defs, Findings: findings}
	sort.SliceStable(g.Definitions, func(i, j int) bool {
		return g.Definitions[i].ID.Less(g.Definitions[j].ID)
	})
	g.reindex()
	return g
}

func (g *Graph) reindex() {
	g.index = make(map[SchemaID]int, len(g.Definitions))
	for i, d := range g.Definitions {
		g.index[d.ID] = i
	}
}

// Lookup returns the definition with the given id
func (g *Graph) Lookup(id SchemaID) (*SchemaDefinition, bool) {
	if g.index == nil {
		g.reindex()
	}
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return &g.Definitions[i], true
}

// Clone returns a deep copy; mutating the copy never touches g
func (g *Graph) Clone() *Graph {
	out := &Graph{
		Definitions: make([]SchemaDefinition, len(g.Definitions)),
		Findings:    append([]Finding(nil), g.Findings...),
	}
	for i, d := range g.Definitions {
		out.Definitions[i] = d.Clone()
	}
	out.reindex()
	return out
}

// Dangling returns every reference left without a target, in graph order
func (g *Graph) Dangling() []Reference {
	var out []Reference
	for _, d := range g.Definitions {
		for _, r := range d.References {
			if r.State == RefDangling {
				out = append(out, r)
			}
		}
	}
	return out
}
