package resolve

import "github.com/ppiankov/specwarden/internal/model"

// stronglyConnected returns the strongly connected components of the
// resolved reference graph. Tarjan's algorithm with an explicit call stack,
// so arbitrarily deep reference chains cannot exhaust the goroutine stack.
func stronglyConnected(g *model.Graph) [][]model.SchemaID {
	n := len(g.Definitions)
	pos := make(map[model.SchemaID]int, n)
	for i, d := range g.Definitions {
		pos[d.ID] = i
	}
	adj := make([][]int, n)
	for i, d := range g.Definitions {
		for _, r := range d.References {
			if r.State != model.RefResolved {
				continue
			}
			if w, ok := pos[r.Target]; ok {
				adj[i] = append(adj[i], w)
			}
		}
	}

	order := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range order {
		order[i] = -1
	}

	type frame struct {
		v    int
		edge int
	}

	var (
		stack []int
		out   [][]model.SchemaID
		next  int
	)
	visit := func(v int) {
		order[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true
	}

	for root := 0; root < n; root++ {
		if order[root] != -1 {
			continue
		}
		visit(root)
		calls := []frame{{v: root}}

		for len(calls) > 0 {
			top := &calls[len(calls)-1]
			v := top.v
			if top.edge < len(adj[v]) {
				w := adj[v][top.edge]
				top.edge++
				if order[w] == -1 {
					visit(w)
					calls = append(calls, frame{v: w})
				} else if onStack[w] {
					low[v] = min(low[v], order[w])
				}
				continue
			}

			if low[v] == order[v] {
				var component []model.SchemaID
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					component = append(component, g.Definitions[w].ID)
					if w == v {
						break
					}
				}
				out = append(out, component)
			}

			calls = calls[:len(calls)-1]
			if len(calls) > 0 {
				parent := calls[len(calls)-1].v
				low[parent] = min(low[parent], low[v])
			}
		}
	}
	return out
}
