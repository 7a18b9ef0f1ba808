package engine

import (
	"sort"
	"strings"

	"github.com/mlstack-io/mlstack/internal/stack"
)

// Graph is a directed acyclic graph over resource specs; edges encode
// "must exist before" relationships.
type Graph struct {
	specs    map[string]*stack.ResourceSpec
	edges    map[string][]string // spec -> prerequisites
	revEdges map[string][]string // spec -> dependents
	order    []string
}

// BuildGraph constructs and validates the dependency graph. Cyclic specs are
// rejected with a validation error before any provisioning call is made.
// Dependencies on specs outside the graph are kept aside so the orchestrator
// can verify them against already-provisioned state.
func BuildGraph(specs []*stack.ResourceSpec) (*Graph, error) {
	g := &Graph{
		specs:    make(map[string]*stack.ResourceSpec, len(specs)),
		edges:    make(map[string][]string, len(specs)),
		revEdges: make(map[string][]string, len(specs)),
	}

	for _, spec := range specs {
		id := spec.ID()
		if _, dup := g.specs[id]; dup {
			return nil, validationErr(id, "duplicate resource spec")
		}
		g.specs[id] = spec
	}

	for _, spec := range specs {
		id := spec.ID()
		for _, dep := range spec.DependsOn {
			if dep == id {
				return nil, validationErr(id, "resource depends on itself")
			}
			if _, ok := g.specs[dep]; !ok {
				continue
			}
			g.edges[id] = append(g.edges[id], dep)
			g.revEdges[dep] = append(g.revEdges[dep], id)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, validationErr(cycle[0], "dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// TopoOrder returns spec IDs in dependency-respecting creation order.
// Independent nodes are ordered lexicographically so the sequence is
// reproducible across runs.
func (g *Graph) TopoOrder() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// ReverseTopoOrder is the exact reverse of TopoOrder, safe for teardown.
func (g *Graph) ReverseTopoOrder() []string {
	out := make([]string, len(g.order))
	for i, id := range g.order {
		out[len(g.order)-1-i] = id
	}
	return out
}

// Spec returns the spec for an ID, or nil.
func (g *Graph) Spec(id string) *stack.ResourceSpec {
	return g.specs[id]
}

// Dependencies returns the in-graph prerequisites of a spec ID.
func (g *Graph) Dependencies(id string) []string {
	return g.edges[id]
}

// Dependents returns the spec IDs that depend on the given one.
func (g *Graph) Dependents(id string) []string {
	return g.revEdges[id]
}

// ExternalDependencies returns declared prerequisites that are not part of
// this graph. They must already be ready in persisted state.
func (g *Graph) ExternalDependencies(id string) []string {
	spec := g.specs[id]
	if spec == nil {
		return nil
	}
	var ext []string
	for _, dep := range spec.DependsOn {
		if _, ok := g.specs[dep]; !ok {
			ext = append(ext, dep)
		}
	}
	return ext
}

// findCycle runs a depth-first traversal with a recursion-stack set. The
// first node revisited while still on the active stack identifies the cycle;
// the returned path is used for diagnostics.
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		active    = 1
		done      = 2
	)

	state := make(map[string]int, len(g.specs))
	var pathStack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = active
		pathStack = append(pathStack, id)

		deps := append([]string(nil), g.edges[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch state[dep] {
			case active:
				start := 0
				for i, n := range pathStack {
					if n == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), pathStack[start:]...), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}

		pathStack = pathStack[:len(pathStack)-1]
		state[id] = done
		return false
	}

	for _, id := range g.sortedIDs() {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

// topoSort runs Kahn's algorithm, always draining the lexicographically
// smallest ready node first.
func (g *Graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.specs))
	for id := range g.specs {
		inDegree[id] = len(g.edges[id])
	}

	var ready []string
	for _, id := range g.sortedIDs() {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var sorted []string
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, id)

		for _, dependent := range g.revEdges[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(sorted) != len(g.specs) {
		return nil, validationErr("", "dependency cycle detected in resource graph")
	}
	return sorted, nil
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.specs))
	for id := range g.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
