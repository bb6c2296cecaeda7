// Package graph implements the queryable module/service/task/test
// dependency graph (spec §4.7/C8): typed, labeled edges between entities,
// with acyclicity enforced both per label and across their union.
//
// Cycle detection is the teacher's engine.DAGBuilder DFS-with-recursion-
// stack approach (pkg/engine/dag.go), generalized from a single flat
// dependency edge set to four labeled edge sets checked independently and
// together.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

// EntityKind is the kind of node in the config graph.
type EntityKind string

const (
	KindModule  EntityKind = "module"
	KindService EntityKind = "service"
	KindTask    EntityKind = "task"
	KindTest    EntityKind = "test"
)

// EdgeLabel is the typed dependency relation an edge carries.
type EdgeLabel string

const (
	EdgeBuild   EdgeLabel = "build"
	EdgeService EdgeLabel = "service"
	EdgeTask    EdgeLabel = "task"
	EdgeTest    EdgeLabel = "test"
)

var allLabels = []EdgeLabel{EdgeBuild, EdgeService, EdgeTask, EdgeTest}

// Entity is a node in the config graph: a module, or a service/task/test
// owned by a module.
type Entity struct {
	Name   string
	Kind   EntityKind
	Module string // owning module name; equals Name for module entities
}

// Graph is the module/service/task/test dependency graph. Edges point from
// the dependent entity to its dependency (the direction a caller reads as
// "From depends on To"), matching spec §4.7's "service --service--> task"
// notation.
type Graph struct {
	entities map[string]*Entity
	edges    map[EdgeLabel]map[string][]string
}

// New creates an empty Graph.
func New() *Graph {
	g := &Graph{
		entities: make(map[string]*Entity),
		edges:    make(map[EdgeLabel]map[string][]string),
	}
	for _, l := range allLabels {
		g.edges[l] = make(map[string][]string)
	}
	return g
}

// AddEntity registers an entity. Entity names must be globally unique
// (spec §3: "name globally unique").
func (g *Graph) AddEntity(e *Entity) error {
	if _, exists := g.entities[e.Name]; exists {
		return gardenerr.New(gardenerr.KindDependency, "duplicate entity name in config graph").
			WithCode(gardenerr.CodeDuplicateModule).
			WithEntity(e.Name)
	}
	g.entities[e.Name] = e
	for _, l := range allLabels {
		if _, ok := g.edges[l][e.Name]; !ok {
			g.edges[l][e.Name] = nil
		}
	}
	return nil
}

// AddEdge records that from depends on to, under the given label. Both
// entities must already be registered.
func (g *Graph) AddEdge(label EdgeLabel, from, to string) error {
	if _, ok := g.entities[from]; !ok {
		return gardenerr.New(gardenerr.KindDependency, "dependency edge references unknown entity").
			WithCode(gardenerr.CodeMissingDependency).WithEntity(from)
	}
	if _, ok := g.entities[to]; !ok {
		return gardenerr.New(gardenerr.KindDependency, "dependency edge references unknown entity").
			WithCode(gardenerr.CodeMissingDependency).WithEntity(to)
	}
	g.edges[label][from] = append(g.edges[label][from], to)
	return nil
}

// Get returns the entity with the given name.
func (g *Graph) Get(name string) (*Entity, bool) {
	e, ok := g.entities[name]
	return e, ok
}

// All returns every registered entity, sorted by name for determinism.
func (g *Graph) All() []*Entity {
	names := make([]string, 0, len(g.entities))
	for n := range g.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*Entity, len(names))
	for i, n := range names {
		out[i] = g.entities[n]
	}
	return out
}

// OwningModule resolves an entity reference to its owning module name.
func (g *Graph) OwningModule(name string) (string, bool) {
	e, ok := g.entities[name]
	if !ok {
		return "", false
	}
	return e.Module, true
}

// Validate checks acyclicity within each edge label and across their
// union, per spec §3's config-graph invariant and §8's "graph acyclicity"
// testable property.
func (g *Graph) Validate() error {
	for _, label := range allLabels {
		if cycle := detectCycle(g.edges[label], g.entityNames()); cycle != nil {
			return gardenerr.New(gardenerr.KindDependency, fmt.Sprintf("circular %s dependency", label)).
				WithCode(gardenerr.CodeCircularDeps).
				WithDetail("cycle", cycle).
				WithHint(fmt.Sprintf("break the cycle: %s", strings.Join(cycle, " -> ")))
		}
	}

	union := make(map[string][]string, len(g.entities))
	for name := range g.entities {
		var deps []string
		for _, label := range allLabels {
			deps = append(deps, g.edges[label][name]...)
		}
		union[name] = deps
	}
	if cycle := detectCycle(union, g.entityNames()); cycle != nil {
		return gardenerr.New(gardenerr.KindDependency, "circular dependency in config graph").
			WithCode(gardenerr.CodeCircularDeps).
			WithDetail("cycle", cycle).
			WithHint(fmt.Sprintf("break the cycle: %s", strings.Join(cycle, " -> ")))
	}
	return nil
}

func (g *Graph) entityNames() []string {
	names := make([]string, 0, len(g.entities))
	for n := range g.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TransitiveDependencies returns every entity reachable from name via
// edges of the given label, excluding name itself.
func (g *Graph) TransitiveDependencies(name string, label EdgeLabel) []string {
	return g.transitive(name, g.edges[label])
}

// DirectDependencies returns the immediate (non-transitive) dependencies
// of name under the given label, the shape a scheduler node needs to wire
// its own direct predecessors rather than every reachable ancestor.
func (g *Graph) DirectDependencies(name string, label EdgeLabel) []string {
	out := append([]string(nil), g.edges[label][name]...)
	sort.Strings(out)
	return out
}

// DirectDependenciesAll returns the immediate dependencies of name across
// every edge label, deduplicated and sorted.
func (g *Graph) DirectDependenciesAll(name string) []string {
	seen := map[string]bool{}
	var out []string
	for _, label := range allLabels {
		for _, dep := range g.edges[label][name] {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
			}
		}
	}
	sort.Strings(out)
	return out
}

// TransitiveDependenciesAll returns every entity reachable from name via
// any labeled edge, excluding name itself.
func (g *Graph) TransitiveDependenciesAll(name string) []string {
	union := make(map[string][]string, len(g.entities))
	for n := range g.entities {
		var deps []string
		for _, label := range allLabels {
			deps = append(deps, g.edges[label][n]...)
		}
		union[n] = deps
	}
	return g.transitive(name, union)
}

func (g *Graph) transitive(name string, adjacency map[string][]string) []string {
	visited := map[string]bool{name: true}
	var order []string
	var stack []string
	stack = append(stack, adjacency[name]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		order = append(order, n)
		stack = append(stack, adjacency[n]...)
	}
	sort.Strings(order)
	return order
}

// detectCycle runs DFS with a recursion stack over adjacency (the teacher's
// engine.DAGBuilder.detectCyclesUtil approach) and returns the first cycle
// found as a path of entity names, or nil if the graph is acyclic.
func detectCycle(adjacency map[string][]string, nodes []string) []string {
	visited := make(map[string]bool, len(nodes))
	recStack := make(map[string]bool, len(nodes))

	var visit func(node string, path []string) []string
	visit = func(node string, path []string) []string {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, next := range adjacency[node] {
			if !visited[next] {
				if cycle := visit(next, path); cycle != nil {
					return cycle
				}
			} else if recStack[next] {
				start := -1
				for i, n := range path {
					if n == next {
						start = i
						break
					}
				}
				if start >= 0 {
					return append(append([]string{}, path[start:]...), next)
				}
			}
		}

		recStack[node] = false
		return nil
	}

	for _, n := range nodes {
		if !visited[n] {
			if cycle := visit(n, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
