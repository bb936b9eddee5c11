package rbac

import (
	"sort"
	"sync"
)

// RoleGraph maintains the directed acyclic inheritance graph over roles.
// An edge parent->child means parent is senior and inherits everything
// granted to child. The same structure serves the two org-unit trees.
//
// Reads run under a shared lock and never observe a half-applied
// mutation; any mutation that would violate acyclicity is rejected before
// state changes. Transitive closures are cached per node and invalidated
// only for nodes whose reachability the mutation touched.
type RoleGraph struct {
	mu        sync.RWMutex
	parents   map[string]map[string]struct{}
	children  map[string]map[string]struct{}
	ascCache  map[string]map[string]struct{}
	descCache map[string]map[string]struct{}
}

// NewRoleGraph returns an empty graph.
func NewRoleGraph() *RoleGraph {
	return &RoleGraph{
		parents:   make(map[string]map[string]struct{}),
		children:  make(map[string]map[string]struct{}),
		ascCache:  make(map[string]map[string]struct{}),
		descCache: make(map[string]map[string]struct{}),
	}
}

// BuildGraph constructs a graph from stored relationship records. The
// records are applied in order and the first invalid edge aborts the
// build.
func BuildGraph(rels []Relationship) (*RoleGraph, error) {
	g := NewRoleGraph()
	for _, rel := range rels {
		if err := g.AddRelationship(rel.Parent, rel.Child); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AddRelationship inserts the inheritance edge parent->child. It fails
// with a HierarchyError when the edge is degenerate, already present, or
// would close a cycle; the graph is untouched on failure.
func (g *RoleGraph) AddRelationship(parent, child string) error {
	pk, ck := Key(parent), Key(child)
	if pk == "" || ck == "" {
		return &HierarchyError{Parent: parent, Child: child, Reason: "empty role name"}
	}
	if pk == ck {
		return &HierarchyError{Parent: parent, Child: child, Reason: "role cannot inherit itself"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.children[pk][ck]; ok {
		return &HierarchyError{Parent: parent, Child: child, Reason: "relationship already exists"}
	}
	// A cycle would appear exactly when the would-be parent is already
	// junior to the child.
	if _, ok := g.walkLocked(ck, g.children)[pk]; ok {
		return &HierarchyError{Parent: parent, Child: child, Reason: "would create cycle"}
	}

	g.invalidateLocked(pk, ck)
	addEdge(g.children, pk, ck)
	addEdge(g.parents, ck, pk)
	return nil
}

// DeleteRelationship removes the edge parent->child, failing with a
// HierarchyError when it does not exist.
func (g *RoleGraph) DeleteRelationship(parent, child string) error {
	pk, ck := Key(parent), Key(child)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.children[pk][ck]; !ok {
		return &HierarchyError{Parent: parent, Child: child, Reason: "relationship does not exist"}
	}

	g.invalidateLocked(pk, ck)
	delEdge(g.children, pk, ck)
	delEdge(g.parents, ck, pk)
	return nil
}

// Ascendants returns every role senior to the argument, excluding the
// argument itself, in sorted order.
func (g *RoleGraph) Ascendants(role string) []string {
	return setToSlice(g.ascendants(Key(role)))
}

// Descendants returns every role junior to the argument, excluding the
// argument itself, in sorted order.
func (g *RoleGraph) Descendants(role string) []string {
	return setToSlice(g.descendants(Key(role)))
}

// IsAscendant reports whether a is senior to b through any inheritance
// path.
func (g *RoleGraph) IsAscendant(a, b string) bool {
	_, ok := g.ascendants(Key(b))[Key(a)]
	return ok
}

// InHierarchy reports whether the role participates in any inheritance
// relationship.
func (g *RoleGraph) InHierarchy(role string) bool {
	k := Key(role)
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.parents[k]) > 0 || len(g.children[k]) > 0
}

// Len returns the number of roles that participate in at least one
// relationship.
func (g *RoleGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := make(map[string]struct{}, len(g.parents)+len(g.children))
	for k := range g.parents {
		seen[k] = struct{}{}
	}
	for k := range g.children {
		seen[k] = struct{}{}
	}
	return len(seen)
}

// ascendants returns the cached transitive senior set for key. The
// returned map is shared and must not be mutated.
func (g *RoleGraph) ascendants(key string) map[string]struct{} {
	g.mu.RLock()
	if set, ok := g.ascCache[key]; ok {
		g.mu.RUnlock()
		return set
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if set, ok := g.ascCache[key]; ok {
		return set
	}
	set := g.walkLocked(key, g.parents)
	g.ascCache[key] = set
	return set
}

func (g *RoleGraph) descendants(key string) map[string]struct{} {
	g.mu.RLock()
	if set, ok := g.descCache[key]; ok {
		g.mu.RUnlock()
		return set
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if set, ok := g.descCache[key]; ok {
		return set
	}
	set := g.walkLocked(key, g.children)
	g.descCache[key] = set
	return set
}

// walkLocked computes the transitive closure of key over the given
// adjacency direction with a breadth-first traversal. The visited set
// collapses diamond paths so every reachable node is counted once.
func (g *RoleGraph) walkLocked(key string, adj map[string]map[string]struct{}) map[string]struct{} {
	visited := make(map[string]struct{})
	queue := make([]string, 0, len(adj[key]))
	for next := range adj[key] {
		queue = append(queue, next)
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if _, ok := visited[node]; ok {
			continue
		}
		visited[node] = struct{}{}
		for next := range adj[node] {
			if _, ok := visited[next]; !ok {
				queue = append(queue, next)
			}
		}
	}
	return visited
}

// invalidateLocked drops the closure entries affected by a structural
// change to the edge parent->child: descendant sets of the parent and
// everything above it, ascendant sets of the child and everything below
// it. Traversal is bounded by reachability from the changed nodes.
func (g *RoleGraph) invalidateLocked(pk, ck string) {
	delete(g.descCache, pk)
	for node := range g.walkLocked(pk, g.parents) {
		delete(g.descCache, node)
	}
	delete(g.ascCache, ck)
	for node := range g.walkLocked(ck, g.children) {
		delete(g.ascCache, node)
	}
}

func addEdge(adj map[string]map[string]struct{}, from, to string) {
	set, ok := adj[from]
	if !ok {
		set = make(map[string]struct{})
		adj[from] = set
	}
	set[to] = struct{}{}
}

func delEdge(adj map[string]map[string]struct{}, from, to string) {
	delete(adj[from], to)
	if len(adj[from]) == 0 {
		delete(adj, from)
	}
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
