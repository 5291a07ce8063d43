package cache

import (
	"sync"

	"github.com/heimdalr/dag"
)

// depVertex is the minimal vertex heimdalr/dag needs: something it can
// derive/attach an id to. Cache keys are plain strings, so the vertex just
// carries the key back out for diagnostics.
type depVertex struct {
	key string
}

// DependencyGraph tracks k→d "k depends on d" edges for cache invalidation
// cascades, per spec.md §3 and §4.3. It is guarded by its own mutex,
// independent of the tier locks, per spec.md §5's shared-resource policy.
type DependencyGraph struct {
	mu       sync.Mutex
	d        *dag.DAG
	maxDepth int
}

// NewDependencyGraph constructs an empty graph with the given bound on
// transitive-invalidation traversal depth.
func NewDependencyGraph(maxDepth int) *DependencyGraph {
	return &DependencyGraph{d: dag.NewDAG(), maxDepth: maxDepth}
}

func (g *DependencyGraph) ensureVertex(key string) {
	if _, err := g.d.GetVertex(key); err != nil {
		_ = g.d.AddVertexByID(key, &depVertex{key: key})
	}
}

// AddDependency records that k depends on d (invalidating d invalidates
// k). Self-edges are dropped silently, matching the invariant that the
// graph stays acyclic under transitive invalidation.
func (g *DependencyGraph) AddDependency(k, d string) {
	if k == d {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureVertex(k)
	g.ensureVertex(d)
	// Edge direction in the DAG library runs parent->child as "parent must
	// be processed first"; we store it d->k so that GetChildren(d) yields
	// every key that depends on d, i.e. the dependents of d.
	_ = g.d.AddEdge(d, k)
}

// RemoveKey drops key and all of its edges from the graph, used when a key
// is evicted/invalidated so stale edges don't accumulate forever.
func (g *DependencyGraph) RemoveKey(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.d.DeleteVertex(key)
}

// Dependents returns every key that (transitively, up to maxDepth)
// depends on root, i.e. every j such that invalidating root must also
// invalidate j.
func (g *DependencyGraph) Dependents(root string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := map[string]bool{root: true}
	var out []string
	frontier := []string{root}
	for depth := 0; depth < g.maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			children, err := g.d.GetChildren(id)
			if err != nil {
				continue
			}
			for childID := range children {
				if seen[childID] {
					continue
				}
				seen[childID] = true
				out = append(out, childID)
				next = append(next, childID)
			}
		}
		frontier = next
	}
	return out
}
