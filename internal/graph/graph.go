package graph

import (
	"container/heap"
	"fmt"
	"slices"

	"github.com/Benny93/oca-go/internal/ocafile"
	"github.com/Benny93/oca-go/internal/said"
)

// DependencyGraph is the resolved refn graph of one batch of files.
type DependencyGraph struct {
	nodes []*Node
	index map[string]int
	edges []Edge

	// Adjacency by node index: outgoing edges point at dependencies,
	// incoming edges at dependents.
	outgoing [][]int
	incoming [][]int

	unresolved [][]string
	cyclic     []bool

	errors   []error
	skipped  []Skipped
	rejected []string
}

// Resolve builds the dependency graph of files. Nodes are created in a
// first pass and edges in a second, so references resolve regardless of
// file order. Structural errors are returned alongside the graph; they never
// stop resolution of unaffected files.
func Resolve(files []SourceFile) (*DependencyGraph, []error) {
	g := &DependencyGraph{index: make(map[string]int)}

	type declared struct {
		file SourceFile
		ext  ocafile.Extraction
	}
	var (
		order  []string
		byRefn = make(map[string][]declared)
	)

	// Pass 1: extract every file and create nodes for unique refns.
	for _, f := range files {
		ext, err := ocafile.Extract(f.Text)
		switch {
		case err != nil:
			g.reject(&GraphError{Kind: KindInvalidRefn, Paths: []string{f.Path}, Err: err}, f.Path)
			continue
		case !ext.HasRefn():
			g.skipped = append(g.skipped, Skipped{Path: f.Path, Reason: "no refn declared"})
			continue
		}
		if _, seen := byRefn[ext.Refn]; !seen {
			order = append(order, ext.Refn)
		}
		byRefn[ext.Refn] = append(byRefn[ext.Refn], declared{file: f, ext: ext})
	}

	duplicates := make(map[string]bool)
	var refs [][]string
	for _, refn := range order {
		decls := byRefn[refn]
		if len(decls) > 1 {
			paths := make([]string, len(decls))
			for i, d := range decls {
				paths[i] = d.file.Path
			}
			duplicates[refn] = true
			g.reject(&GraphError{Kind: KindDuplicateRefn, Refn: refn, Paths: paths}, paths...)
			continue
		}
		d := decls[0]
		g.index[refn] = len(g.nodes)
		g.nodes = append(g.nodes, &Node{
			Refn: refn,
			Path: d.file.Path,
			Kind: d.ext.Kind,
			Text: d.file.Text,
		})
		refs = append(refs, d.ext.Refs)
	}

	n := len(g.nodes)
	g.outgoing = make([][]int, n)
	g.incoming = make([][]int, n)
	g.unresolved = make([][]string, n)
	g.cyclic = make([]bool, n)

	// Pass 2: edges.
	for from, node := range g.nodes {
		for _, ref := range refs[from] {
			if ref == node.Refn {
				g.errors = append(g.errors, &GraphError{Kind: KindSelfReference, Refn: node.Refn, Paths: []string{node.Path}})
				continue
			}
			to, ok := g.index[ref]
			if !ok {
				gerr := &GraphError{Kind: KindUnresolvedRefn, Refn: node.Refn, Target: ref, Paths: []string{node.Path}}
				if duplicates[ref] {
					gerr.Detail = "declared by multiple files"
				}
				g.unresolved[from] = append(g.unresolved[from], ref)
				g.errors = append(g.errors, gerr)
				continue
			}
			g.edges = append(g.edges, Edge{From: from, To: to})
			g.outgoing[from] = append(g.outgoing[from], to)
			g.incoming[to] = append(g.incoming[to], from)
		}
	}

	g.detectCycles()

	return g, slices.Clone(g.errors)
}

func (g *DependencyGraph) reject(err *GraphError, paths ...string) {
	g.errors = append(g.errors, err)
	g.rejected = append(g.rejected, paths...)
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int { return len(g.nodes) }

// Node returns the node declaring refn.
func (g *DependencyGraph) Node(refn string) (*Node, bool) {
	i, ok := g.index[refn]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Nodes returns all nodes in resolution order.
func (g *DependencyGraph) Nodes() []*Node {
	return slices.Clone(g.nodes)
}

// Edges returns all resolved edges.
func (g *DependencyGraph) Edges() []Edge {
	return slices.Clone(g.edges)
}

// Errors returns the structural errors found by Resolve.
func (g *DependencyGraph) Errors() []error {
	return slices.Clone(g.errors)
}

// Skipped returns the files that declared no refn.
func (g *DependencyGraph) Skipped() []Skipped {
	return slices.Clone(g.skipped)
}

// Rejected returns the paths of files kept out of the graph by an error.
func (g *DependencyGraph) Rejected() []string {
	return slices.Clone(g.rejected)
}

// ErrorsFor returns the structural errors attached to path.
func (g *DependencyGraph) ErrorsFor(path string) []error {
	var out []error
	for _, err := range g.errors {
		gerr, ok := err.(*GraphError)
		if ok && slices.Contains(gerr.Paths, path) {
			out = append(out, err)
		}
	}
	return out
}

// Dependencies returns the refns refn depends on directly.
func (g *DependencyGraph) Dependencies(refn string) []string {
	i, ok := g.index[refn]
	if !ok {
		return nil
	}
	return g.refns(g.outgoing[i])
}

// Dependents returns the refns that depend on refn directly.
func (g *DependencyGraph) Dependents(refn string) []string {
	i, ok := g.index[refn]
	if !ok {
		return nil
	}
	return g.refns(g.incoming[i])
}

// Unresolved returns the references of refn that no node declares.
func (g *DependencyGraph) Unresolved(refn string) []string {
	i, ok := g.index[refn]
	if !ok {
		return nil
	}
	return slices.Clone(g.unresolved[i])
}

// InCycle reports whether refn belongs to a dependency cycle.
func (g *DependencyGraph) InCycle(refn string) bool {
	i, ok := g.index[refn]
	return ok && g.cyclic[i]
}

// Closure returns targets plus their transitive dependencies in resolution
// order, and the targets that name no node.
func (g *DependencyGraph) Closure(targets []string) (closure []string, missing []string) {
	seen := make([]bool, len(g.nodes))
	var stack []int
	for _, t := range targets {
		i, ok := g.index[t]
		if !ok {
			missing = append(missing, t)
			continue
		}
		stack = append(stack, i)
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[i] {
			continue
		}
		seen[i] = true
		stack = append(stack, g.outgoing[i]...)
	}
	for i, ok := range seen {
		if ok {
			closure = append(closure, g.nodes[i].Refn)
		}
	}
	return closure, missing
}

// Descendants returns the transitive dependencies of refn.
func (g *DependencyGraph) Descendants(refn string) []string {
	return g.reach(refn, g.outgoing)
}

// Ancestors returns the transitive dependents of refn.
func (g *DependencyGraph) Ancestors(refn string) []string {
	return g.reach(refn, g.incoming)
}

func (g *DependencyGraph) reach(refn string, adj [][]int) []string {
	start, ok := g.index[refn]
	if !ok {
		return nil
	}
	seen := make([]bool, len(g.nodes))
	stack := slices.Clone(adj[start])
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[i] || i == start {
			continue
		}
		seen[i] = true
		stack = append(stack, adj[i]...)
	}
	var out []string
	for i, ok := range seen {
		if ok {
			out = append(out, g.nodes[i].Refn)
		}
	}
	return out
}

// TopologicalOrder orders refns so every dependency precedes its dependents.
// Edges leaving the subset are ignored. Ties are broken by resolution order.
// Unknown refns and cyclic subsets are errors.
func (g *DependencyGraph) TopologicalOrder(refns []string) ([]string, error) {
	in := make(map[int]bool, len(refns))
	for _, r := range refns {
		i, ok := g.index[r]
		if !ok {
			return nil, &GraphError{Kind: KindUnresolvedRefn, Refn: r, Target: r}
		}
		in[i] = true
	}

	pending := make(map[int]int, len(in))
	ready := &indexHeap{}
	for i := range in {
		for _, dep := range g.outgoing[i] {
			if in[dep] {
				pending[i]++
			}
		}
		if pending[i] == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]string, 0, len(in))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, g.nodes[i].Refn)
		for _, dependent := range g.incoming[i] {
			if !in[dependent] {
				continue
			}
			pending[dependent]--
			if pending[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	if len(order) != len(in) {
		return nil, fmt.Errorf("%w: %d of %d nodes cannot be ordered", ErrCycle, len(in)-len(order), len(in))
	}
	return order, nil
}

// WithDigests returns a copy of the graph whose nodes carry the given
// digests.
func (g *DependencyGraph) WithDigests(digests map[string]said.SAID) *DependencyGraph {
	cp := *g
	cp.nodes = make([]*Node, len(g.nodes))
	for i, n := range g.nodes {
		node := *n
		if d, ok := digests[n.Refn]; ok {
			node.Digest = d
		}
		cp.nodes[i] = &node
	}
	return &cp
}

func (g *DependencyGraph) refns(idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = g.nodes[j].Refn
	}
	return out
}

// indexHeap is a min-heap of node indexes.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
