package graph

import (
	"slices"
)

// detectCycles finds every strongly connected component with more than one
// node, flags its members and records one cycle per component.
func (g *DependencyGraph) detectCycles() {
	for _, comp := range g.components() {
		if len(comp) < 2 {
			continue
		}
		members := make(map[int]bool, len(comp))
		for _, i := range comp {
			members[i] = true
			g.cyclic[i] = true
		}

		start := slices.Min(comp)
		cycle := g.cycleThrough(start, members)
		refns := g.refns(cycle)
		paths := make([]string, len(comp))
		slices.Sort(comp)
		for k, i := range comp {
			paths[k] = g.nodes[i].Path
		}
		g.errors = append(g.errors, &GraphError{
			Kind:  KindCycle,
			Refn:  g.nodes[start].Refn,
			Cycle: refns,
			Paths: paths,
		})
	}
}

// cycleThrough returns the shortest cycle from start back to start that stays
// inside members.
func (g *DependencyGraph) cycleThrough(start int, members map[int]bool) []int {
	parent := map[int]int{start: -1}
	queue := []int{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.outgoing[cur] {
			if !members[next] {
				continue
			}
			if next == start {
				var path []int
				for at := cur; at != -1; at = parent[at] {
					path = append(path, at)
				}
				slices.Reverse(path)
				return path
			}
			if _, seen := parent[next]; !seen {
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return []int{start}
}

// components returns the strongly connected components in discovery order
// (Tarjan).
func (g *DependencyGraph) components() [][]int {
	var (
		n       = len(g.nodes)
		index   = make([]int, n)
		low     = make([]int, n)
		onStack = make([]bool, n)
		stack   []int
		counter = 1
		comps   [][]int
	)

	var visit func(v int)
	visit = func(v int) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.outgoing[v] {
			switch {
			case index[w] == 0:
				visit(w)
				low[v] = min(low[v], low[w])
			case onStack[w]:
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] == index[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			comps = append(comps, comp)
		}
	}

	for v := range n {
		if index[v] == 0 {
			visit(v)
		}
	}
	return comps
}
