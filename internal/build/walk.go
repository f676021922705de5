package build

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/graph"
)

// DependencyFailedError marks a node that was not processed because one of
// its dependencies failed.
type DependencyFailedError struct {
	Refn       string
	Dependency string

	// Err is the failure of Dependency.
	Err error
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("%s: dependency %s failed: %v", e.Refn, e.Dependency, e.Err)
}

func (e *DependencyFailedError) Unwrap() error { return e.Err }

// Result is the outcome for one node.
type Result struct {
	Artifact *artifact.Built
	Err      error
}

// OK reports whether the node produced an artifact.
func (r Result) OK() bool { return r.Err == nil && r.Artifact != nil }

// Visit processes one node whose dependencies all succeeded. deps maps each
// dependency refn to its artifact.
type Visit func(ctx context.Context, node *graph.Node, deps map[string]*artifact.Built) (*artifact.Built, error)

// Walk runs visit over refns bottom-up with up to workers goroutines. Nodes
// that are cyclic, self-referencing or have unresolved references fail
// without being visited, and every failure propagates to the node's
// dependents. It returns the result of every refn and the completion order.
func Walk(ctx context.Context, g *graph.DependencyGraph, refns []string, workers int, visit Visit) (map[string]Result, []string) {
	w := &walk{
		g:          g,
		visit:      visit,
		results:    make(map[string]Result, len(refns)),
		pending:    make(map[string]int, len(refns)),
		dependents: make(map[string][]string, len(refns)),
	}

	var runnable []string
	for _, refn := range refns {
		if err := blocked(g, refn); err != nil {
			w.results[refn] = Result{Err: err}
			w.order = append(w.order, refn)
			continue
		}
		runnable = append(runnable, refn)
	}

	order, err := g.TopologicalOrder(runnable)
	if err != nil {
		for _, refn := range runnable {
			w.results[refn] = Result{Err: err}
			w.order = append(w.order, refn)
		}
		return w.results, w.order
	}
	if len(order) == 0 {
		return w.results, w.order
	}

	inWalk := make(map[string]bool, len(order))
	for _, refn := range order {
		inWalk[refn] = true
	}
	for _, refn := range order {
		for _, dep := range g.Dependencies(refn) {
			if inWalk[dep] {
				w.pending[refn]++
				w.dependents[dep] = append(w.dependents[dep], refn)
			}
		}
	}

	w.remaining = len(order)
	w.ready = make(chan string, len(order))
	for _, refn := range order {
		if w.pending[refn] == 0 {
			w.ready <- refn
		}
	}

	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for refn := range w.ready {
				w.complete(refn, w.process(ctx, refn))
			}
		})
	}
	wg.Wait()

	return w.results, w.order
}

type walk struct {
	g     *graph.DependencyGraph
	visit Visit

	mu         sync.Mutex
	results    map[string]Result
	order      []string
	pending    map[string]int
	dependents map[string][]string
	remaining  int
	ready      chan string
}

func (w *walk) process(ctx context.Context, refn string) Result {
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}

	node, _ := w.g.Node(refn)
	deps := make(map[string]*artifact.Built)
	w.mu.Lock()
	for _, dep := range w.g.Dependencies(refn) {
		res, ok := w.results[dep]
		switch {
		case !ok:
			w.mu.Unlock()
			return Result{Err: &DependencyFailedError{Refn: refn, Dependency: dep, Err: errors.New("not built")}}
		case res.Err != nil:
			w.mu.Unlock()
			return Result{Err: &DependencyFailedError{Refn: refn, Dependency: dep, Err: rootCause(res.Err)}}
		}
		deps[dep] = res.Artifact
	}
	w.mu.Unlock()

	built, err := w.visit(ctx, node, deps)
	return Result{Artifact: built, Err: err}
}

// complete records res and releases dependents whose last dependency just
// finished. The ready channel is buffered for every node, so sends never
// block while the lock is held.
func (w *walk) complete(refn string, res Result) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results[refn] = res
	w.order = append(w.order, refn)
	for _, d := range w.dependents[refn] {
		w.pending[d]--
		if w.pending[d] == 0 {
			w.ready <- d
		}
	}
	w.remaining--
	if w.remaining == 0 {
		close(w.ready)
	}
}

// blocked returns the structural error that prevents refn from being
// processed.
func blocked(g *graph.DependencyGraph, refn string) error {
	node, ok := g.Node(refn)
	if !ok {
		return &graph.GraphError{Kind: graph.KindUnresolvedRefn, Refn: refn, Target: refn}
	}
	if g.InCycle(refn) {
		for _, err := range g.ErrorsFor(node.Path) {
			if errors.Is(err, graph.ErrCycle) {
				return err
			}
		}
		return &graph.GraphError{Kind: graph.KindCycle, Refn: refn, Paths: []string{node.Path}}
	}
	for _, err := range g.ErrorsFor(node.Path) {
		if errors.Is(err, graph.ErrSelfReference) || errors.Is(err, graph.ErrUnresolvedRefn) {
			return err
		}
	}
	return nil
}

// rootCause unwraps chained dependency failures to the original error.
func rootCause(err error) error {
	var dep *DependencyFailedError
	for errors.As(err, &dep) {
		err = dep.Err
	}
	return err
}
