// Package build compiles resolved ocafiles bottom-up, at most once per unique
// content within a run.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/compiler"
	"github.com/Benny93/oca-go/internal/ctxlog"
	"github.com/Benny93/oca-go/internal/graph"
	"github.com/Benny93/oca-go/internal/ocafile"
	"github.com/Benny93/oca-go/internal/said"
)

// DefaultWorkers is used when Engine.Workers is not set.
const DefaultWorkers = 4

// Engine builds dependency graphs. The zero value is usable: it compiles with
// compiler.Compile, uses a fresh cache per Build call and logs through the
// context logger.
type Engine struct {
	// Cache is shared by every Build call on this engine when set.
	Cache *Cache

	// Compile turns a parsed document into an artifact.
	Compile compiler.Func

	// Resolver supplies artifacts referenced by digest (refs:) that were not
	// built in this run, typically the local object store.
	Resolver artifact.Resolver

	Workers int
	Logger  *slog.Logger
}

// Report is the outcome of one Build call.
type Report struct {
	// Targets holds the result of every requested target.
	Targets map[string]Result

	// Artifacts holds every artifact built in the closure, by refn.
	Artifacts map[string]*artifact.Built

	// Failures holds every failed node in the closure, by refn.
	Failures map[string]error

	// Order is the completion order.
	Order []string

	// Cache counts the lookups of this run. Entries is the cache size after
	// it.
	Cache Stats
}

// Failed reports whether any target failed.
func (r *Report) Failed() bool {
	for _, res := range r.Targets {
		if res.Err != nil {
			return true
		}
	}
	return false
}

// Digests maps every built refn to its digest.
func (r *Report) Digests() map[string]said.SAID {
	out := make(map[string]said.SAID, len(r.Artifacts))
	for refn, a := range r.Artifacts {
		out[refn] = a.Digest
	}
	return out
}

// Artifact implements artifact.Resolver over the built artifacts.
func (r *Report) Artifact(d said.SAID) (*artifact.Built, bool) {
	for _, a := range r.Artifacts {
		if a.Digest == d {
			return a, true
		}
	}
	return nil, false
}

// Built returns the built artifacts in completion order.
func (r *Report) Built() []*artifact.Built {
	out := make([]*artifact.Built, 0, len(r.Artifacts))
	for _, refn := range r.Order {
		if a, ok := r.Artifacts[refn]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Build compiles targets and their transitive dependencies. Independent
// subgraphs compile concurrently. Failures never stop unrelated nodes.
func (e *Engine) Build(ctx context.Context, g *graph.DependencyGraph, targets []string) *Report {
	logger := e.logger(ctx)
	cache := e.cache()

	closure, missing := g.Closure(targets)
	rep := &Report{
		Targets:   make(map[string]Result, len(targets)),
		Artifacts: make(map[string]*artifact.Built),
		Failures:  make(map[string]error),
	}
	for _, t := range missing {
		err := &graph.GraphError{Kind: graph.KindUnresolvedRefn, Refn: t, Target: t, Detail: "no file declares it"}
		rep.Targets[t] = Result{Err: err}
		logger.Warn("Unknown build target.", "refn", t)
	}

	reg := &registry{fallback: e.Resolver, byDigest: make(map[said.SAID]*artifact.Built)}
	logger.Debug("Building closure.", "targets", len(targets), "nodes", len(closure))

	var hits, misses atomic.Int64

	results, order := Walk(ctx, g, closure, e.workers(), func(ctx context.Context, node *graph.Node, deps map[string]*artifact.Built) (*artifact.Built, error) {
		built, hit, err := e.compileNode(cache, reg, node, deps)
		if hit {
			hits.Add(1)
		} else {
			misses.Add(1)
		}
		if err != nil {
			return nil, err
		}
		reg.add(built)
		logger.Debug("Built node.", "refn", node.Refn, "digest", built.Digest, "cached", hit)
		return built, nil
	})

	rep.Order = order
	for refn, res := range results {
		if res.Err != nil {
			rep.Failures[refn] = res.Err
			logger.Debug("Node failed.", "refn", refn, "error", res.Err)
			continue
		}
		rep.Artifacts[refn] = res.Artifact
	}
	for _, t := range targets {
		if res, ok := results[t]; ok {
			rep.Targets[t] = res
		}
	}
	rep.Cache = Stats{Entries: cache.Len(), Hits: hits.Load(), Misses: misses.Load()}
	logger.Info("Build finished.", "built", len(rep.Artifacts), "failed", len(rep.Failures))
	return rep
}

// BuildFile compiles a file that is not part of the graph, typically one
// without a refn, against the graph nodes it references. The report covers
// the referenced nodes.
func (e *Engine) BuildFile(ctx context.Context, g *graph.DependencyGraph, file graph.SourceFile) (Result, *Report) {
	doc, err := ocafile.Parse(file.Text)
	if err != nil {
		return Result{Err: withPath(err, file.Path)}, nil
	}

	rep := e.Build(ctx, g, doc.Refs)
	deps := make(map[string]*artifact.Built, len(doc.Refs))
	for _, ref := range doc.Refs {
		res := rep.Targets[ref]
		if res.Err != nil {
			return Result{Err: &DependencyFailedError{Refn: file.Path, Dependency: ref, Err: rootCause(res.Err)}}, rep
		}
		deps[ref] = res.Artifact
	}
	if err := ctx.Err(); err != nil {
		return Result{Err: err}, rep
	}

	reg := &registry{fallback: e.Resolver, byDigest: make(map[said.SAID]*artifact.Built)}
	for _, a := range rep.Artifacts {
		reg.add(a)
	}
	built, err := e.compile()(compiler.Input{Doc: doc, Deps: deps, Resolver: reg})
	if err != nil {
		return Result{Err: fmt.Errorf("%s: %w", file.Path, err)}, rep
	}
	return Result{Artifact: built}, rep
}

func (e *Engine) compileNode(cache *Cache, reg *registry, node *graph.Node, deps map[string]*artifact.Built) (*artifact.Built, bool, error) {
	digests := make([]said.SAID, 0, len(deps))
	for _, refn := range slices.Sorted(maps.Keys(deps)) {
		digests = append(digests, deps[refn].Digest)
	}
	return cache.GetOrBuild(NewKey(node.Refn, node.Text, digests), func() (*artifact.Built, error) {
		doc, err := ocafile.Parse(node.Text)
		if err != nil {
			return nil, withPath(err, node.Path)
		}
		built, err := e.compile()(compiler.Input{Doc: doc, Deps: deps, Resolver: reg})
		if err != nil {
			return nil, err
		}
		if built.Refn == "" {
			built.Refn = node.Refn
		}
		return built, nil
	})
}

func (e *Engine) compile() compiler.Func {
	if e.Compile != nil {
		return e.Compile
	}
	return compiler.Compile
}

func (e *Engine) cache() *Cache {
	if e.Cache != nil {
		return e.Cache
	}
	return NewCache()
}

func (e *Engine) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return DefaultWorkers
}

func (e *Engine) logger(ctx context.Context) *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return ctxlog.FromContext(ctx)
}

// withPath attaches path to parse errors.
func withPath(err error, path string) error {
	var perrs ocafile.ParseErrors
	if errors.As(err, &perrs) {
		return perrs.WithPath(path)
	}
	return fmt.Errorf("%s: %w", path, err)
}

// registry resolves digests against the artifacts built so far in a run,
// falling back to an external resolver.
type registry struct {
	mu       sync.RWMutex
	byDigest map[said.SAID]*artifact.Built
	fallback artifact.Resolver
}

func (r *registry) add(b *artifact.Built) {
	r.mu.Lock()
	r.byDigest[b.Digest] = b
	r.mu.Unlock()
}

func (r *registry) Artifact(d said.SAID) (*artifact.Built, bool) {
	r.mu.RLock()
	b, ok := r.byDigest[d]
	r.mu.RUnlock()
	if ok {
		return b, true
	}
	if r.fallback != nil {
		return r.fallback.Artifact(d)
	}
	return nil, false
}
