package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/build"
	"github.com/Benny93/oca-go/internal/discovery"
	"github.com/Benny93/oca-go/internal/graph"
	"github.com/Benny93/oca-go/internal/incremental"
	"github.com/Benny93/oca-go/internal/storage"
	"github.com/Benny93/oca-go/internal/validate"
)

// selection narrows the nodes of a graph to build.
type selection struct {
	// explicit holds the paths named on the command line.
	explicit map[string]bool

	// refs are refns named on the command line.
	refs []string

	// changed restricts the build to these paths and their dependents.
	changed map[string]bool

	incremental bool
}

// standalone is a built file that declares no refn.
type standalone struct {
	Path   string
	Result build.Result
}

// buildResult is the outcome of one build run.
type buildResult struct {
	graph      *graph.DependencyGraph
	report     *build.Report
	targets    []string
	standalone []standalone

	// rejected are graph errors of files that never became nodes.
	rejected []error

	// skipped are discovered files without a refn that were not built.
	skipped []graph.Skipped
}

// Failed counts failed targets, failed standalone files and rejected files.
func (r *buildResult) Failed() int {
	n := len(r.rejected)
	for _, res := range r.report.Targets {
		if res.Err != nil {
			n++
		}
	}
	for _, s := range r.standalone {
		if !s.Result.OK() {
			n++
		}
	}
	return n
}

// artifacts returns everything built successfully, dependencies first.
func (r *buildResult) artifacts() []*artifact.Built {
	out := r.report.Built()
	for _, s := range r.standalone {
		if s.Result.OK() {
			out = append(out, s.Result.Artifact)
		}
	}
	return out
}

// targets picks the refns and refn-less files to build.
func (s selection) targets(g *graph.DependencyGraph, plan *incremental.Plan) (refns []string, files []string) {
	switch {
	case len(s.refs) > 0:
		refns = slices.Clone(s.refs)
	case len(s.explicit) > 0:
		refns = refnsOf(g, s.explicit)
	default:
		for _, n := range g.Nodes() {
			refns = append(refns, n.Refn)
		}
	}
	if len(s.refs) == 0 {
		// Files without a refn are built only when named.
		for _, sk := range g.Skipped() {
			if s.explicit[sk.Path] {
				files = append(files, sk.Path)
			}
		}
	}

	keep := func(allowed map[string]bool, allowedFiles map[string]bool) {
		refns = slices.DeleteFunc(refns, func(r string) bool { return !allowed[r] })
		files = slices.DeleteFunc(files, func(p string) bool { return !allowedFiles[p] })
	}
	if s.changed != nil {
		allowed := make(map[string]bool)
		for _, r := range refnsOf(g, s.changed) {
			allowed[r] = true
			for _, a := range g.Ancestors(r) {
				allowed[a] = true
			}
		}
		keep(allowed, s.changed)
	}
	if s.incremental {
		allowed := make(map[string]bool, len(plan.Targets))
		for _, r := range plan.Targets {
			allowed[r] = true
		}
		allowedFiles := make(map[string]bool, len(plan.Standalone))
		for _, p := range plan.Standalone {
			allowedFiles[p] = true
		}
		keep(allowed, allowedFiles)
	}
	slices.Sort(refns)
	return refns, files
}

// runBuild builds files, stores every successful artifact and records the
// content hashes of the files that built.
func (a *App) runBuild(ctx context.Context, store storage.Backend, engine *build.Engine, files []graph.SourceFile, sel selection) (*buildResult, error) {
	g, _ := graph.Resolve(files)

	stored := map[string]string{}
	if sel.incremental {
		var err error
		if stored, err = store.FileHashes(ctx); err != nil {
			return nil, fmt.Errorf("reading file hashes: %w", err)
		}
	}
	plan := incremental.Compute(g, files, stored)
	targets, loose := sel.targets(g, plan)

	res := &buildResult{graph: g, targets: targets}
	for _, err := range g.Errors() {
		var gerr *graph.GraphError
		if errors.As(err, &gerr) && (gerr.Kind == graph.KindDuplicateRefn || gerr.Kind == graph.KindInvalidRefn) {
			res.rejected = append(res.rejected, err)
		}
	}

	res.report = engine.Build(ctx, g, targets)
	byPath := make(map[string]graph.SourceFile, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}
	for _, sk := range g.Skipped() {
		if !slices.Contains(loose, sk.Path) && !sel.explicit[sk.Path] {
			res.skipped = append(res.skipped, sk)
		}
	}
	for _, path := range loose {
		r, _ := engine.BuildFile(ctx, g, byPath[path])
		res.standalone = append(res.standalone, standalone{Path: path, Result: r})
	}

	if err := store.Put(ctx, res.artifacts()); err != nil {
		return nil, fmt.Errorf("storing artifacts: %w", err)
	}

	succeeded := make(map[string]bool)
	for refn := range res.report.Artifacts {
		if n, ok := g.Node(refn); ok {
			succeeded[n.Path] = true
		}
	}
	for _, s := range res.standalone {
		if s.Result.OK() {
			succeeded[s.Path] = true
		}
	}
	if err := store.SetFileHashes(ctx, plan.Record(succeeded)); err != nil {
		return nil, fmt.Errorf("recording file hashes: %w", err)
	}
	return res, nil
}

// engine returns a build engine configured from the app.
func (a *App) engine(ctx context.Context, store storage.Backend, cache *build.Cache) *build.Engine {
	return &build.Engine{
		Cache:    cache,
		Resolver: storage.Resolver(ctx, store),
		Workers:  a.Config.Workers,
		Logger:   a.Logger,
	}
}

// printBuildFailures reports only what failed in a build run and returns the
// number of failures.
func (a *App) printBuildFailures(res *buildResult) int {
	for _, err := range res.rejected {
		a.failure("✗ %v", err)
	}
	for _, refn := range res.targets {
		if r := res.report.Targets[refn]; !r.OK() {
			a.failure("✗ %-24s build failed: %v", refn, r.Err)
		}
	}
	for _, s := range res.standalone {
		if !s.Result.OK() {
			a.failure("✗ %-24s build failed: %v", s.Path, s.Result.Err)
		}
	}
	return res.Failed()
}

// printBuild reports a build run and returns an error when anything failed.
func (a *App) printBuild(res *buildResult, elapsed time.Duration) error {
	for _, err := range res.rejected {
		a.failure("✗ %v", err)
	}
	for _, refn := range res.targets {
		r := res.report.Targets[refn]
		if r.OK() {
			a.success("✓ %-24s %s", refn, r.Artifact.Digest)
		} else {
			a.failure("✗ %-24s %v", refn, r.Err)
		}
	}
	for _, s := range res.standalone {
		if s.Result.OK() {
			a.success("✓ %-24s %s", s.Path, s.Result.Artifact.Digest)
		} else {
			a.failure("✗ %-24s %v", s.Path, s.Result.Err)
		}
	}

	for _, sk := range res.skipped {
		a.warn("- %s skipped: %s", sk.Path, sk.Reason)
	}

	total := len(res.targets) + len(res.standalone) + len(res.rejected)
	if total == 0 {
		a.warn("Nothing to build")
		return nil
	}
	stats := res.report.Cache
	a.printf("\n  Built:    %d of %d\n", total-res.Failed(), total)
	a.printf("  Cache:    %d hits, %d misses\n", stats.Hits, stats.Misses)
	a.printf("  Duration: %.2fs\n", elapsed.Seconds())
	if n := res.Failed(); n > 0 {
		return fmt.Errorf("%d of %d builds failed", n, total)
	}
	return nil
}

// BuildCmd compiles ocafiles into the local repository.
type BuildCmd struct {
	Sources

	Refs        []string `name:"ref" help:"Refn to build with its dependencies (repeatable)"`
	Incremental bool     `short:"i" help:"Rebuild only files whose content changed since the last build, and their dependents"`
	Changed     bool     `help:"Rebuild only ocafiles changed in the git working tree, and their dependents"`
}

// Run executes the build command.
func (c *BuildCmd) Run(ctx context.Context, app *App) error {
	ctx = app.context(ctx)
	start := time.Now()

	files, explicit, err := c.load(app)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		app.warn("No ocafiles found")
		return nil
	}

	sel := selection{explicit: explicit, refs: c.Refs, incremental: c.Incremental}
	if c.Changed {
		root := c.dir(app)
		if root == "" {
			root = app.Dir
		}
		paths, err := discovery.Changed(root)
		if err != nil {
			return err
		}
		sel.changed = make(map[string]bool, len(paths))
		for _, p := range paths {
			sel.changed[p] = true
		}
	}

	store, err := app.store()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	res, err := app.runBuild(ctx, store, app.engine(ctx, store, build.NewCache()), files, sel)
	if err != nil {
		return err
	}
	return app.printBuild(res, time.Since(start))
}

// ValidateCmd checks ocafiles without storing anything.
type ValidateCmd struct {
	Sources

	JSON bool `help:"Print reports as JSON"`
}

// Run executes the validate command.
func (c *ValidateCmd) Run(ctx context.Context, app *App) error {
	ctx = app.context(ctx)
	files, explicit, err := c.load(app)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		app.warn("No ocafiles found")
		return nil
	}

	engine := &validate.Engine{Workers: app.Config.Workers, Logger: app.Logger}
	// refs: digests are checked against the local repository when there is one.
	if store, err := app.readStore(); err == nil {
		defer func() { _ = store.Close() }()
		engine.Resolver = storage.Resolver(ctx, store)
	}
	reports := engine.Validate(ctx, files, len(explicit) > 0)

	failed := 0
	for _, r := range reports {
		if !r.OK() {
			failed++
		}
	}
	if c.JSON {
		if err := app.writeJSON(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			name := r.Path
			if r.Refn != "" {
				name = fmt.Sprintf("%s (%s)", r.Path, r.Refn)
			}
			if r.OK() {
				app.success("✓ %s", name)
			} else {
				app.failure("✗ %s", name)
			}
			for _, issue := range r.Issues {
				app.printf("    %s\n", issue)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files are invalid", failed, len(reports))
	}
	return nil
}

// WatchCmd rebuilds ocafiles whenever they change.
type WatchCmd struct {
	Dir      string        `short:"d" help:"Directory to watch (default: working directory)"`
	Debounce time.Duration `default:"500ms" help:"Quiet period before rebuilding"`
}

// Run executes the watch command. Blocks until interrupted.
func (c *WatchCmd) Run(ctx context.Context, app *App) error {
	ctx = app.context(ctx)
	dir := app.Dir
	if c.Dir != "" {
		dir = app.abs(c.Dir)
	}

	store, err := app.store()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// One cache serves every rebuild.
	engine := app.engine(ctx, store, build.NewCache())
	rebuild := func() {
		start := time.Now()
		files, err := discovery.Walk(dir, true)
		if err != nil {
			app.failure("✗ %v", err)
			return
		}
		res, err := app.runBuild(ctx, store, engine, files, selection{incremental: true})
		if err != nil {
			app.failure("✗ %v", err)
			return
		}
		if err := app.printBuild(res, time.Since(start)); err != nil {
			app.failure("%v", err)
		}
	}

	rebuild()
	app.heading("Watching %s for changes (Ctrl+C to stop)", dir)
	err = discovery.Watch(ctx, dir, c.Debounce, func(changed []string) {
		app.heading("\n%d file(s) changed", len(changed))
		rebuild()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
