// Package validate checks a batch of ocafiles and reports every problem per
// file without stopping at the first one.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/build"
	"github.com/Benny93/oca-go/internal/compiler"
	"github.com/Benny93/oca-go/internal/ctxlog"
	"github.com/Benny93/oca-go/internal/graph"
	"github.com/Benny93/oca-go/internal/ocafile"
	"github.com/Benny93/oca-go/internal/said"
)

// Severity grades an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one finding. Line and Column are zero when unknown.
type Issue struct {
	Severity Severity `json:"severity"`
	Msg      string   `json:"message"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
}

func (i Issue) String() string {
	switch {
	case i.Line > 0 && i.Column > 0:
		return fmt.Sprintf("%d:%d: %s: %s", i.Line, i.Column, i.Severity, i.Msg)
	case i.Line > 0:
		return fmt.Sprintf("%d: %s: %s", i.Line, i.Severity, i.Msg)
	default:
		return fmt.Sprintf("%s: %s", i.Severity, i.Msg)
	}
}

// Report holds the findings for one file.
type Report struct {
	Path   string    `json:"path"`
	Refn   string    `json:"refn,omitempty"`
	Digest said.SAID `json:"digest,omitempty"`
	Issues []Issue   `json:"issues"`
}

// OK reports whether the file has no error issues.
func (r Report) OK() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Engine validates file batches.
type Engine struct {
	// Compile checks one document; compiler.Compile when nil.
	Compile compiler.Func

	// Resolver supplies artifacts referenced by digest.
	Resolver artifact.Resolver

	Workers int
	Logger  *slog.Logger
}

// Validate returns one report per file, in input order. explicit marks files
// the user named directly: their missing refns are warnings and they are
// validated standalone. Otherwise files without a refn are only noted.
func (e *Engine) Validate(ctx context.Context, files []graph.SourceFile, explicit bool) []Report {
	logger := e.Logger
	if logger == nil {
		logger = ctxlog.FromContext(ctx)
	}

	g, _ := graph.Resolve(files)
	reports := make([]Report, len(files))
	byPath := make(map[string]*Report, len(files))
	for i, f := range files {
		reports[i] = Report{Path: f.Path, Issues: []Issue{}}
		if ext, err := ocafile.Extract(f.Text); err == nil {
			reports[i].Refn = ext.Refn
		}
		byPath[f.Path] = &reports[i]
		for _, err := range g.ErrorsFor(f.Path) {
			reports[i].Issues = append(reports[i].Issues, structural(err))
		}
	}

	nodes := make([]string, 0, g.Len())
	for _, n := range g.Nodes() {
		nodes = append(nodes, n.Refn)
	}

	reg := &index{byDigest: make(map[said.SAID]*artifact.Built), fallback: e.Resolver}
	workers := e.Workers
	if workers < 1 {
		workers = build.DefaultWorkers
	}
	results, _ := build.Walk(ctx, g, nodes, workers, func(ctx context.Context, node *graph.Node, deps map[string]*artifact.Built) (*artifact.Built, error) {
		built, err := e.check(node.Text, deps, reg)
		if err == nil {
			reg.add(built)
		}
		return built, err
	})

	for refn, res := range results {
		node, _ := g.Node(refn)
		rep := byPath[node.Path]
		if res.Err == nil {
			rep.Digest = res.Artifact.Digest
			continue
		}
		var gerr *graph.GraphError
		if errors.As(res.Err, &gerr) && !isDependencyFailure(res.Err) {
			// Already reported from the graph.
			continue
		}
		rep.Issues = append(rep.Issues, toIssues(res.Err)...)
	}

	// Files without a refn are outside the graph. Discovered ones are only
	// noted; named ones are checked on their own against what they reference.
	for _, s := range g.Skipped() {
		rep := byPath[s.Path]
		if !explicit {
			rep.Issues = append(rep.Issues, Issue{Severity: SeverityInfo, Msg: s.Reason + "; skipped"})
			continue
		}
		rep.Issues = append(rep.Issues, Issue{Severity: SeverityWarning, Msg: s.Reason + "; validated standalone"})
		be := &build.Engine{Compile: e.Compile, Resolver: reg, Workers: workers, Logger: logger}
		res, _ := be.BuildFile(ctx, g, graph.SourceFile{Path: s.Path, Text: fileText(files, s.Path)})
		if res.Err != nil {
			rep.Issues = append(rep.Issues, toIssues(res.Err)...)
			continue
		}
		rep.Digest = res.Artifact.Digest
	}

	failed := 0
	for _, r := range reports {
		if !r.OK() {
			failed++
		}
	}
	logger.Info("Validation finished.", "files", len(files), "failed", failed)
	return reports
}

func (e *Engine) check(text string, deps map[string]*artifact.Built, res artifact.Resolver) (*artifact.Built, error) {
	doc, err := ocafile.Parse(text)
	if err != nil {
		return nil, err
	}
	compile := e.Compile
	if compile == nil {
		compile = compiler.Compile
	}
	return compile(compiler.Input{Doc: doc, Deps: deps, Resolver: res})
}

func fileText(files []graph.SourceFile, path string) string {
	for _, f := range files {
		if f.Path == path {
			return f.Text
		}
	}
	return ""
}

func structural(err error) Issue {
	issue := Issue{Severity: SeverityError, Msg: err.Error()}
	if errors.Is(err, graph.ErrInvalidRefn) {
		issue.Line = 1
	}
	return issue
}

func isDependencyFailure(err error) bool {
	var dep *build.DependencyFailedError
	return errors.As(err, &dep)
}

// toIssues flattens err into error issues, keeping positions where the error
// carries them.
func toIssues(err error) []Issue {
	var dep *build.DependencyFailedError
	if errors.As(err, &dep) {
		return []Issue{{Severity: SeverityError, Msg: fmt.Sprintf("dependency %s failed: %v", dep.Dependency, dep.Err)}}
	}

	var perrs ocafile.ParseErrors
	if errors.As(err, &perrs) {
		out := make([]Issue, len(perrs))
		for i, pe := range perrs {
			out[i] = Issue{Severity: SeverityError, Msg: pe.Msg, Line: pe.Line, Column: pe.Column}
		}
		return out
	}

	switch e := err.(type) {
	case *artifact.SchemaError:
		return []Issue{{Severity: SeverityError, Msg: e.Msg, Line: e.Line}}
	case *graph.GraphError:
	case interface{ Unwrap() []error }:
		var out []Issue
		for _, inner := range e.Unwrap() {
			out = append(out, toIssues(inner)...)
		}
		return out
	case interface{ Unwrap() error }:
		if inner := e.Unwrap(); inner != nil {
			return toIssues(inner)
		}
	}
	return []Issue{{Severity: SeverityError, Msg: err.Error()}}
}

type index struct {
	mu       sync.RWMutex
	byDigest map[said.SAID]*artifact.Built
	fallback artifact.Resolver
}

func (ix *index) add(b *artifact.Built) {
	ix.mu.Lock()
	ix.byDigest[b.Digest] = b
	ix.mu.Unlock()
}

func (ix *index) Artifact(d said.SAID) (*artifact.Built, bool) {
	ix.mu.RLock()
	b, ok := ix.byDigest[d]
	ix.mu.RUnlock()
	if ok {
		return b, true
	}
	if ix.fallback != nil {
		return ix.fallback.Artifact(d)
	}
	return nil, false
}
