// Package incremental decides which refns need rebuilding from the content
// hashes recorded by the previous build.
package incremental

import (
	"encoding/hex"
	"maps"
	"slices"

	"github.com/zeebo/blake3"

	"github.com/Benny93/oca-go/internal/graph"
)

// Hash returns the hex BLAKE3 hash of a file's content.
func Hash(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Plan is the outcome of comparing the current files with stored hashes.
type Plan struct {
	// Targets are the refns to build, sorted.
	Targets []string

	// Changed are the paths whose content differs from the stored hash.
	Changed []string

	// Standalone are changed paths that declare no refn.
	Standalone []string

	// Hashes holds the current hash of every file.
	Hashes map[string]string
}

// Compute plans an incremental build. A refn is a target when its file
// changed, when it transitively depends on a changed refn, or when it has
// unresolved references that may have been satisfied by a removed file.
func Compute(g *graph.DependencyGraph, files []graph.SourceFile, stored map[string]string) *Plan {
	p := &Plan{Hashes: make(map[string]string, len(files))}
	changed := make(map[string]bool)
	for _, f := range files {
		h := Hash(f.Text)
		p.Hashes[f.Path] = h
		if stored[f.Path] != h {
			changed[f.Path] = true
		}
	}
	p.Changed = slices.Sorted(maps.Keys(changed))

	targets := make(map[string]bool)
	for _, n := range g.Nodes() {
		if !changed[n.Path] && len(g.Unresolved(n.Refn)) == 0 {
			continue
		}
		targets[n.Refn] = true
		for _, a := range g.Ancestors(n.Refn) {
			targets[a] = true
		}
	}
	p.Targets = slices.Sorted(maps.Keys(targets))

	for _, s := range g.Skipped() {
		if changed[s.Path] {
			p.Standalone = append(p.Standalone, s.Path)
		}
	}
	return p
}

// Record returns the hashes to store after a build: those of the paths that
// built successfully. Other paths keep their stored hash so the next run
// retries them.
func (p *Plan) Record(succeeded map[string]bool) map[string]string {
	out := make(map[string]string, len(succeeded))
	for path := range succeeded {
		if h, ok := p.Hashes[path]; ok {
			out[path] = h
		}
	}
	return out
}
