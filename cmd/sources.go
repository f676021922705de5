package cmd

import (
	"path/filepath"
	"slices"

	"github.com/Benny93/oca-go/internal/discovery"
	"github.com/Benny93/oca-go/internal/graph"
)

// Sources selects the ocafiles a command works on.
type Sources struct {
	Files     []string `short:"f" name:"file" help:"Ocafile to process (repeatable)"`
	Dir       string   `short:"d" help:"Directory to scan for ocafiles (default: working directory unless --file is given)"`
	Recursive bool     `short:"r" help:"Scan subdirectories"`
}

// abs resolves path against the working directory.
func (a *App) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(a.Dir, path)
}

// dir returns the directory to scan, or "" when only files were named.
func (s *Sources) dir(app *App) string {
	switch {
	case s.Dir != "":
		return app.abs(s.Dir)
	case len(s.Files) == 0:
		return app.Dir
	default:
		return ""
	}
}

// load reads the selected files. Named files come first; scanned files are
// added unless already named. explicit holds the named paths.
func (s *Sources) load(app *App) (files []graph.SourceFile, explicit map[string]bool, err error) {
	explicit = make(map[string]bool, len(s.Files))
	paths := make([]string, len(s.Files))
	for i, f := range s.Files {
		paths[i] = app.abs(f)
		explicit[paths[i]] = true
	}
	if files, err = discovery.Load(paths); err != nil {
		return nil, nil, err
	}

	if dir := s.dir(app); dir != "" {
		scanned, err := discovery.Walk(dir, s.Recursive)
		if err != nil {
			return nil, nil, err
		}
		for _, f := range scanned {
			if !explicit[f.Path] {
				files = append(files, f)
			}
		}
	}
	return files, explicit, nil
}

// refnsOf returns the refns of the nodes declared by paths, sorted.
func refnsOf(g *graph.DependencyGraph, paths map[string]bool) []string {
	var out []string
	for _, n := range g.Nodes() {
		if paths[n.Path] {
			out = append(out, n.Refn)
		}
	}
	slices.Sort(out)
	return out
}
