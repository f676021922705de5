// Package discovery finds ocafiles on disk.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/oca-go/internal/graph"
	"github.com/Benny93/oca-go/internal/ocafile"
)

// Default patterns to ignore (in addition to .gitignore).
var defaultIgnorePatterns = []string{
	".git/",
	".oca/",
	"node_modules/",
	".DS_Store",
}

// IsOCAFile reports whether name has the ocafile extension.
func IsOCAFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ocafile.Extension)
}

// Load reads the given files. Paths are made absolute.
func Load(paths []string) ([]graph.SourceFile, error) {
	files := make([]graph.SourceFile, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		content, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		files = append(files, graph.SourceFile{Path: abs, Text: string(content)})
	}
	return files, nil
}

// Walk returns the ocafiles under dir sorted by path. Without recursive only
// the files directly in dir are returned. .gitignore rules at dir are
// honored.
func Walk(dir string, recursive bool) ([]graph.SourceFile, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	matcher, err := loadMatcher(root)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !recursive || ignored(matcher, root, path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if IsOCAFile(d.Name()) && !ignored(matcher, root, path, false) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	slices.Sort(paths)
	return Load(paths)
}

// loadMatcher combines the default patterns with the .gitignore at root.
func loadMatcher(root string) (gitignore.Matcher, error) {
	patterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns))
	for _, p := range defaultIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}

	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if errors.Is(err, fs.ErrNotExist) {
		return gitignore.NewMatcher(patterns), nil
	}
	if err != nil {
		return nil, err
	}
	for line := range strings.SplitSeq(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return gitignore.NewMatcher(patterns), nil
}

func ignored(matcher gitignore.Matcher, root, path string, isDir bool) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return matcher.Match(splitPath(rel), isDir)
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(path, string(filepath.Separator))
}
