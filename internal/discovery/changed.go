package discovery

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/go-git/go-git/v5"
)

// Changed returns the absolute paths of ocafiles under dir that are modified,
// added, renamed or untracked in the enclosing git working tree. Deleted files
// are left out.
func Changed(dir string) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening git repository at %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading worktree status: %w", err)
	}

	top := wt.Filesystem.Root()
	var paths []string
	for name, st := range status {
		if st.Staging == git.Deleted || st.Worktree == git.Deleted {
			continue
		}
		if st.Staging == git.Unmodified && st.Worktree == git.Unmodified {
			continue
		}
		if !IsOCAFile(name) {
			continue
		}
		abs := filepath.Join(top, filepath.FromSlash(name))
		if rel, err := filepath.Rel(root, abs); err != nil || !filepath.IsLocal(rel) {
			continue
		}
		paths = append(paths, abs)
	}
	slices.Sort(paths)
	return paths, nil
}
