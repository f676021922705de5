package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func paths(t *testing.T, dir string, recursive bool) []string {
	t.Helper()
	files, err := Walk(dir, recursive)
	require.NoError(t, err)
	var out []string
	for _, f := range files {
		rel, err := filepath.Rel(dir, f.Path)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

func TestWalk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"b.ocafile":              "-- name=b\n",
		"a.ocafile":              "-- name=a\n",
		"README.md":              "# schemas",
		"nested/c.ocafile":       "-- name=c\n",
		"nested/deep/d.OCAFILE":  "-- name=d\n",
		"drafts/e.ocafile":       "-- name=e\n",
		".oca/cache/f.ocafile":   "-- name=f\n",
		".gitignore":             "drafts/\n",
	})

	t.Run("Recursive", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"a.ocafile", "b.ocafile", "nested/c.ocafile", "nested/deep/d.OCAFILE"}, paths(t, dir, true))
	})

	t.Run("TopLevel", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"a.ocafile", "b.ocafile"}, paths(t, dir, false))
	})

	t.Run("Content", func(t *testing.T) {
		t.Parallel()
		files, err := Walk(dir, false)
		require.NoError(t, err)
		require.NotEmpty(t, files)
		assert.Equal(t, "-- name=a\n", files[0].Text)
		assert.True(t, filepath.IsAbs(files[0].Path))
	})

	t.Run("MissingDir", func(t *testing.T) {
		t.Parallel()
		_, err := Walk(filepath.Join(dir, "nope"), true)
		assert.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"x.ocafile": "-- name=x\n"})

	files, err := Load([]string{filepath.Join(dir, "x.ocafile")})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "-- name=x\n", files[0].Text)

	_, err = Load([]string{filepath.Join(dir, "missing.ocafile")})
	assert.ErrorContains(t, err, "missing.ocafile")
}

func TestChanged(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	writeFiles(t, dir, map[string]string{
		"committed.ocafile": "-- name=committed\n",
		"edited.ocafile":    "-- name=edited\n",
		"notes.txt":         "notes",
	})
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	writeFiles(t, dir, map[string]string{
		"edited.ocafile":  "-- name=edited\nADD ATTRIBUTE x=Text\n",
		"new/new.ocafile": "-- name=new\n",
		"notes.txt":       "more notes",
	})

	got, err := Changed(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "edited.ocafile"), filepath.Join(dir, "new", "new.ocafile")}, got)

	_, err = Changed(t.TempDir())
	assert.Error(t, err, "not a git repository")
}

func TestWatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.ocafile": "-- name=a\n"})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	batches := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, 50*time.Millisecond, func(changed []string) { batches <- changed })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFiles(t, dir, map[string]string{
		"a.ocafile":  "-- name=a\nADD ATTRIBUTE y=Text\n",
		"ignored.md": "not an ocafile",
	})

	select {
	case got := <-batches:
		assert.Equal(t, []string{filepath.Join(dir, "a.ocafile")}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
