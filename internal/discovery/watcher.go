package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Benny93/oca-go/internal/ctxlog"
)

// DefaultDebounce is how long Watch waits for events to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watch monitors dir recursively and calls fn with the sorted paths of the
// ocafiles that changed, once events have been quiet for debounce.
// Deleted files are included. Blocks until the context is cancelled.
func Watch(ctx context.Context, dir string, debounce time.Duration, fn func(changed []string)) error {
	log := ctxlog.FromContext(ctx)
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	matcher, err := loadMatcher(root)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	addTree := func(start string) error {
		return filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if path != root && ignored(matcher, root, path, true) {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		})
	}
	if err := addTree(root); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}
	log.Debug("watching", "dir", root)

	changed := make(map[string]bool)
	batchTimer := time.NewTimer(debounce)
	batchTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !ignored(matcher, root, event.Name, true) {
						if err := addTree(event.Name); err != nil {
							log.Warn("watching new directory", "dir", event.Name, "err", err)
						}
					}
					continue
				}
			}
			if !IsOCAFile(event.Name) || ignored(matcher, root, event.Name, false) {
				continue
			}
			changed[event.Name] = true
			batchTimer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "err", err)

		case <-batchTimer.C:
			if len(changed) == 0 {
				continue
			}
			paths := make([]string, 0, len(changed))
			for p := range changed {
				paths = append(paths, p)
			}
			slices.Sort(paths)
			changed = make(map[string]bool)
			fn(paths)
		}
	}
}
