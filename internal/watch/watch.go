// Package watch implements the fsnotify+debounce plumbing behind
// `apm compile --watch` (spec §4.11/EXPANSION): it watches the project tree
// and coalesces bursts of filesystem events before invoking the caller's
// recompile callback.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	debounce "github.com/romdo/go-debounce"
)

var ignoredDirs = map[string]bool{
	".git":        true,
	"apm_modules": true,
	"node_modules": true,
}

// Watcher wraps an fsnotify.Watcher recursively registered over a project
// tree, debouncing bursts of events.
type Watcher struct {
	fsw    *fsnotify.Watcher
	root   string
	wait   time.Duration
}

// New builds a Watcher rooted at root, registering every non-ignored
// directory recursively.
func New(root string, debounceWait time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{fsw: fsw, root: root, wait: debounceWait}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && ignoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Run blocks, invoking onChange (debounced) each time a filesystem event
// fires, until ctx is canceled or the underlying watcher errors.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	debounced, cancel := debounce.NewMutable(w.wait)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 && !ignoredDirs[filepath.Base(event.Name)] {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}
			debounced(onChange)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// Close releases the underlying OS watch handles.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
