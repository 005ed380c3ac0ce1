// Package diranalysis builds the per-directory summary (C7) the context
// optimizer needs: file counts, depth, and descendants, computed in one
// filesystem walk per compile invocation.
package diranalysis

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"

	"github.com/apm-dev/apm/internal/apmerr"
)

// Info is the computed summary for a single directory.
type Info struct {
	Path            string
	Depth           int
	ImmediateFiles  int
	RecursiveFiles  int
	Children        []string // sorted absolute child directory paths
	HasDescendants  bool
}

var defaultPruned = []string{".git", "apm_modules", "node_modules"}

// Cache holds one compile invocation's directory analysis, keyed by
// absolute path. A fresh Cache is constructed per compile, so its LRU
// eviction policy only bounds memory on pathological trees; it never serves
// stale data across invocations.
type Cache struct {
	entries *lru.Cache[string, *Info]
	fs      afero.Fs
}

// NewCache constructs an empty Cache backed by an LRU of the given size.
func NewCache(fsys afero.Fs, size int) (*Cache, error) {
	if size <= 0 {
		size = 4096
	}
	l, err := lru.New[string, *Info](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: l, fs: fsys}, nil
}

// Analyze walks root once (up to maxDepth directory levels) and populates
// the cache with an Info per directory, pruning .git/apm_modules/
// node_modules and any directory whose name equals an entry of extraIgnore.
func (c *Cache) Analyze(root string, maxDepth int, extraIgnore []string) (map[string]*Info, error) {
	pruned := append(append([]string{}, defaultPruned...), extraIgnore...)
	children := map[string][]string{}
	fileCounts := map[string]int{}
	depths := map[string]int{}
	var dirs []string

	err := afero.Walk(c.fs, root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			if path != root && isPruned(info.Name(), pruned) {
				return filepath.SkipDir
			}
			rel, _ := filepath.Rel(root, path)
			depth := 0
			if rel != "." {
				depth = len(strings.Split(filepath.ToSlash(rel), "/"))
			}
			if depth > maxDepth {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
			depths[path] = depth
			if path != root {
				parent := filepath.Dir(path)
				children[parent] = append(children[parent], path)
			}
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		parent := filepath.Dir(path)
		fileCounts[parent]++
		return nil
	})
	if err != nil {
		return nil, apmerr.New(err, apmerr.MissingManifest, map[string]any{"root": root})
	}

	result := map[string]*Info{}
	for _, d := range dirs {
		sorted := append([]string{}, children[d]...)
		sort.Strings(sorted)
		result[d] = &Info{
			Path:           d,
			Depth:          depths[d],
			ImmediateFiles: fileCounts[d],
			Children:       sorted,
			HasDescendants: len(sorted) > 0,
		}
	}
	computeRecursive(root, children, fileCounts, result)

	for path, info := range result {
		c.entries.Add(path, info)
	}
	return result, nil
}

func computeRecursive(dir string, children map[string][]string, fileCounts map[string]int, result map[string]*Info) int {
	total := fileCounts[dir]
	for _, child := range children[dir] {
		total += computeRecursive(child, children, fileCounts, result)
	}
	if info, ok := result[dir]; ok {
		info.RecursiveFiles = total
	}
	return total
}

func isPruned(name string, pruned []string) bool {
	for _, p := range pruned {
		if name == p {
			return true
		}
	}
	return false
}

// Get returns the cached Info for path, if present.
func (c *Cache) Get(path string) (*Info, bool) {
	return c.entries.Get(path)
}
