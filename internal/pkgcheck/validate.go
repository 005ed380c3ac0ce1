// Package pkgcheck validates that a directory has the shape of a valid APM
// package (C3): a parseable manifest plus a non-empty primitive tree.
package pkgcheck

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/apm-dev/apm/internal/apmerr"
	"github.com/apm-dev/apm/internal/manifest"
)

// Result is the outcome of validating a candidate package directory.
type Result struct {
	Manifest *manifest.Manifest
	Warnings []*apmerr.Error
}

// Validate checks that root is a valid APM package per spec §4.3:
//  1. root/apm.yml exists and parses with a non-empty name.
//  2. root/.apm/ exists and holds at least one regular file at any depth
//     (its name and kind are not checked), OR
//     root contains at least one *.prompt.md file at depth <= 2.
func Validate(fsys afero.Fs, root string) (*Result, error) {
	manifestPath := filepath.Join(root, "apm.yml")
	exists, err := afero.Exists(fsys, manifestPath)
	if err != nil {
		return nil, apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": manifestPath})
	}
	if !exists {
		return nil, apmerr.New(nil, apmerr.MissingManifest, map[string]any{"path": manifestPath})
	}
	m, warnings, err := manifest.Load(fsys, manifestPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(m.Name) == "" {
		return nil, apmerr.New(nil, apmerr.MalformedManifest, map[string]any{
			"path": manifestPath, "field": "name",
		})
	}
	hasPrimitiveTree, err := hasNonEmptyApmDir(fsys, root)
	if err != nil {
		return nil, err
	}
	if !hasPrimitiveTree {
		hasPrimitiveTree, err = hasShallowWorkflow(fsys, root)
		if err != nil {
			return nil, err
		}
	}
	if !hasPrimitiveTree {
		return nil, apmerr.New(nil, apmerr.NotAnAPMPackage, map[string]any{
			"path":   root,
			"reason": "no non-empty .apm/ tree and no *.prompt.md within two levels of the root",
		})
	}
	return &Result{Manifest: m, Warnings: warnings}, nil
}

func hasNonEmptyApmDir(fsys afero.Fs, root string) (bool, error) {
	apmDir := filepath.Join(root, ".apm")
	info, err := fsys.Stat(apmDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, apmerr.New(err, apmerr.NotAnAPMPackage, map[string]any{"path": apmDir})
	}
	if !info.IsDir() {
		return false, nil
	}
	found := false
	walkErr := afero.Walk(fsys, apmDir, func(_ string, fi os.FileInfo, innerErr error) error {
		if innerErr != nil {
			return innerErr
		}
		if !fi.IsDir() {
			found = true
		}
		return nil
	})
	if walkErr != nil {
		return false, apmerr.New(walkErr, apmerr.NotAnAPMPackage, map[string]any{"path": apmDir})
	}
	return found, nil
}

func hasShallowWorkflow(fsys afero.Fs, root string) (bool, error) {
	found := false
	walkErr := afero.Walk(fsys, root, func(path string, fi os.FileInfo, innerErr error) error {
		if innerErr != nil {
			return innerErr
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		depth := 0
		if rel != "." {
			depth = len(strings.Split(filepath.ToSlash(rel), "/"))
		}
		if fi.IsDir() {
			if depth > 2 {
				return filepath.SkipDir
			}
			return nil
		}
		if depth <= 2 && strings.HasSuffix(fi.Name(), ".prompt.md") {
			found = true
		}
		return nil
	})
	return found, walkErr
}
