package cliapp

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/apm-dev/apm/internal/apmerr"
	"github.com/apm-dev/apm/internal/diranalysis"
	"github.com/apm-dev/apm/internal/emit"
	"github.com/apm-dev/apm/internal/logger"
	"github.com/apm-dev/apm/internal/manifest"
	"github.com/apm-dev/apm/internal/optimize"
	"github.com/apm-dev/apm/internal/primitive"
	"github.com/apm-dev/apm/internal/watch"
)

func newCompileCommand() *cobra.Command {
	var output, chatmode string
	var dryRun, noLinks, withConstitution, noConstitution, watchFlag, validate bool
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile discovered primitives into AGENTS.md files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := AppFromContext(cmd.Context())
			opts := compileFlags{
				output: output, chatmode: chatmode,
				dryRun: dryRun, noLinks: noLinks,
				withConstitution: withConstitution, noConstitution: noConstitution,
				validate: validate,
			}
			if watchFlag {
				return runWatch(cmd.Context(), app, opts)
			}
			_, err := runCompile(app, opts)
			return err
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "override compilation.output")
	cmd.Flags().StringVar(&chatmode, "chatmode", "", "override compilation.chatmode")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print planned AGENTS.md files without writing them")
	cmd.Flags().BoolVar(&noLinks, "no-links", false, "disable relative markdown link rewriting")
	cmd.Flags().BoolVar(&withConstitution, "with-constitution", false, "force-enable constitution injection")
	cmd.Flags().BoolVar(&noConstitution, "no-constitution", false, "force-disable constitution injection")
	cmd.Flags().BoolVar(&watchFlag, "watch", false, "recompile on filesystem changes")
	cmd.Flags().BoolVar(&validate, "validate", false, "run discovery in strict mode and exit nonzero on warnings")
	return cmd
}

type compileFlags struct {
	output, chatmode                   string
	dryRun, noLinks                    bool
	withConstitution, noConstitution   bool
	validate                           bool
}

// DiscoverAll walks the whole project tree (following .apm/ and .github/,
// skipping other hidden directories and apm_modules) plus every dependency
// under apm_modules/<owner>/<repo>/ (§2 data flow), merging
// results so local primitives shadow dependency ones sharing a source path.
func DiscoverAll(fsys afero.Fs, projectRoot string, log logger.Logger) (*primitive.Collection, []*apmerr.Error, error) {
	merged := primitive.NewCollection()
	var allWarnings []*apmerr.Error

	local, warnings, err := primitive.Discover(fsys, projectRoot, log)
	if err != nil {
		return nil, allWarnings, err
	}
	allWarnings = append(allWarnings, warnings...)
	merged.Merge(local, true)

	depRoots, err := listDependencyRoots(fsys, projectRoot)
	if err != nil {
		return nil, allWarnings, err
	}
	for _, depRoot := range depRoots {
		dep, depWarnings, err := primitive.Discover(fsys, depRoot, log)
		if err != nil {
			return nil, allWarnings, err
		}
		allWarnings = append(allWarnings, depWarnings...)
		merged.Merge(dep, false)
	}
	merged.Sort()
	return merged, allWarnings, nil
}

// listDependencyRoots returns apm_modules/<owner>/<repo> for every installed
// dependency, sorted for determinism.
func listDependencyRoots(fsys afero.Fs, projectRoot string) ([]string, error) {
	apmModules := filepath.Join(projectRoot, "apm_modules")
	exists, err := afero.DirExists(fsys, apmModules)
	if err != nil || !exists {
		return nil, nil
	}
	owners, err := afero.ReadDir(fsys, apmModules)
	if err != nil {
		return nil, apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": apmModules})
	}
	var roots []string
	for _, o := range owners {
		if !o.IsDir() {
			continue
		}
		ownerDir := filepath.Join(apmModules, o.Name())
		repos, err := afero.ReadDir(fsys, ownerDir)
		if err != nil {
			return nil, apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": ownerDir})
		}
		for _, r := range repos {
			if r.IsDir() {
				roots = append(roots, filepath.Join(ownerDir, r.Name()))
			}
		}
	}
	sort.Strings(roots)
	return roots, nil
}

// collectProjectFiles lists every non-hidden regular file under root that
// could be an instruction target, pruning the same set diranalysis prunes.
func collectProjectFiles(fsys afero.Fs, root string, ignore []string) ([]string, error) {
	var files []string
	pruneSet := map[string]bool{".git": true, "apm_modules": true, "node_modules": true}
	for _, p := range ignore {
		pruneSet[p] = true
	}
	return files, walkInner(fsys, root, root, pruneSet, &files)
}

func walkInner(fsys afero.Fs, root, current string, pruneSet map[string]bool, files *[]string) error {
	entries, err := afero.ReadDir(fsys, current)
	if err != nil {
		return apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": current})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(current, name)
		if e.IsDir() {
			if pruneSet[name] {
				continue
			}
			if err := walkInner(fsys, root, full, pruneSet, files); err != nil {
				return err
			}
			continue
		}
		rel, relErr := filepath.Rel(root, full)
		if relErr != nil {
			continue
		}
		*files = append(*files, filepath.ToSlash(rel))
	}
	return nil
}

// runCompile drives C2 -> C7 -> C8 -> C9 for one compilation.
func runCompile(app *App, flags compileFlags) ([]emit.Written, error) {
	m, err := app.LoadProjectManifest()
	if err != nil {
		return nil, err
	}
	log := app.Log

	coll, warnings, err := DiscoverAll(app.FS, app.Root, log)
	if err != nil {
		return nil, Fail(1, err)
	}
	strictFailed := false
	for _, w := range warnings {
		if flags.validate {
			log.Error(w.Message, "code", string(w.Code))
			strictFailed = true
		} else {
			log.Warn(w.Message, "code", string(w.Code))
		}
	}
	if strictFailed {
		return nil, Fail(1, apmerr.New(nil, apmerr.ValidationWarning, map[string]any{
			"reason": "strict validation failed, see warnings above",
		}))
	}
	if flags.validate {
		printf(app, "Validated %d primitive(s), no warnings.\n", len(coll.All()))
		return nil, nil
	}

	cache, err := diranalysis.NewCache(app.FS, 4096)
	if err != nil {
		return nil, Fail(1, err)
	}
	analysis, err := cache.Analyze(app.Root, app.Cfg.AnalysisMaxDepth, m.Compilation.Placement.Ignore)
	if err != nil {
		return nil, Fail(1, err)
	}

	files, err := collectProjectFiles(app.FS, app.Root, m.Compilation.Placement.Ignore)
	if err != nil {
		return nil, Fail(1, err)
	}

	weights := optimize.Weights{
		Coverage:     orDefault(m.Compilation.Optimization.CoverageWeight, 1.0),
		Pollution:    orDefault(m.Compilation.Optimization.PollutionWeight, 0.8),
		Locality:     orDefault(m.Compilation.Optimization.LocalityWeight, 0.3),
		DepthPenalty: orDefault(m.Compilation.Optimization.DepthPenalty, 0.1),
	}
	result, err := optimize.Optimize(coll.Instructions, files, analysis, app.Root, weights, log)
	if err != nil {
		return nil, Fail(1, err)
	}

	opts := emitOptionsFromFlags(m, flags)
	opts.Chatmodes = coll.Chatmodes
	written, err := emit.Emit(app.contextWithSelf(), app.FS, app.Root, result, opts, flags.dryRun)
	if err != nil {
		return nil, Fail(1, err)
	}

	if flags.dryRun {
		printf(app, "Would write %d file(s):\n", len(written))
	} else {
		printf(app, "Wrote %d file(s):\n", len(written))
	}
	for _, w := range written {
		printf(app, "  %s\n", w.RelPath)
	}
	return written, nil
}

func emitOptionsFromFlags(m *manifest.Manifest, flags compileFlags) emit.Options {
	var outputOverride, chatmodeOverride *string
	if flags.output != "" {
		outputOverride = &flags.output
	}
	if flags.chatmode != "" {
		chatmodeOverride = &flags.chatmode
	}
	var noLinks, constitutionOverride *bool
	if flags.noLinks {
		t := true
		noLinks = &t
	}
	switch {
	case flags.withConstitution:
		t := true
		constitutionOverride = &t
	case flags.noConstitution:
		f := false
		constitutionOverride = &f
	}
	return emit.FromManifest(m, outputOverride, chatmodeOverride, noLinks, constitutionOverride)
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// runWatch re-runs compile on filesystem changes, debouncing bursts of
// events per the ambient stack (fsnotify + go-debounce, spec §4.11/EXPANSION).
func runWatch(ctx context.Context, app *App, flags compileFlags) error {
	if _, err := runCompile(app, flags); err != nil {
		return err
	}
	w, err := watch.New(app.Root, app.Cfg.WatchDebounce)
	if err != nil {
		return Fail(1, err)
	}
	defer w.Close()

	printf(app, "Watching %s for changes (debounce %s)...\n", app.Root, app.Cfg.WatchDebounce)
	return w.Run(ctx, func() {
		if _, err := runCompile(app, flags); err != nil {
			app.Log.Error("recompile failed", "error", err.Error())
		} else {
			app.Log.Info("recompiled", "at", time.Now().Format(time.RFC3339))
		}
	})
}
