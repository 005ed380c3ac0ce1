package cliapp

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/apm-dev/apm/internal/apmerr"
	"github.com/apm-dev/apm/internal/fetch"
	"github.com/apm-dev/apm/internal/installer"
	"github.com/apm-dev/apm/internal/lockfile"
	"github.com/apm-dev/apm/internal/manifest"
)

func newDepsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Inspect or manage installed apm dependencies",
	}
	cmd.AddCommand(
		newDepsListCommand(),
		newDepsTreeCommand(),
		newDepsInfoCommand(),
		newDepsCleanCommand(),
		newDepsUpdateCommand(),
	)
	return cmd
}

func newDepsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed dependencies from the lock file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := AppFromContext(cmd.Context())
			lock, err := loadProjectLock(app)
			if err != nil {
				return err
			}
			keys := sortedLockKeys(lock)
			for _, k := range keys {
				e := lock.Packages[k]
				printf(app, "%s  %s  installed_at=%s\n", k, e.ResolvedSHA, e.InstalledAt)
			}
			return nil
		},
	}
}

func newDepsTreeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Render the resolved dependency graph as indented text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := AppFromContext(cmd.Context())
			m, err := app.LoadProjectManifest()
			if err != nil {
				return err
			}
			lock, err := loadProjectLock(app)
			if err != nil {
				return err
			}
			printf(app, "%s\n", m.Name)
			printDeps(app, m.Dependencies.APM, lock, map[string]bool{}, "  ")
			return nil
		},
	}
}

func printDeps(app *App, deps []string, lock *lockfile.Lock, seen map[string]bool, indent string) {
	for _, dep := range deps {
		ownerRepo, ref, _ := strings.Cut(dep, "#")
		line := ownerRepo
		if ref != "" {
			line += "#" + ref
		}
		if seen[ownerRepo] {
			printf(app, "%s%s (deduplicated)\n", indent, line)
			continue
		}
		seen[ownerRepo] = true
		status := "not installed"
		if e, ok := lock.Packages[ownerRepo]; ok {
			status = "installed@" + e.ResolvedSHA
		}
		printf(app, "%s%s [%s]\n", indent, line, status)

		depManifestPath := filepath.Join(app.Root, "apm_modules", filepath.FromSlash(ownerRepo), ManifestPath)
		if exists, _ := afero.Exists(app.FS, depManifestPath); exists {
			depManifest, _, err := manifest.Load(app.FS, depManifestPath)
			if err == nil {
				printDeps(app, depManifest.Dependencies.APM, lock, seen, indent+"  ")
			}
		}
	}
}

func newDepsInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show the resolved SHA, ref, install time, and sub-dependencies of one package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := AppFromContext(cmd.Context())
			name := args[0]
			lock, err := loadProjectLock(app)
			if err != nil {
				return err
			}
			entry, ok := lock.Packages[name]
			if !ok {
				return Fail(1, apmerr.New(nil, apmerr.MissingManifest, map[string]any{
					"package": name, "reason": "not recorded in apm_modules/.apm-lock",
				}))
			}
			refRequested := "<default>"
			if entry.RefRequested != nil {
				refRequested = *entry.RefRequested
			}
			printf(app, "name: %s\n", name)
			printf(app, "ref_requested: %s\n", refRequested)
			printf(app, "resolved_sha: %s\n", entry.ResolvedSHA)
			printf(app, "installed_at: %s\n", entry.InstalledAt)

			depManifestPath := filepath.Join(app.Root, "apm_modules", filepath.FromSlash(name), ManifestPath)
			if exists, _ := afero.Exists(app.FS, depManifestPath); exists {
				depManifest, _, err := manifest.Load(app.FS, depManifestPath)
				if err == nil {
					printf(app, "dependencies:\n")
					for _, d := range depManifest.Dependencies.APM {
						printf(app, "  %s\n", d)
					}
				}
			}
			return nil
		},
	}
}

func newDepsCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the apm_modules/ tree wholesale",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := AppFromContext(cmd.Context())
			if err := installer.Clean(app.FS, app.Root); err != nil {
				return Fail(1, err)
			}
			printf(app, "Removed %s\n", filepath.Join(app.Root, "apm_modules"))
			return nil
		},
	}
}

func newDepsUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update [name]",
		Short: "Refetch all dependencies (delegates to install --update); a name argument does not narrow the refetch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := AppFromContext(cmd.Context())
			m, err := app.LoadProjectManifest()
			if err != nil {
				return err
			}
			fetcher := fetch.New(app.Cfg)
			inst := installer.New(app.FS, fetcher, app.Cfg)
			result, err := inst.Install(app.contextWithSelf(), app.Root, m, installer.Options{Update: true})
			if err != nil {
				return Fail(2, err)
			}
			for _, n := range result.Nodes {
				printf(app, "  %s/%s  %s  %s\n", n.Owner, n.Repo, n.ResolvedSHA, n.Action)
			}
			return nil
		},
	}
}

func loadProjectLock(app *App) (*lockfile.Lock, error) {
	path := lockfile.Path(filepath.Join(app.Root, "apm_modules"))
	exists, err := afero.Exists(app.FS, path)
	if err != nil {
		return nil, Fail(1, err)
	}
	if !exists {
		return lockfile.New(), nil
	}
	raw, err := afero.ReadFile(app.FS, path)
	if err != nil {
		return nil, Fail(1, err)
	}
	lock, err := lockfile.Load(raw)
	if err != nil {
		return nil, Fail(1, err)
	}
	return lock, nil
}

func sortedLockKeys(lock *lockfile.Lock) []string {
	keys := make([]string, 0, len(lock.Packages))
	for k := range lock.Packages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
