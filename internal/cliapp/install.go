package cliapp

import (
	"github.com/spf13/cobra"

	"github.com/apm-dev/apm/internal/apmerr"
	"github.com/apm-dev/apm/internal/fetch"
	"github.com/apm-dev/apm/internal/installer"
)

func newInstallCommand() *cobra.Command {
	var only string
	var update, dryRun bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Resolve and install declared dependencies into apm_modules/",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := AppFromContext(cmd.Context())
			return runInstall(app, only, update, dryRun)
		},
	}
	cmd.Flags().StringVar(&only, "only", "", "restrict install to \"apm\" or \"mcp\" dependencies")
	cmd.Flags().BoolVar(&update, "update", false, "refetch dependencies even if the resolved SHA is unchanged")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the resolved install plan without fetching")
	return cmd
}

func runInstall(app *App, only string, update, dryRun bool) error {
	m, err := app.LoadProjectManifest()
	if err != nil {
		return err
	}
	onlyKind, err := parseOnly(only)
	if err != nil {
		return Fail(1, err)
	}

	fetcher := fetch.New(app.Cfg)
	inst := installer.New(app.FS, fetcher, app.Cfg)

	ctx := app.contextWithSelf()
	result, err := inst.Install(ctx, app.Root, m, installer.Options{Update: update, DryRun: dryRun, Only: onlyKind})
	if err != nil {
		return Fail(2, err)
	}

	for _, w := range result.Warn {
		app.Log.Warn(w.Message, "code", string(w.Code))
	}
	if dryRun {
		printf(app, "Install plan (%d package(s)):\n", len(result.Nodes))
	} else {
		printf(app, "Installed %d package(s):\n", len(result.Nodes))
	}
	for _, n := range result.Nodes {
		printf(app, "  %s/%s  %s  %s\n", n.Owner, n.Repo, n.ResolvedSHA, n.Action)
	}
	return nil
}

func parseOnly(s string) (installer.Only, error) {
	switch s {
	case "":
		return installer.OnlyNone, nil
	case "apm":
		return installer.OnlyAPM, nil
	case "mcp":
		return installer.OnlyMCP, nil
	default:
		return "", apmerr.New(nil, apmerr.MalformedManifest, map[string]any{
			"flag": "--only", "value": s, "reason": "expected \"apm\" or \"mcp\"",
		})
	}
}
