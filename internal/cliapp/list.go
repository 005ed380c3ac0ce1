package cliapp

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/apm-dev/apm/internal/primitive"
	"github.com/apm-dev/apm/internal/script"
)

func newListCommand() *cobra.Command {
	var primitives bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the manifest's scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := AppFromContext(cmd.Context())
			if primitives {
				return runListPrimitives(app)
			}
			return runListScripts(app)
		},
	}
	cmd.Flags().BoolVar(&primitives, "primitives", false, "list discovered primitives grouped by kind instead of scripts")
	return cmd
}

func runListScripts(app *App) error {
	m, err := app.LoadProjectManifest()
	if err != nil {
		return err
	}
	if len(m.Scripts) == 0 {
		printf(app, "no scripts defined in %s\n", ManifestPath)
		return nil
	}
	names := make([]string, 0, len(m.Scripts))
	for name := range m.Scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		command := m.Scripts[name]
		placeholders := script.Placeholders(command)
		if len(placeholders) == 0 {
			printf(app, "%s: %s\n", name, command)
			continue
		}
		printf(app, "%s: %s (params: %v)\n", name, command, placeholders)
	}
	return nil
}

func runListPrimitives(app *App) error {
	collection, warnings, err := DiscoverAll(app.FS, app.Root, app.Log)
	if err != nil {
		return Fail(1, err)
	}
	for _, w := range warnings {
		app.Log.Warn(w.Message, "code", string(w.Code))
	}
	groups := []struct {
		title string
		list  []*primitive.Primitive
	}{
		{"chatmodes", collection.Chatmodes},
		{"instructions", collection.Instructions},
		{"contexts", collection.Contexts},
		{"workflows", collection.Workflows},
	}
	for _, g := range groups {
		if len(g.list) == 0 {
			continue
		}
		printf(app, "%s:\n", g.title)
		for _, p := range g.list {
			marker := ""
			if _, shadows := collection.ShadowedPaths[p.Kind.String()+":"+p.SourcePath]; shadows {
				marker = " (shadows a dependency primitive)"
			}
			printf(app, "  %s  %s%s\n", p.Name, p.SourcePath, marker)
		}
	}
	if len(collection.All()) == 0 {
		printf(app, "no primitives discovered\n")
	}
	return nil
}
