package cliapp

import (
	"fmt"
	"path/filepath"

	"github.com/gosimple/slug"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/apm-dev/apm/internal/apmerr"
)

const starterManifestTemplate = `name: %s
version: 0.1.0
scripts:
  start: "codex hello-world.prompt.md"
dependencies:
  apm: []
  mcp: []
compilation:
  output: AGENTS.md
  resolve_links: true
`

const starterWorkflowTemplate = `---
name: hello-world
description: A starter workflow that greets the project.
mode: agent
input:
  - name
---

Say hello to ${input:name}.
`

func newInitCommand() *cobra.Command {
	var force, yes bool
	cmd := &cobra.Command{
		Use:   "init [name]",
		Short: "Initialize a new apm.yml and a sample workflow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := AppFromContext(cmd.Context())
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runInit(app, name, force, yes)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing apm.yml")
	cmd.Flags().BoolVar(&yes, "yes", false, "accept defaults without prompting")
	return cmd
}

func runInit(app *App, name string, force, _ bool) error {
	manifestPath := filepath.Join(app.Root, ManifestPath)
	exists, err := afero.Exists(app.FS, manifestPath)
	if err != nil {
		return Fail(1, err)
	}
	if exists && !force {
		return Fail(1, apmerr.New(nil, apmerr.MalformedManifest, map[string]any{
			"path":   manifestPath,
			"reason": "apm.yml already exists; pass --force to overwrite",
		}))
	}
	if name == "" {
		name = slug.Make(filepath.Base(app.Root))
	}
	if err := afero.WriteFile(app.FS, manifestPath, []byte(fmt.Sprintf(starterManifestTemplate, name)), 0o644); err != nil {
		return Fail(1, err)
	}
	workflowPath := filepath.Join(app.Root, "hello-world.prompt.md")
	if err := afero.WriteFile(app.FS, workflowPath, []byte(starterWorkflowTemplate), 0o644); err != nil {
		return Fail(1, err)
	}
	printf(app, "Initialized %s (%s)\n", manifestPath, name)
	return nil
}
