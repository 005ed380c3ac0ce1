package cliapp

import (
	"github.com/spf13/cobra"

	"github.com/apm-dev/apm/internal/script"
)

func newPreviewCommand() *cobra.Command {
	var rawParams []string
	cmd := &cobra.Command{
		Use:   "preview <script>",
		Short: "Show a script's substituted command and workflow without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := AppFromContext(cmd.Context())
			return runPreview(app, args[0], rawParams)
		},
	}
	cmd.Flags().StringArrayVar(&rawParams, "param", nil, "parameter as k=v (repeatable)")
	return cmd
}

func runPreview(app *App, name string, rawParams []string) error {
	m, err := app.LoadProjectManifest()
	if err != nil {
		return err
	}
	params, err := script.ParseParams(rawParams)
	if err != nil {
		return Fail(1, err)
	}
	resolved, err := script.Resolve(app.FS, app.Root, m, name, params)
	if err != nil {
		return Fail(1, err)
	}

	printf(app, "script:  %s\n", resolved.Name)
	printf(app, "command: %s\n", resolved.Command)
	printf(app, "argv:\n")
	for i, arg := range resolved.Argv {
		printf(app, "  [%d] %s\n", i, arg)
	}
	if resolved.WorkflowPath != "" {
		printf(app, "workflow: %s\n", resolved.WorkflowPath)
		printf(app, "---\n%s", resolved.WorkflowBody)
		if len(resolved.WorkflowBody) > 0 && resolved.WorkflowBody[len(resolved.WorkflowBody)-1] != '\n' {
			printf(app, "\n")
		}
	}
	return nil
}
