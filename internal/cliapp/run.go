package cliapp

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/apm-dev/apm/internal/script"
)

func newRunCommand() *cobra.Command {
	var rawParams []string
	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run a manifest script after parameter substitution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := AppFromContext(cmd.Context())
			return runScript(cmd, app, args[0], rawParams)
		},
	}
	cmd.Flags().StringArrayVar(&rawParams, "param", nil, "parameter as k=v (repeatable)")
	return cmd
}

// compiledDir is where run materializes parameter-substituted workflow
// copies so the spawned CLI reads the substituted text.
const compiledDir = ".apm/compiled"

func runScript(cmd *cobra.Command, app *App, name string, rawParams []string) error {
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

	command := resolved.Command
	if resolved.WorkflowPath != "" {
		compiledRel := filepath.Join(compiledDir, filepath.Base(resolved.WorkflowPath))
		compiledAbs := filepath.Join(app.Root, compiledRel)
		if err := app.FS.MkdirAll(filepath.Dir(compiledAbs), 0o755); err != nil {
			return Fail(1, err)
		}
		if err := afero.WriteFile(app.FS, compiledAbs, []byte(resolved.WorkflowBody), 0o644); err != nil {
			return Fail(1, err)
		}
		command = resolved.CommandWith(compiledRel)
	}

	app.Log.Debug("running script", "script", name, "command", command)

	// Execution is delegated to the host shell; the environment is passed
	// through unchanged so runtime tokens reach the child untouched (§6).
	child := exec.CommandContext(cmd.Context(), "sh", "-c", command)
	child.Dir = app.Root
	child.Env = os.Environ()
	child.Stdin = os.Stdin
	child.Stdout = app.Out
	child.Stderr = app.ErrOut
	if err := child.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Fail(exitErr.ExitCode(), fmt.Errorf("script %q exited with code %d", name, exitErr.ExitCode()))
		}
		return Fail(1, err)
	}
	return nil
}
