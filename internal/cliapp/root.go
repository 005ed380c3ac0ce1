package cliapp

import (
	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

// NewRootCommand builds the fixed command surface from spec §6/§4.11:
// init, install, deps {list,tree,info,clean,update}, compile, run, preview,
// list.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "apm",
		Short:         "Agent Package Manager",
		Long:          "apm resolves AI context primitives from remote sources and compiles them into AGENTS.md.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindApp(cmd)
		},
	}
	root.PersistentFlags().String("cwd", "", "project directory (default: current working directory)")
	root.PersistentFlags().Bool("verbose", false, "enable debug logging")

	root.AddCommand(
		newInitCommand(),
		newInstallCommand(),
		newDepsCommand(),
		newCompileCommand(),
		newRunCommand(),
		newPreviewCommand(),
		newListCommand(),
	)
	return root
}

// Execute runs the root command and translates a returned *ExitError into
// the matching process exit code; any other error exits 1.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		if exitErr, ok := err.(*ExitError); ok {
			root.PrintErrln(exitErr.Err)
			return exitErr.Code
		}
		root.PrintErrln(err)
		return 1
	}
	return 0
}
