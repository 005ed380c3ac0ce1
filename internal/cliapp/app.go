// Package cliapp implements C11: the command surface mapping cobra
// subcommands onto the core's C2-C10 operations. Terminal rendering,
// interactive questionnaires, and MCP search are explicit Non-goals (§1);
// this package writes plain text to the command's output streams.
package cliapp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/apm-dev/apm/internal/config"
	"github.com/apm-dev/apm/internal/logger"
	"github.com/apm-dev/apm/internal/manifest"
)

// ExitError carries the process exit code a failed command should return,
// per spec §6's exit-code table (0/1/2).
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Fail wraps err so Execute's exit-code translation picks code.
func Fail(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// App bundles the dependencies every subcommand needs: filesystem, logger,
// ambient config, the project root directory, and output streams.
type App struct {
	FS      afero.Fs
	Log     logger.Logger
	Cfg     *config.Config
	Root    string // absolute project root (cwd unless overridden)
	Out     io.Writer
	ErrOut  io.Writer
}

type appCtxKey struct{}

// ContextWithApp returns a copy of ctx carrying app.
func ContextWithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appCtxKey{}, app)
}

// AppFromContext retrieves the App stored in ctx, building a default one
// (real OS filesystem, cwd, default logger/config) if none is present.
func AppFromContext(ctx context.Context) *App {
	if app, ok := ctx.Value(appCtxKey{}).(*App); ok && app != nil {
		return app
	}
	return defaultApp(ctx)
}

func defaultApp(ctx context.Context) *App {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &App{
		FS:     afero.NewOsFs(),
		Log:    logger.FromContext(ctx),
		Cfg:    config.FromContext(ctx),
		Root:   wd,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

// ManifestPath is the fixed manifest filename under the project root.
const ManifestPath = "apm.yml"

// LoadProjectManifest loads apm.yml from app.Root, surfacing
// MissingManifest/MalformedManifest as a fatal command error (exit 1).
func (a *App) LoadProjectManifest() (*manifest.Manifest, error) {
	path := filepath.Join(a.Root, ManifestPath)
	m, warnings, err := manifest.Load(a.FS, path)
	if err != nil {
		return nil, Fail(1, err)
	}
	for _, w := range warnings {
		a.Log.Warn(w.Message, "code", string(w.Code))
	}
	return m, nil
}

// bindApp attaches an App built from persistent flags to cmd's context, for
// subcommands to retrieve via AppFromContext.
func bindApp(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfgMgr := config.NewManager()
	cfg, err := cfgMgr.Load(ctx)
	if err != nil {
		return err
	}
	logCfg := logger.DefaultConfig()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.NewLogger(logCfg)

	root, _ := cmd.Flags().GetString("cwd")
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		root = wd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	app := &App{
		FS:     afero.NewOsFs(),
		Log:    log,
		Cfg:    cfg,
		Root:   absRoot,
		Out:    cmd.OutOrStdout(),
		ErrOut: cmd.ErrOrStderr(),
	}
	ctx = ContextWithApp(ctx, app)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithConfig(ctx, cfg)
	cmd.SetContext(ctx)
	return nil
}

// printf writes to app.Out, matching the teacher corpus's plain stdout
// command output (no TUI rendering, per §1 Non-goals).
func printf(app *App, format string, args ...any) {
	fmt.Fprintf(app.Out, format, args...)
}

// contextWithSelf returns a fresh context carrying a's logger and config,
// for passing into core packages that read them via logger/config
// FromContext.
func (a *App) contextWithSelf() context.Context {
	ctx := context.Background()
	ctx = logger.ContextWithLogger(ctx, a.Log)
	ctx = config.ContextWithConfig(ctx, a.Cfg)
	return ctx
}
