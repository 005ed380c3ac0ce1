// Package installer implements C6: it orchestrates the dependency graph
// builder (C5) and the archive fetcher (C4) to materialize apm_modules/,
// writing the lock file last so a valid, complete node is always recorded.
package installer

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/apm-dev/apm/internal/apmerr"
	"github.com/apm-dev/apm/internal/config"
	"github.com/apm-dev/apm/internal/depgraph"
	"github.com/apm-dev/apm/internal/lockfile"
	"github.com/apm-dev/apm/internal/logger"
	"github.com/apm-dev/apm/internal/manifest"
	"github.com/apm-dev/apm/internal/pkgcheck"
)

// ArchiveFetcher is the narrow slice of *fetch.Fetcher the installer needs
// for step 3 of spec §4.6. Defined as an interface here (rather than taking
// *fetch.Fetcher directly) so tests can substitute a fake that never hits
// the network.
type ArchiveFetcher interface {
	FetchArchive(ctx context.Context, owner, repo, sha, targetPath string) error
}

// Fetcher is the full dependency an Installer needs: archive retrieval plus
// the depgraph.ManifestResolver used to build the graph in step 1-2.
type Fetcher interface {
	ArchiveFetcher
	depgraph.ManifestResolver
}

// Only restricts an install to one dependency kind (spec §4.6 --only flag).
// MCP installation is delegated to external collaborators; the installer
// treats OnlyMCP as a no-op over the apm graph.
type Only string

const (
	OnlyNone Only = ""
	OnlyAPM  Only = "apm"
	OnlyMCP  Only = "mcp"
)

// Options configures a single Install (or dry-run Plan) invocation.
type Options struct {
	Update bool
	DryRun bool
	Only   Only
}

// NodeAction records what Install decided to do with one graph node.
type NodeAction string

const (
	ActionSkippedUpToDate NodeAction = "skipped_up_to_date"
	ActionInstalled       NodeAction = "installed"
)

// NodeResult is the per-node outcome of an install run.
type NodeResult struct {
	Owner, Repo string
	Action      NodeAction
	ResolvedSHA string
}

// Result is the overall outcome of Install: the graph that was resolved,
// any non-fatal warnings (e.g. VersionOverride), and a per-node action log.
type Result struct {
	Graph   *depgraph.Graph
	Warn    []*apmerr.Error
	Nodes   []NodeResult
	Lock    *lockfile.Lock
}

// Installer drives C6 against a real or in-memory filesystem.
type Installer struct {
	fsys    afero.Fs
	fetcher Fetcher
	cfg     *config.Config
}

// New builds an Installer backed by fetcher for archive/manifest retrieval.
func New(fsys afero.Fs, fetcher Fetcher, cfg *config.Config) *Installer {
	return &Installer{fsys: fsys, fetcher: fetcher, cfg: cfg}
}

// Plan resolves the dependency graph (C5) without fetching any archives,
// used both internally and directly for --dry-run.
func (inst *Installer) Plan(ctx context.Context, root *manifest.Manifest) (*depgraph.Graph, []*apmerr.Error, error) {
	limits := depgraph.NewLimits(inst.cfg.GraphMaxDepth, inst.cfg.GraphMaxNodes)
	return depgraph.Build(ctx, root, inst.fetcher, limits, logger.FromContext(ctx))
}

// Install runs the full C6 sequence: resolve the graph, then fetch/validate
// each node that isn't already up to date, writing apm_modules/.apm-lock
// last so an interrupted run never records an incomplete node.
func (inst *Installer) Install(
	ctx context.Context, projectRoot string, root *manifest.Manifest, opts Options,
) (*Result, error) {
	log := logger.FromContext(ctx)
	if opts.Only == OnlyMCP {
		return &Result{Lock: lockfile.New()}, nil
	}

	graph, warnings, err := inst.Plan(ctx, root)
	if err != nil {
		return nil, err
	}
	result := &Result{Graph: graph, Warn: warnings}

	apmModulesDir := filepath.Join(projectRoot, "apm_modules")
	existingLock := inst.loadLock(apmModulesDir)

	if opts.DryRun {
		for _, n := range graph.InstallOrder {
			result.Nodes = append(result.Nodes, NodeResult{Owner: n.Owner, Repo: n.Repo, Action: ActionInstalled, ResolvedSHA: derefSHA(n.ResolvedCommit)})
		}
		return result, nil
	}

	newLock := lockfile.New()
	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, inst.cfg.InstallerMaxParallelism))

	for _, node := range graph.InstallOrder {
		node := node
		group.Go(func() error {
			targetDir := filepath.Join(apmModulesDir, node.Owner, node.Repo)
			sha := derefSHA(node.ResolvedCommit)
			action := ActionInstalled
			if !opts.Update && alreadyUpToDate(inst.fsys, existingLock, node.Key(), sha, targetDir) {
				action = ActionSkippedUpToDate
			} else {
				log.Info("installing dependency", "package", node.Key(), "sha", sha)
				if err := inst.fetcher.FetchArchive(gctx, node.Owner, node.Repo, sha, targetDir); err != nil {
					return err
				}
				if _, err := pkgcheck.Validate(inst.fsys, targetDir); err != nil {
					return err
				}
			}
			mu.Lock()
			result.Nodes = append(result.Nodes, NodeResult{Owner: node.Owner, Repo: node.Repo, Action: action, ResolvedSHA: sha})
			newLock.Set(node.Key(), lockfile.Entry{
				RefRequested: node.RefRequested,
				ResolvedSHA:  sha,
				InstalledAt:  time.Now().UTC().Format(time.RFC3339),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if err := inst.writeLock(apmModulesDir, newLock); err != nil {
		return nil, err
	}
	result.Lock = newLock
	return result, nil
}

func alreadyUpToDate(fsys afero.Fs, lock *lockfile.Lock, key, sha, targetDir string) bool {
	if lock == nil {
		return false
	}
	entry, ok := lock.Packages[key]
	if !ok || entry.ResolvedSHA != sha {
		return false
	}
	info, err := fsys.Stat(targetDir)
	return err == nil && info.IsDir()
}

func (inst *Installer) loadLock(apmModulesDir string) *lockfile.Lock {
	raw, err := afero.ReadFile(inst.fsys, lockfile.Path(apmModulesDir))
	if err != nil {
		return lockfile.New()
	}
	l, err := lockfile.Load(raw)
	if err != nil {
		return lockfile.New()
	}
	return l
}

func (inst *Installer) writeLock(apmModulesDir string, lock *lockfile.Lock) error {
	if err := inst.fsys.MkdirAll(apmModulesDir, 0o755); err != nil {
		return apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": apmModulesDir})
	}
	return afero.WriteFile(inst.fsys, lockfile.Path(apmModulesDir), lock.Marshal(), 0o644)
}

// Clean removes the apm_modules/ tree wholesale (spec §3 lifecycle: "deps
// clean").
func Clean(fsys afero.Fs, projectRoot string) error {
	return fsys.RemoveAll(filepath.Join(projectRoot, "apm_modules"))
}

func derefSHA(sha *string) string {
	if sha == nil {
		return ""
	}
	return *sha
}
