// Package fetch implements C4: resolving a dependency ref to a commit SHA
// and downloading/extracting the corresponding repository archive.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-resty/resty/v2"
	"github.com/google/go-github/v74/github"
	"github.com/segmentio/ksuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"

	"github.com/apm-dev/apm/internal/apmerr"
	"github.com/apm-dev/apm/internal/config"
	"github.com/apm-dev/apm/internal/logger"
)

// Fetcher resolves refs and downloads repository archives from the hosting
// provider, trying an unauthenticated request first and falling back to a
// bearer token on 401/404 per spec §4.4's precedence: package-access token,
// then a general token from the environment.
type Fetcher struct {
	unauth *github.Client
	cfg    *config.Config
	http   *resty.Client
}

// New builds a Fetcher from the ambient Config (token env var names, retry
// tuning).
func New(cfg *config.Config) *Fetcher {
	return &Fetcher{
		unauth: github.NewClient(nil),
		cfg:    cfg,
		http:   resty.New(),
	}
}

func (f *Fetcher) authedClient() *github.Client {
	token := os.Getenv(f.cfg.PackageTokenEnvVar)
	if token == "" {
		token = os.Getenv(f.cfg.GeneralTokenEnvVar)
	}
	if token == "" {
		return nil
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(context.Background(), ts))
}

// ResolveRef resolves ref (branch, tag, or commit; nil means the default
// branch) to a commit SHA.
func (f *Fetcher) ResolveRef(ctx context.Context, owner, repo string, ref *string) (string, error) {
	log := logger.FromContext(ctx)
	client := f.unauth
	sha, err := f.resolveRefWith(ctx, client, owner, repo, ref)
	if err != nil && isAuthFailure(err) {
		authed := f.authedClient()
		if authed == nil {
			return "", apmerr.New(err, apmerr.AuthRequired, map[string]any{
				"owner": owner, "repo": repo,
				"hint": fmt.Sprintf("set %s or %s to access private dependencies",
					f.cfg.PackageTokenEnvVar, f.cfg.GeneralTokenEnvVar),
			})
		}
		log.Debug("retrying ref resolution with authentication", "owner", owner, "repo", repo)
		sha, err = f.resolveRefWith(ctx, authed, owner, repo, ref)
	}
	if err != nil {
		return "", err
	}
	log.Info("resolved ref to commit", "owner", owner, "repo", repo, "ref", refLabel(ref), "sha", sha)
	return sha, nil
}

func (f *Fetcher) resolveRefWith(ctx context.Context, client *github.Client, owner, repo string, ref *string) (string, error) {
	var sha string
	err := f.withRetry(ctx, func(ctx context.Context) error {
		var innerErr error
		if ref == nil {
			repository, _, getErr := client.Repositories.Get(ctx, owner, repo)
			if getErr != nil {
				innerErr = getErr
			} else {
				branch, _, branchErr := client.Repositories.GetBranch(ctx, owner, repo, repository.GetDefaultBranch(), 1)
				if branchErr != nil {
					innerErr = branchErr
				} else {
					sha = branch.GetCommit().GetSHA()
				}
			}
		} else {
			commit, _, commitErr := client.Repositories.GetCommit(ctx, owner, repo, *ref, nil)
			if commitErr != nil {
				branch, _, branchErr := client.Repositories.GetBranch(ctx, owner, repo, *ref, 1)
				if branchErr != nil {
					innerErr = commitErr
				} else {
					sha = branch.GetCommit().GetSHA()
				}
			} else {
				sha = commit.GetSHA()
			}
		}
		if innerErr != nil {
			return classifyGithubError(innerErr, owner, repo, ref)
		}
		return nil
	})
	return sha, err
}

// FetchArchive downloads the tarball for (owner, repo, sha), extracts it
// into a temp directory beside targetPath, verifies it there, and then
// swaps it into targetPath.
func (f *Fetcher) FetchArchive(ctx context.Context, owner, repo, sha, targetPath string) error {
	log := logger.FromContext(ctx)
	client := f.unauth
	archiveURL, err := f.archiveLink(ctx, client, owner, repo, sha)
	if err != nil && isAuthFailure(err) {
		authed := f.authedClient()
		if authed == nil {
			return apmerr.New(err, apmerr.AuthRequired, map[string]any{"owner": owner, "repo": repo})
		}
		archiveURL, err = f.archiveLink(ctx, authed, owner, repo, sha)
	}
	if err != nil {
		return err
	}

	// The temp dir sits beside targetPath so the final rename stays on one
	// filesystem.
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return apmerr.New(err, apmerr.NetworkError, map[string]any{"owner": owner, "repo": repo})
	}
	tmpDir, err := os.MkdirTemp(filepath.Dir(targetPath), ".apm-fetch-"+ksuid.New().String())
	if err != nil {
		return apmerr.New(err, apmerr.NetworkError, map[string]any{"owner": owner, "repo": repo})
	}
	defer os.RemoveAll(tmpDir)

	log.Debug("downloading archive", "owner", owner, "repo", repo, "sha", sha, "tmp_dir", tmpDir)
	var body []byte
	err = f.withRetry(ctx, func(ctx context.Context) error {
		resp, getErr := f.http.R().SetContext(ctx).Get(archiveURL)
		if getErr != nil {
			return retry.RetryableError(apmerr.New(getErr, apmerr.NetworkError, map[string]any{
				"owner": owner, "repo": repo,
			}))
		}
		if resp.StatusCode() >= 500 {
			return retry.RetryableError(apmerr.New(nil, apmerr.NetworkError, map[string]any{
				"owner": owner, "repo": repo, "status": resp.StatusCode(),
			}))
		}
		if resp.StatusCode() != http.StatusOK {
			return apmerr.New(nil, apmerr.NetworkError, map[string]any{
				"owner": owner, "repo": repo, "status": resp.StatusCode(),
			})
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return err
	}

	extractErr := extractTarGz(body, tmpDir)
	if extractErr != nil {
		// ArchiveCorrupt is retried once per §7.
		body2, retryErr := f.redownloadOnce(ctx, archiveURL)
		if retryErr != nil {
			return apmerr.New(extractErr, apmerr.ArchiveCorrupt, map[string]any{"owner": owner, "repo": repo})
		}
		if extractErr = extractTarGz(body2, tmpDir); extractErr != nil {
			return apmerr.New(extractErr, apmerr.ArchiveCorrupt, map[string]any{"owner": owner, "repo": repo})
		}
	}

	if err := verifyExtractedPackage(tmpDir); err != nil {
		return err
	}
	return atomicSwap(tmpDir, targetPath)
}

func (f *Fetcher) redownloadOnce(ctx context.Context, archiveURL string) ([]byte, error) {
	resp, err := f.http.R().SetContext(ctx).Get(archiveURL)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (f *Fetcher) archiveLink(ctx context.Context, client *github.Client, owner, repo, sha string) (string, error) {
	var link string
	err := f.withRetry(ctx, func(ctx context.Context) error {
		url, _, getErr := client.Repositories.GetArchiveLink(
			ctx, owner, repo, github.Tarball, &github.RepositoryContentGetOptions{Ref: sha}, 5,
		)
		if getErr != nil {
			return classifyGithubError(getErr, owner, repo, &sha)
		}
		link = url.String()
		return nil
	})
	return link, err
}

// withRetry retries transient failures up to cfg.RetryAttempts times with
// exponential backoff starting at cfg.RetryBaseBackoff, per spec §4.4/§7.
func (f *Fetcher) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.NewExponential(f.cfg.RetryBaseBackoff)
	backoff = retry.WithMaxRetries(uint64(f.cfg.RetryAttempts), backoff)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		return fn(ctx)
	})
}

func isAuthFailure(err error) bool {
	apmErr, ok := err.(*apmerr.Error)
	if !ok {
		return false
	}
	status, hasStatus := apmErr.Details["status"].(int)
	return hasStatus && (status == http.StatusUnauthorized || status == http.StatusNotFound)
}

func classifyGithubError(err error, owner, repo string, ref *string) error {
	if ghErr, ok := err.(*github.ErrorResponse); ok && ghErr.Response != nil {
		status := ghErr.Response.StatusCode
		details := map[string]any{"owner": owner, "repo": repo, "status": status, "ref": refLabel(ref)}
		switch status {
		case http.StatusNotFound:
			return apmerr.New(err, apmerr.RefNotFound, details)
		case http.StatusUnauthorized:
			return apmerr.New(err, apmerr.AuthRequired, details)
		case http.StatusTooManyRequests:
			return retry.RetryableError(apmerr.New(err, apmerr.NetworkError, details))
		default:
			if status >= 500 {
				return retry.RetryableError(apmerr.New(err, apmerr.NetworkError, details))
			}
			return apmerr.New(err, apmerr.NetworkError, details)
		}
	}
	return retry.RetryableError(apmerr.New(err, apmerr.NetworkError, map[string]any{"owner": owner, "repo": repo}))
}

func refLabel(ref *string) string {
	if ref == nil {
		return "<default>"
	}
	return *ref
}
