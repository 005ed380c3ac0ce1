package fetch

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/google/go-github/v74/github"

	"github.com/apm-dev/apm/internal/apmerr"
	"github.com/apm-dev/apm/internal/logger"
	"github.com/apm-dev/apm/internal/manifest"
)

// ResolveManifest implements depgraph.ManifestResolver: it resolves ref to a
// commit and fetches just that commit's apm.yml via the contents API,
// avoiding a full archive download during graph construction (spec §4.6
// step 2). When the contents API can't serve a single file (e.g. some
// self-hosted mirrors), it falls back to a full archive fetch into a
// scratch directory and reads apm.yml from there.
func (f *Fetcher) ResolveManifest(
	ctx context.Context, owner, repo string, ref *string,
) (*manifest.Manifest, string, error) {
	log := logger.FromContext(ctx)
	sha, err := f.ResolveRef(ctx, owner, repo, ref)
	if err != nil {
		return nil, "", err
	}

	raw, err := f.fetchManifestFile(ctx, f.unauth, owner, repo, sha)
	if err != nil && isAuthFailure(err) {
		if authed := f.authedClient(); authed != nil {
			raw, err = f.fetchManifestFile(ctx, authed, owner, repo, sha)
		}
	}
	if err != nil {
		log.Debug("metadata-only manifest fetch unavailable, falling back to full archive",
			"owner", owner, "repo", repo, "reason", err.Error())
		raw, err = f.fetchManifestViaFullArchive(ctx, owner, repo, sha)
		if err != nil {
			return nil, "", err
		}
	}

	m, _, parseErr := manifest.Parse(raw, owner+"/"+repo+"#"+sha+"/apm.yml")
	if parseErr != nil {
		return nil, "", parseErr
	}
	return m, sha, nil
}

func (f *Fetcher) fetchManifestFile(
	ctx context.Context, client *github.Client, owner, repo, sha string,
) ([]byte, error) {
	content, _, _, err := client.Repositories.GetContents(
		ctx, owner, repo, "apm.yml", &github.RepositoryContentGetOptions{Ref: sha},
	)
	if err != nil {
		return nil, classifyGithubError(err, owner, repo, &sha)
	}
	if content == nil {
		return nil, apmerr.New(nil, apmerr.MissingManifest, map[string]any{"owner": owner, "repo": repo})
	}
	if content.Content != nil {
		decoded, decErr := base64.StdEncoding.DecodeString(*content.Content)
		if decErr == nil {
			return decoded, nil
		}
	}
	text, err := content.GetContent()
	if err != nil {
		return nil, apmerr.New(err, apmerr.MalformedManifest, map[string]any{"owner": owner, "repo": repo})
	}
	return []byte(text), nil
}

func (f *Fetcher) fetchManifestViaFullArchive(ctx context.Context, owner, repo, sha string) ([]byte, error) {
	tmpDir, err := os.MkdirTemp(os.TempDir(), "apm-manifest-probe-")
	if err != nil {
		return nil, apmerr.New(err, apmerr.NetworkError, map[string]any{"owner": owner, "repo": repo})
	}
	defer os.RemoveAll(tmpDir)
	scratch := filepath.Join(tmpDir, "extracted")
	if err := f.FetchArchive(ctx, owner, repo, sha, scratch); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(scratch, "apm.yml"))
	if err != nil {
		return nil, apmerr.New(err, apmerr.MissingManifest, map[string]any{"owner": owner, "repo": repo})
	}
	return raw, nil
}
