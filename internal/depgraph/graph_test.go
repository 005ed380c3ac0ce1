package depgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apm-dev/apm/internal/logger"
	"github.com/apm-dev/apm/internal/manifest"
)

type fakeResolver struct {
	manifests map[string]*manifest.Manifest
	shas      map[string]string
}

func (f *fakeResolver) ResolveManifest(
	_ context.Context, owner, repo string, _ *string,
) (*manifest.Manifest, string, error) {
	key := owner + "/" + repo
	m, ok := f.manifests[key]
	if !ok {
		m = &manifest.Manifest{Name: repo, Version: "0.0.0"}
	}
	return m, f.shas[key], nil
}

func TestParseRef(t *testing.T) {
	t.Run("Should parse owner/repo without a ref", func(t *testing.T) {
		r, err := ParseRef("acme/ctx")
		require.NoError(t, err)
		assert.Equal(t, "acme", r.Owner)
		assert.Equal(t, "ctx", r.Repo)
		assert.Nil(t, r.Ref)
	})

	t.Run("Should parse owner/repo#ref", func(t *testing.T) {
		r, err := ParseRef("acme/ctx#v1.2.0")
		require.NoError(t, err)
		require.NotNil(t, r.Ref)
		assert.Equal(t, "v1.2.0", *r.Ref)
	})

	t.Run("Should fail on malformed reference", func(t *testing.T) {
		_, err := ParseRef("not-a-valid-ref")
		require.Error(t, err)
	})
}

func TestBuild(t *testing.T) {
	log := logger.NewLogger(logger.TestConfig())

	t.Run("Should build a simple one-level graph in leaves-first order", func(t *testing.T) {
		root := &manifest.Manifest{Name: "root", Dependencies: manifest.Dependencies{
			APM: []string{"acme/a", "acme/b"},
		}}
		resolver := &fakeResolver{
			manifests: map[string]*manifest.Manifest{},
			shas:      map[string]string{"acme/a": "sha-a", "acme/b": "sha-b"},
		}

		g, warnings, err := Build(context.Background(), root, resolver, NewLimits(10, 256), log)

		require.NoError(t, err)
		assert.Empty(t, warnings)
		assert.Len(t, g.InstallOrder, 2)
	})

	t.Run("Should detect a direct cycle", func(t *testing.T) {
		root := &manifest.Manifest{Name: "root", Dependencies: manifest.Dependencies{
			APM: []string{"acme/a"},
		}}
		resolver := &fakeResolver{
			manifests: map[string]*manifest.Manifest{
				"acme/a": {Name: "a", Dependencies: manifest.Dependencies{APM: []string{"acme/b"}}},
				"acme/b": {Name: "b", Dependencies: manifest.Dependencies{APM: []string{"acme/a"}}},
			},
			shas: map[string]string{"acme/a": "sha-a", "acme/b": "sha-b"},
		}

		_, _, err := Build(context.Background(), root, resolver, NewLimits(10, 256), log)

		require.Error(t, err)
	})

	t.Run("Should deduplicate a diamond dependency and warn on ref conflicts", func(t *testing.T) {
		verA := "v1"
		verB := "v2"
		root := &manifest.Manifest{Name: "root", Dependencies: manifest.Dependencies{
			APM: []string{"acme/a#" + verA, "acme/b"},
		}}
		resolver := &fakeResolver{
			manifests: map[string]*manifest.Manifest{
				"acme/a": {Name: "a", Dependencies: manifest.Dependencies{APM: []string{"acme/shared"}}},
				"acme/b": {Name: "b", Dependencies: manifest.Dependencies{APM: []string{"acme/shared#" + verB}}},
			},
			shas: map[string]string{"acme/a": "sha-a", "acme/b": "sha-b", "acme/shared": "sha-s"},
		}

		g, warnings, err := Build(context.Background(), root, resolver, NewLimits(10, 256), log)

		require.NoError(t, err)
		assert.Len(t, g.Nodes, 3)
		assert.NotEmpty(t, warnings)
	})

	t.Run("Should fail with DependencyExplosion past the depth limit", func(t *testing.T) {
		root := &manifest.Manifest{Name: "root", Dependencies: manifest.Dependencies{APM: []string{"acme/a"}}}
		resolver := &fakeResolver{
			manifests: map[string]*manifest.Manifest{
				"acme/a": {Name: "a", Dependencies: manifest.Dependencies{APM: []string{"acme/b"}}},
			},
			shas: map[string]string{"acme/a": "sha-a", "acme/b": "sha-b"},
		}

		_, _, err := Build(context.Background(), root, resolver, NewLimits(1, 256), log)

		require.Error(t, err)
	})
}
