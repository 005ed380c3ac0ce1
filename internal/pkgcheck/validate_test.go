package pkgcheck

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Run("Should accept a package with a manifest and a non-empty .apm tree", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/pkg/apm.yml", []byte("name: acme\nversion: 1.0.0\n"), 0o644))
		require.NoError(t, afero.WriteFile(fs, "/pkg/.apm/instructions/a.instructions.md", []byte("x"), 0o644))

		result, err := Validate(fs, "/pkg")

		require.NoError(t, err)
		assert.Equal(t, "acme", result.Manifest.Name)
	})

	t.Run("Should accept a package with only a root-level workflow", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/pkg/apm.yml", []byte("name: acme\nversion: 1.0.0\n"), 0o644))
		require.NoError(t, afero.WriteFile(fs, "/pkg/hello.prompt.md", []byte("hi"), 0o644))

		_, err := Validate(fs, "/pkg")

		require.NoError(t, err)
	})

	t.Run("Should fail with MissingManifest when apm.yml is absent", func(t *testing.T) {
		fs := afero.NewMemMapFs()

		_, err := Validate(fs, "/pkg")

		require.Error(t, err)
	})

	t.Run("Should fail with NotAnAPMPackage for an empty package", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/pkg/apm.yml", []byte("name: acme\nversion: 1.0.0\n"), 0o644))

		_, err := Validate(fs, "/pkg")

		require.Error(t, err)
	})
}
