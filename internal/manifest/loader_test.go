package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("Should parse a minimal manifest and fill compilation defaults", func(t *testing.T) {
		raw := []byte("name: my-project\nversion: 1.0.0\n")

		m, warnings, err := Parse(raw, "apm.yml")

		require.NoError(t, err)
		assert.Empty(t, warnings)
		assert.Equal(t, "my-project", m.Name)
		assert.Equal(t, "AGENTS.md", m.Compilation.Output)
		assert.True(t, m.Compilation.ResolveLinks)
	})

	t.Run("Should merge user compilation overrides onto defaults", func(t *testing.T) {
		raw := []byte(`
name: my-project
version: 1.0.0
compilation:
  output: CONTEXT.md
  resolve_links: false
`)

		m, _, err := Parse(raw, "apm.yml")

		require.NoError(t, err)
		assert.Equal(t, "CONTEXT.md", m.Compilation.Output)
		assert.False(t, m.Compilation.ResolveLinks)
		// Unset overrides keep their default.
		assert.True(t, m.Compilation.Placement.CleanOrphaned)
	})

	t.Run("Should parse dependency lists", func(t *testing.T) {
		raw := []byte(`
name: my-project
version: 1.0.0
dependencies:
  apm:
    - org/context-pack#v1.2.0
  mcp:
    - ghcr.io/example/server
`)

		m, _, err := Parse(raw, "apm.yml")

		require.NoError(t, err)
		assert.Equal(t, []string{"org/context-pack#v1.2.0"}, m.Dependencies.APM)
		assert.Equal(t, []string{"ghcr.io/example/server"}, m.Dependencies.MCP)
	})

	t.Run("Should fail with MalformedManifest when name is missing", func(t *testing.T) {
		raw := []byte("version: 1.0.0\n")

		_, _, err := Parse(raw, "apm.yml")

		require.Error(t, err)
	})

	t.Run("Should fail with MalformedManifest on invalid YAML", func(t *testing.T) {
		raw := []byte("name: [unterminated\n")

		_, _, err := Parse(raw, "apm.yml")

		require.Error(t, err)
	})

	t.Run("Should preserve unknown top-level keys as extras", func(t *testing.T) {
		raw := []byte("name: my-project\nversion: 1.0.0\ncustom_field: hello\n")

		m, _, err := Parse(raw, "apm.yml")

		require.NoError(t, err)
		assert.Equal(t, "hello", m.Extras["custom_field"])
	})
}
