package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchGlob(t *testing.T) {
	t.Run("Should match slash-free pattern at any depth", func(t *testing.T) {
		ok, err := MatchGlob("*.md", "docs/nested/a.md")

		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Should match recursive double-star patterns", func(t *testing.T) {
		ok, err := MatchGlob("docs/**/*.md", "docs/a/b/c.md")

		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Should not match files outside the pattern's scope", func(t *testing.T) {
		ok, err := MatchGlob("docs/**/*.md", "src/main.py")

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should be case-sensitive", func(t *testing.T) {
		ok, err := MatchGlob("**/*.MD", "docs/a.md")

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should reject unbalanced brackets as InvalidGlob", func(t *testing.T) {
		_, err := MatchGlob("**/[abc", "docs/a.md")

		require.Error(t, err)
	})
}
