package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("Should parse frontmatter and body", func(t *testing.T) {
		raw := "---\nname: foo\napplyTo: \"**/*.go\"\n---\nHello body.\n"

		doc, err := Parse(raw)

		require.NoError(t, err)
		assert.Equal(t, "foo", doc.StringField("name"))
		assert.Equal(t, "**/*.go", doc.StringField("applyTo"))
		assert.Equal(t, "Hello body.\n", doc.Body)
	})

	t.Run("Should treat file without leading delimiter as pure body", func(t *testing.T) {
		raw := "# Just a heading\n\nNo frontmatter here.\n"

		doc, err := Parse(raw)

		require.NoError(t, err)
		assert.Empty(t, doc.Frontmatter)
		assert.Equal(t, raw, doc.Body)
	})

	t.Run("Should fail on malformed YAML frontmatter", func(t *testing.T) {
		raw := "---\nname: [unterminated\n---\nbody\n"

		_, err := Parse(raw)

		require.Error(t, err)
	})

	t.Run("Should treat unterminated delimiter as pure body", func(t *testing.T) {
		raw := "---\nname: foo\nno closing fence\n"

		doc, err := Parse(raw)

		require.NoError(t, err)
		assert.Empty(t, doc.Frontmatter)
		assert.Equal(t, raw, doc.Body)
	})

	t.Run("Should parse string list fields", func(t *testing.T) {
		raw := "---\ninput:\n  - name\n  - path\n---\nbody\n"

		doc, err := Parse(raw)

		require.NoError(t, err)
		assert.Equal(t, []string{"name", "path"}, doc.StringListField("input"))
	})
}
