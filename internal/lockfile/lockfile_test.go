package lockfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalRoundTrip(t *testing.T) {
	t.Run("Should render sorted keys with 2-space indentation", func(t *testing.T) {
		l := New()
		ref := "v1"
		l.Set("acme/ctx", Entry{RefRequested: &ref, ResolvedSHA: "abcd1234", InstalledAt: "2026-07-29T00:00:00Z"})
		l.Set("acme/aaa", Entry{ResolvedSHA: "deadbeef", InstalledAt: "2026-07-29T00:00:00Z"})

		raw := l.Marshal()

		text := string(raw)
		assert.Contains(t, text, "\n  \"packages\": {")
		assert.Less(t, strings.Index(text, "\"acme/aaa\""), strings.Index(text, "\"acme/ctx\""))

		decoded, err := Load(raw)
		require.NoError(t, err)
		assert.Equal(t, "abcd1234", decoded.Packages["acme/ctx"].ResolvedSHA)
		require.NotNil(t, decoded.Packages["acme/ctx"].RefRequested)
		assert.Equal(t, "v1", *decoded.Packages["acme/ctx"].RefRequested)
		assert.Nil(t, decoded.Packages["acme/aaa"].RefRequested)
	})

	t.Run("Should tolerate empty input", func(t *testing.T) {
		l, err := Load(nil)
		require.NoError(t, err)
		assert.Empty(t, l.Packages)
	})

	t.Run("Should fail on malformed JSON", func(t *testing.T) {
		_, err := Load([]byte("not json"))
		require.Error(t, err)
	})

	t.Run("Should ignore unknown keys", func(t *testing.T) {
		l, err := Load([]byte(`{"packages":{"acme/x":{"resolved_sha":"sha","installed_at":"t","extra":"ignored"}}}`))
		require.NoError(t, err)
		assert.Equal(t, "sha", l.Packages["acme/x"].ResolvedSHA)
	})
}
