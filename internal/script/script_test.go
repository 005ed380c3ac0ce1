package script

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apm-dev/apm/internal/apmerr"
	"github.com/apm-dev/apm/internal/manifest"
)

func TestParseParams(t *testing.T) {
	t.Run("Should parse repeated k=v entries", func(t *testing.T) {
		params, err := ParseParams([]string{"name=world", "tone=formal"})

		require.NoError(t, err)
		assert.Equal(t, Params{"name": "world", "tone": "formal"}, params)
	})

	t.Run("Should keep '=' inside the value", func(t *testing.T) {
		params, err := ParseParams([]string{"query=a=b"})

		require.NoError(t, err)
		assert.Equal(t, "a=b", params["query"])
	})

	t.Run("Should fail with MissingParameter on a malformed entry", func(t *testing.T) {
		_, err := ParseParams([]string{"no-equals-sign"})

		var apmErr *apmerr.Error
		require.True(t, errors.As(err, &apmErr))
		assert.Equal(t, apmerr.MissingParameter, apmErr.Code)
	})
}

func TestSubstitute(t *testing.T) {
	t.Run("Should replace every placeholder occurrence", func(t *testing.T) {
		out, err := Substitute("Say hello to ${input:name}, again ${input:name}.", Params{"name": "world"})

		require.NoError(t, err)
		assert.Equal(t, "Say hello to world, again world.", out)
	})

	t.Run("Should leave text without placeholders untouched", func(t *testing.T) {
		out, err := Substitute("plain text $HOME ${not_input}", nil)

		require.NoError(t, err)
		assert.Equal(t, "plain text $HOME ${not_input}", out)
	})

	t.Run("Should fail with MissingParameter naming undefined parameters sorted", func(t *testing.T) {
		_, err := Substitute("${input:zeta} ${input:alpha}", Params{})

		var apmErr *apmerr.Error
		require.True(t, errors.As(err, &apmErr))
		assert.Equal(t, apmerr.MissingParameter, apmErr.Code)
		assert.Equal(t, []string{"alpha", "zeta"}, apmErr.Details["parameters"])
	})
}

func TestResolve(t *testing.T) {
	newFs := func(t *testing.T, files map[string]string) afero.Fs {
		t.Helper()
		fsys := afero.NewMemMapFs()
		for path, content := range files {
			require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
		}
		return fsys
	}
	m := &manifest.Manifest{
		Name:    "demo",
		Version: "1.0.0",
		Scripts: map[string]string{
			"start": "codex hello.prompt.md --flag ${input:flag}",
			"plain": "echo done",
		},
	}

	t.Run("Should substitute both the command and the workflow body", func(t *testing.T) {
		fsys := newFs(t, map[string]string{
			"/project/hello.prompt.md": "---\nname: hello\ninput:\n  - name\n  - flag\n---\n\nSay hello to ${input:name}.\n",
		})

		res, err := Resolve(fsys, "/project", m, "start", Params{"name": "world", "flag": "on"})

		require.NoError(t, err)
		assert.Equal(t, "codex hello.prompt.md --flag on", res.Command)
		assert.Equal(t, []string{"codex", "hello.prompt.md", "--flag", "on"}, res.Argv)
		assert.Equal(t, "hello.prompt.md", res.WorkflowPath)
		assert.Equal(t, "Say hello to world.\n", res.WorkflowBody)
		assert.Equal(t, []string{"name", "flag"}, res.WorkflowInputs)
	})

	t.Run("Should fail with MissingParameter when a workflow placeholder is undefined", func(t *testing.T) {
		fsys := newFs(t, map[string]string{
			"/project/hello.prompt.md": "---\nname: hello\n---\n\nSay hello to ${input:name}.\n",
		})

		_, err := Resolve(fsys, "/project", m, "start", Params{"flag": "on"})

		var apmErr *apmerr.Error
		require.True(t, errors.As(err, &apmErr))
		assert.Equal(t, apmerr.MissingParameter, apmErr.Code)
	})

	t.Run("Should resolve a command that references no workflow file", func(t *testing.T) {
		fsys := newFs(t, nil)

		res, err := Resolve(fsys, "/project", m, "plain", nil)

		require.NoError(t, err)
		assert.Equal(t, "echo done", res.Command)
		assert.Empty(t, res.WorkflowPath)
	})

	t.Run("Should tolerate a referenced workflow that does not exist on disk", func(t *testing.T) {
		fsys := newFs(t, nil)

		res, err := Resolve(fsys, "/project", m, "start", Params{"flag": "on"})

		require.NoError(t, err)
		assert.Equal(t, "codex hello.prompt.md --flag on", res.Command)
		assert.Empty(t, res.WorkflowPath)
	})

	t.Run("Should fail when the script is unknown, listing available scripts", func(t *testing.T) {
		fsys := newFs(t, nil)

		_, err := Resolve(fsys, "/project", m, "missing", nil)

		var apmErr *apmerr.Error
		require.True(t, errors.As(err, &apmErr))
		assert.Equal(t, apmerr.MalformedManifest, apmErr.Code)
		assert.Equal(t, []string{"plain", "start"}, apmErr.Details["available"])
	})

	t.Run("Should rewrite the workflow token via CommandWith", func(t *testing.T) {
		fsys := newFs(t, map[string]string{
			"/project/hello.prompt.md": "---\nname: hello\n---\n\nbody\n",
		})

		res, err := Resolve(fsys, "/project", m, "start", Params{"flag": "on"})

		require.NoError(t, err)
		assert.Equal(t, "codex .apm/compiled/hello.prompt.md --flag on", res.CommandWith(".apm/compiled/hello.prompt.md"))
	})
}
