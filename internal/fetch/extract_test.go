package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtractTarGz(t *testing.T) {
	t.Run("Should strip the top-level prefix directory", func(t *testing.T) {
		data := buildTarGz(t, map[string]string{
			"acme-ctx-abc123/apm.yml":               "name: ctx\nversion: 1.0.0\n",
			"acme-ctx-abc123/.apm/a.instructions.md": "body",
		})
		destDir := t.TempDir()

		err := extractTarGz(data, destDir)

		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(destDir, "apm.yml"))
		assert.FileExists(t, filepath.Join(destDir, ".apm", "a.instructions.md"))
	})

	t.Run("Should fail on an archive with zero files", func(t *testing.T) {
		data := buildTarGz(t, map[string]string{})
		destDir := t.TempDir()

		err := extractTarGz(data, destDir)

		require.Error(t, err)
	})

	t.Run("Should fail on a corrupt gzip stream", func(t *testing.T) {
		destDir := t.TempDir()

		err := extractTarGz([]byte("not gzip"), destDir)

		require.Error(t, err)
	})
}

func TestVerifyExtractedPackage(t *testing.T) {
	t.Run("Should require an apm.yml at the extraction root", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))

		err := verifyExtractedPackage(dir)

		require.Error(t, err)
	})

	t.Run("Should pass when apm.yml is present", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "apm.yml"), []byte("name: x\nversion: 1.0.0\n"), 0o644))

		err := verifyExtractedPackage(dir)

		require.NoError(t, err)
	})
}
