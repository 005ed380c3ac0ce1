package fetch

import (
	"archive/tar"
	"compress/gzip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/copy"

	"github.com/apm-dev/apm/internal/apmerr"
)

// extractTarGz decompresses and unpacks a gzip-compressed tar stream into
// destDir, stripping the provider's single top-level prefix directory so the
// archive's contents become destDir's immediate children (spec §4.4).
func extractTarGz(data []byte, destDir string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var prefix string
	wroteAny := false
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		name := header.Name
		if prefix == "" {
			prefix = topLevelDir(name)
		}
		rel := strings.TrimPrefix(name, prefix)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			continue
		}
		target := filepath.Join(destDir, rel)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(filepath.Separator)) {
			return apmerr.New(nil, apmerr.ArchiveCorrupt, map[string]any{"entry": name, "reason": "path escapes destination"})
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil { //nolint:gosec // archive size is bounded by the provider
				out.Close()
				return err
			}
			out.Close()
			wroteAny = true
		}
	}
	if !wroteAny {
		return apmerr.New(nil, apmerr.ArchiveCorrupt, map[string]any{"reason": "archive decompressed to zero files"})
	}
	return nil
}

func topLevelDir(name string) string {
	idx := strings.Index(name, "/")
	if idx == -1 {
		return name
	}
	return name[:idx]
}

// verifyExtractedPackage checks the integrity contract from spec §4.4: the
// extracted tree is non-empty and contains an apm.yml before it is allowed
// to be swapped into place.
func verifyExtractedPackage(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return apmerr.New(err, apmerr.ArchiveCorrupt, map[string]any{"dir": dir})
	}
	if len(entries) == 0 {
		return apmerr.New(nil, apmerr.ArchiveCorrupt, map[string]any{"dir": dir, "reason": "empty extraction"})
	}
	if _, err := os.Stat(filepath.Join(dir, "apm.yml")); err != nil {
		return apmerr.New(err, apmerr.NotAnAPMPackage, map[string]any{"dir": dir})
	}
	return nil
}

// atomicSwap renames tmpDir into targetPath. When the rename fails because
// the two paths live on different filesystems (EXDEV), it falls back to a
// recursive copy-then-remove using otiai10/copy.
func atomicSwap(tmpDir, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return apmerr.New(err, apmerr.NetworkError, map[string]any{"target": targetPath})
	}
	_ = os.RemoveAll(targetPath)
	if err := os.Rename(tmpDir, targetPath); err != nil {
		if errors.Is(err, os.ErrExist) || isCrossDevice(err) {
			if copyErr := copy.Copy(tmpDir, targetPath); copyErr != nil {
				return apmerr.New(copyErr, apmerr.NetworkError, map[string]any{"target": targetPath})
			}
			_ = os.RemoveAll(tmpDir)
			return nil
		}
		return apmerr.New(err, apmerr.NetworkError, map[string]any{"target": targetPath})
	}
	return nil
}

func isCrossDevice(err error) bool {
	return strings.Contains(err.Error(), "cross-device") || strings.Contains(err.Error(), "invalid cross-device link")
}
