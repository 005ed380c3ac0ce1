package markdown

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/apm-dev/apm/internal/apmerr"
)

// CompileGlob validates pattern against the POSIX + "**" semantics mandated
// by spec §4.1, expanding a slash-free pattern to match at any depth
// (equivalent to "**/<pattern>").
func CompileGlob(pattern string) (string, error) {
	normalized := path.Clean(strings.ReplaceAll(pattern, "\\", "/"))
	if normalized == "." {
		normalized = pattern
	}
	if !doublestar.ValidatePattern(normalized) {
		return "", apmerr.New(nil, apmerr.InvalidGlob, map[string]any{"pattern": pattern})
	}
	if !strings.Contains(normalized, "/") {
		normalized = "**/" + normalized
	}
	return normalized, nil
}

// MatchGlob reports whether relPath (forward-slash, project-root-relative)
// matches pattern. pattern must already be CompileGlob-validated; MatchGlob
// re-validates defensively and returns InvalidGlob on malformed patterns.
func MatchGlob(pattern, relPath string) (bool, error) {
	compiled, err := CompileGlob(pattern)
	if err != nil {
		return false, err
	}
	relPath = strings.ReplaceAll(relPath, "\\", "/")
	relPath = strings.TrimPrefix(relPath, "/")
	ok, err := doublestar.Match(compiled, relPath)
	if err != nil {
		return false, apmerr.New(err, apmerr.InvalidGlob, map[string]any{"pattern": pattern})
	}
	return ok, nil
}
