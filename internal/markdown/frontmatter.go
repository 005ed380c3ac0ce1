// Package markdown implements the frontmatter parsing and glob matching
// primitives shared by primitive discovery (C2) and the context optimizer
// (C8).
package markdown

import (
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/apm-dev/apm/internal/apmerr"
)

const delimiter = "---"

// Document is a parsed Markdown-with-frontmatter file.
type Document struct {
	Frontmatter map[string]any
	Body        string
}

// Parse splits raw into a frontmatter map and body. A file without a
// leading "---" line has empty frontmatter and the full, untouched body.
// The body is the input with the "---"-delimited prefix removed; the only
// other change is that one blank line directly after the closing
// delimiter, if present, is dropped too.
func Parse(raw string) (*Document, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r") != delimiter {
		return &Document{Frontmatter: map[string]any{}, Body: raw}, nil
	}
	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r") == delimiter {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		// No closing delimiter: treat the whole file as body, no frontmatter.
		return &Document{Frontmatter: map[string]any{}, Body: raw}, nil
	}
	yamlBlock := strings.Join(lines[1:closeIdx], "\n")
	body := strings.Join(lines[closeIdx+1:], "\n")
	body = strings.TrimPrefix(body, "\n")

	fm := map[string]any{}
	if strings.TrimSpace(yamlBlock) != "" {
		if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
			return nil, apmerr.New(err, apmerr.MalformedManifest, map[string]any{
				"reason": "frontmatter is not valid YAML",
			})
		}
	}
	return &Document{Frontmatter: fm, Body: body}, nil
}

// StringField reads a string-valued frontmatter key, returning "" when
// absent or not a string.
func (d *Document) StringField(key string) string {
	v, ok := d.Frontmatter[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// StringListField reads a []string-valued frontmatter key (YAML sequences
// decode as []any), returning nil when absent.
func (d *Document) StringListField(key string) []string {
	v, ok := d.Frontmatter[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
