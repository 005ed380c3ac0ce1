package primitive

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/apm-dev/apm/internal/apmerr"
	"github.com/apm-dev/apm/internal/logger"
	"github.com/apm-dev/apm/internal/markdown"
)

type suffixRule struct {
	suffix string
	kind   Kind
}

// suffixRules map file-name suffixes to kinds. No suffix ends another, so
// their order does not matter; a file matching none (such as a plain ".md")
// is not a primitive.
var suffixRules = []suffixRule{
	{".chatmode.md", KindChatmode},
	{".instructions.md", KindInstruction},
	{".context.md", KindContext},
	{".memory.md", KindContext},
	{".prompt.md", KindWorkflow},
}

func classify(name string) (Kind, bool) {
	for _, rule := range suffixRules {
		if strings.HasSuffix(name, rule.suffix) {
			return rule.kind, true
		}
	}
	return 0, false
}

// baseName strips the kind suffix, so "helper.chatmode.md" names the
// primitive "helper". A frontmatter name field takes precedence.
func baseName(fileName string) string {
	for _, rule := range suffixRules {
		if strings.HasSuffix(fileName, rule.suffix) {
			return strings.TrimSuffix(fileName, rule.suffix)
		}
	}
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// Discover walks root (on fsys) classifying and parsing every recognized
// primitive file. A single malformed file never aborts discovery: warnings
// accumulate and the walk continues. The returned error is non-nil only
// when root itself cannot be walked.
func Discover(fsys afero.Fs, root string, log logger.Logger) (*Collection, []*apmerr.Error, error) {
	if log == nil {
		log = logger.FromContext(context.Background())
	}
	collection := NewCollection()
	var warnings []*apmerr.Error

	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			if path == root {
				return nil
			}
			name := info.Name()
			if strings.HasPrefix(name, ".") && name != ".apm" && name != ".github" {
				return filepath.SkipDir
			}
			// apm_modules is scanned as a set of separate per-dependency roots
			// (one Discover call per package), never as part of a local walk.
			if name == "apm_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		kind, ok := classify(info.Name())
		if !ok {
			return nil
		}
		raw, readErr := afero.ReadFile(fsys, path)
		if readErr != nil {
			warnings = append(warnings, apmerr.New(readErr, apmerr.ValidationWarning, map[string]any{
				"path": path,
			}))
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		doc, parseErr := markdown.Parse(string(raw))
		if parseErr != nil {
			warnings = append(warnings, apmerr.New(parseErr, apmerr.ValidationWarning, map[string]any{
				"path": path,
			}))
			return nil
		}
		p, valid, reason := toPrimitive(kind, doc, rel, root)
		if !valid {
			log.Warn("skipping invalid primitive", "path", path, "kind", kind.String(), "reason", reason)
			warnings = append(warnings, apmerr.New(nil, apmerr.ValidationWarning, map[string]any{
				"path":   path,
				"kind":   kind.String(),
				"reason": reason,
			}))
			return nil
		}
		*collection.listFor(kind) = append(*collection.listFor(kind), p)
		return nil
	})
	if err != nil {
		return nil, warnings, apmerr.New(err, apmerr.MissingManifest, map[string]any{"root": root})
	}
	collection.Sort()
	return collection, warnings, nil
}

// toPrimitive validates and builds a Primitive for the given kind, following
// the per-kind rules of spec §4.2.
func toPrimitive(kind Kind, doc *markdown.Document, relPath, root string) (*Primitive, bool, string) {
	name := doc.StringField("name")
	if name == "" {
		name = baseName(filepath.Base(relPath))
	}
	p := &Primitive{
		Kind:        kind,
		Name:        name,
		Description: doc.StringField("description"),
		ApplyTo:     doc.StringField("applyTo"),
		Author:      doc.StringField("author"),
		Version:     doc.StringField("version"),
		Mode:        doc.StringField("mode"),
		Input:       doc.StringListField("input"),
		MCP:         doc.StringListField("mcp"),
		Body:        doc.Body,
		SourcePath:  relPath,
		RootPath:    root,
	}
	body := strings.TrimSpace(doc.Body)
	switch kind {
	case KindChatmode:
		if p.Description == "" {
			return nil, false, "missing description"
		}
		if body == "" {
			return nil, false, "empty body"
		}
	case KindInstruction:
		if p.Description == "" {
			return nil, false, "missing description"
		}
		if p.ApplyTo == "" {
			return nil, false, "missing applyTo"
		}
		if body == "" {
			return nil, false, "empty body"
		}
	case KindContext:
		if body == "" {
			return nil, false, "empty body"
		}
	case KindWorkflow:
		if body == "" {
			return nil, false, "empty body"
		}
	}
	return p, true, ""
}
