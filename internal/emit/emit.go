// Package emit implements C9: rendering the placement map computed by C8
// into one AGENTS.md file per directory that received a placement (or that
// needs a root-level constitution/chatmode preamble), plus orphan cleanup.
package emit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/apm-dev/apm/internal/apmerr"
	"github.com/apm-dev/apm/internal/logger"
	"github.com/apm-dev/apm/internal/manifest"
	"github.com/apm-dev/apm/internal/optimize"
	"github.com/apm-dev/apm/internal/primitive"
)

const (
	constitutionBegin = "<!-- SPEC-KIT CONSTITUTION: BEGIN -->"
	constitutionEnd   = "<!-- SPEC-KIT CONSTITUTION: END -->"
)

// Options configures a single Emit invocation.
type Options struct {
	OutputName       string // e.g. "AGENTS.md"
	ResolveLinks     bool
	WithConstitution bool
	ConstitutionPath string // root-relative, e.g. "memory/constitution.md"
	ChatmodeName     string // empty means no chatmode injection
	CleanOrphaned    bool

	// Chatmodes is the discovered chatmode pool ChatmodeName is looked up
	// in; the placement map itself carries only instructions.
	Chatmodes []*primitive.Primitive
}

// FromManifest builds Options from a loaded manifest's compilation config,
// applying the CLI override flags named in spec §4.11.
func FromManifest(m *manifest.Manifest, outputOverride, chatmodeOverride *string, noLinks, dryRunConstitution *bool) Options {
	cfg := m.Compilation
	opts := Options{
		OutputName:       cfg.Output,
		ResolveLinks:     cfg.ResolveLinks,
		WithConstitution: cfg.WithConstitution,
		ConstitutionPath: cfg.ConstitutionPath,
		CleanOrphaned:    cfg.Placement.CleanOrphaned,
	}
	if cfg.Chatmode != nil {
		opts.ChatmodeName = *cfg.Chatmode
	}
	if outputOverride != nil && *outputOverride != "" {
		opts.OutputName = *outputOverride
	}
	if chatmodeOverride != nil && *chatmodeOverride != "" {
		opts.ChatmodeName = *chatmodeOverride
	}
	if noLinks != nil && *noLinks {
		opts.ResolveLinks = false
	}
	if dryRunConstitution != nil {
		opts.WithConstitution = *dryRunConstitution
	}
	return opts
}

// Written describes one emitted file, returned for --dry-run previews and
// for deterministic-output tests.
type Written struct {
	RelPath string // root-relative, forward-slash, directory/OutputName
	Content []byte
}

// Emit renders and writes one file per directory in result.ByDirectory, plus
// the root file alone when a constitution/chatmode preamble applies there
// with no instruction placements. It returns the set of files written (or,
// under dryRun, that would be written) and removes orphaned prior outputs
// when opts.CleanOrphaned is set.
func Emit(
	ctx context.Context,
	fsys afero.Fs,
	rootAbs string,
	result *optimize.Result,
	opts Options,
	dryRun bool,
) ([]Written, error) {
	log := logger.FromContext(ctx)

	var chatmode *primitive.Primitive
	if opts.ChatmodeName != "" {
		chatmode = findChatmode(opts.Chatmodes, opts.ChatmodeName)
	}

	var constitutionBlock, constitutionHash string
	if opts.WithConstitution {
		block, hash, err := buildConstitutionBlock(fsys, rootAbs, opts.ConstitutionPath)
		if err != nil {
			return nil, err
		}
		constitutionBlock, constitutionHash = block, hash
	}

	dirs := directoriesToEmit(result, constitutionBlock != "" || chatmode != nil)

	var out []Written
	for _, dir := range dirs {
		isRoot := dir == ""
		var buf bytes.Buffer
		if isRoot && constitutionBlock != "" {
			existing := readExistingBlock(fsys, filepath.Join(rootAbs, opts.OutputName), constitutionHash)
			if existing != "" {
				buf.WriteString(existing)
			} else {
				buf.WriteString(constitutionBlock)
			}
			buf.WriteString("\n\n")
		}
		if isRoot && chatmode != nil {
			buf.WriteString(chatmode.Body)
			buf.WriteString("\n\n")
		}
		entries := result.ByDirectory[dir]
		renderSections(&buf, entries, dir, rootAbs, opts.ResolveLinks)

		content := normalizeTrailingNewline(buf.Bytes())
		relPath := filepath.ToSlash(filepath.Join(dir, opts.OutputName))
		out = append(out, Written{RelPath: relPath, Content: content})
	}

	if dryRun {
		return out, nil
	}
	for _, w := range out {
		target := filepath.Join(rootAbs, filepath.FromSlash(w.RelPath))
		if err := writeAtomic(fsys, target, w.Content); err != nil {
			return nil, err
		}
		log.Debug("wrote AGENTS.md", "path", w.RelPath)
	}
	if opts.CleanOrphaned {
		if err := cleanOrphaned(fsys, rootAbs, opts.OutputName, out, log); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// directoriesToEmit returns the sorted set of directories that get a file:
// every directory in the placement map, plus root when a global preamble
// (constitution block or resolved chatmode) applies and root has no
// placements of its own.
func directoriesToEmit(result *optimize.Result, hasPreamble bool) []string {
	set := map[string]bool{}
	for dir := range result.ByDirectory {
		set[dir] = true
	}
	if hasPreamble {
		set[""] = true
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func findChatmode(chatmodes []*primitive.Primitive, name string) *primitive.Primitive {
	for _, c := range chatmodes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// renderSections groups entries by applyTo pattern (first-appearance order)
// and writes one "## Files matching `pattern`" section per group.
func renderSections(buf *bytes.Buffer, entries []optimize.Entry, dirRel, rootAbs string, resolveLinks bool) {
	var order []string
	bodies := map[string][]string{}
	for _, e := range entries {
		if _, ok := bodies[e.Pattern]; !ok {
			order = append(order, e.Pattern)
		}
		body := e.Instruction.Body
		if resolveLinks {
			body = resolveMarkdownLinks(body, e.Instruction, dirRel, rootAbs)
		}
		bodies[e.Pattern] = append(bodies[e.Pattern], body)
	}
	for i, pattern := range order {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(buf, "## Files matching `%s`\n\n", pattern)
		buf.WriteString(strings.Join(bodies[pattern], "\n\n"))
		buf.WriteString("\n")
	}
}

var mdLinkRe = regexp.MustCompile(`\[([^\]]*)\]\(([^)]+)\)`)

// resolveMarkdownLinks rewrites relative markdown links in body so they
// still resolve correctly from the emitted file's directory (dirRel),
// rather than from the instruction's own source directory.
func resolveMarkdownLinks(body string, instr *primitive.Primitive, dirRel, rootAbs string) string {
	sourceDirAbs := filepath.Join(instr.RootPath, filepath.Dir(filepath.FromSlash(instr.SourcePath)))
	targetDirAbs := filepath.Join(rootAbs, filepath.FromSlash(dirRel))
	return mdLinkRe.ReplaceAllStringFunc(body, func(match string) string {
		groups := mdLinkRe.FindStringSubmatch(match)
		text, link := groups[1], groups[2]
		if isExternalOrAnchor(link) {
			return match
		}
		linkAbs := filepath.Join(sourceDirAbs, filepath.FromSlash(link))
		rel, err := filepath.Rel(targetDirAbs, linkAbs)
		if err != nil {
			return match
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, ".") {
			rel = "./" + rel
		}
		return fmt.Sprintf("[%s](%s)", text, rel)
	})
}

func isExternalOrAnchor(link string) bool {
	return strings.Contains(link, "://") || strings.HasPrefix(link, "#") || strings.HasPrefix(link, "mailto:")
}

func buildConstitutionBlock(fsys afero.Fs, rootAbs, relPath string) (string, string, error) {
	path := filepath.Join(rootAbs, filepath.FromSlash(relPath))
	exists, err := afero.Exists(fsys, path)
	if err != nil {
		return "", "", apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": path})
	}
	if !exists {
		return "", "", nil
	}
	raw, err := afero.ReadFile(fsys, path)
	if err != nil {
		return "", "", apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": path})
	}
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])[:12]
	var b strings.Builder
	b.WriteString(constitutionBegin)
	b.WriteString("\n")
	fmt.Fprintf(&b, "hash: %s path: %s\n", hash, relPath)
	b.Write(raw)
	if !bytes.HasSuffix(raw, []byte("\n")) {
		b.WriteString("\n")
	}
	b.WriteString(constitutionEnd)
	return b.String(), hash, nil
}

// readExistingBlock returns the verbatim constitution block already present
// in path, if its recorded hash matches wantHash, to preserve byte-for-byte
// idempotence (spec §4.9/§8 invariant 5).
func readExistingBlock(fsys afero.Fs, path, wantHash string) string {
	raw, err := afero.ReadFile(fsys, path)
	if err != nil {
		return ""
	}
	start := bytes.Index(raw, []byte(constitutionBegin))
	end := bytes.Index(raw, []byte(constitutionEnd))
	if start == -1 || end == -1 || end < start {
		return ""
	}
	end += len(constitutionEnd)
	block := string(raw[start:end])
	if !strings.Contains(block, "hash: "+wantHash+" ") {
		return ""
	}
	return block
}

func normalizeTrailingNewline(b []byte) []byte {
	trimmed := bytes.TrimRight(b, "\n")
	return append(trimmed, '\n')
}

// writeAtomic writes content to a sibling tempfile, fsyncs it, then renames
// it over target (spec §4.9 step 6).
func writeAtomic(fsys afero.Fs, target string, content []byte) error {
	dir := filepath.Dir(target)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": dir})
	}
	tmp := target + ".tmp"
	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": tmp})
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": tmp})
	}
	if syncer, ok := f.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
	if err := f.Close(); err != nil {
		return apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": tmp})
	}
	if err := fsys.Rename(tmp, target); err != nil {
		return apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": target})
	}
	return nil
}

// cleanOrphaned removes any existing OutputName file below root that isn't
// in the current placement set (spec §3 lifecycle rule).
func cleanOrphaned(fsys afero.Fs, rootAbs, outputName string, written []Written, log logger.Logger) error {
	wanted := map[string]bool{}
	for _, w := range written {
		wanted[filepath.Join(rootAbs, filepath.FromSlash(w.RelPath))] = true
	}
	var toRemove []string
	err := afero.Walk(fsys, rootAbs, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			name := info.Name()
			if name == "apm_modules" || name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Name() != outputName {
			return nil
		}
		if !wanted[path] {
			toRemove = append(toRemove, path)
		}
		return nil
	})
	if err != nil {
		return apmerr.New(err, apmerr.MissingManifest, map[string]any{"root": rootAbs})
	}
	sort.Strings(toRemove)
	for _, path := range toRemove {
		if err := fsys.Remove(path); err != nil {
			return apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": path})
		}
		log.Info("removed orphaned AGENTS.md", "path", path)
	}
	return nil
}
