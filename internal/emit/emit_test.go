package emit

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apm-dev/apm/internal/optimize"
	"github.com/apm-dev/apm/internal/primitive"
)

func mustInstruction(name, applyTo, body string) *primitive.Primitive {
	return &primitive.Primitive{
		Kind: primitive.KindInstruction, Name: name, ApplyTo: applyTo, Body: body,
		SourcePath: name + ".instructions.md", RootPath: "/proj",
	}
}

func TestEmitSinglePoint(t *testing.T) {
	t.Run("Should emit one AGENTS.md at docs/ with one section", func(t *testing.T) {
		instr := mustInstruction("tense", "docs/**/*.md", "Use present tense.")
		result := &optimize.Result{ByDirectory: map[string][]optimize.Entry{
			"docs": {{Pattern: "docs/**/*.md", Instruction: instr}},
		}}
		fsys := afero.NewMemMapFs()
		out, err := Emit(context.Background(), fsys, "/proj", result, Options{OutputName: "AGENTS.md"}, false)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "docs/AGENTS.md", out[0].RelPath)
		assert.Contains(t, string(out[0].Content), "## Files matching `docs/**/*.md`")
		assert.Contains(t, string(out[0].Content), "Use present tense.")

		exists, _ := afero.Exists(fsys, "/proj/docs/AGENTS.md")
		assert.True(t, exists)
		rootExists, _ := afero.Exists(fsys, "/proj/AGENTS.md")
		assert.False(t, rootExists)
	})
}

func TestEmitConstitutionRoundTrip(t *testing.T) {
	t.Run("Should prepend a hash-tagged constitution block and stay idempotent", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fsys, "/proj/memory/constitution.md", []byte("Principles: be kind.\n"), 0o644))
		instr := mustInstruction("root-rule", "**/*.py", "Write tests.")
		result := &optimize.Result{ByDirectory: map[string][]optimize.Entry{
			"": {{Pattern: "**/*.py", Instruction: instr}},
		}}
		opts := Options{OutputName: "AGENTS.md", WithConstitution: true, ConstitutionPath: "memory/constitution.md"}

		out1, err := Emit(context.Background(), fsys, "/proj", result, opts, false)
		require.NoError(t, err)
		require.Len(t, out1, 1)
		content1 := string(out1[0].Content)
		assert.Contains(t, content1, "<!-- SPEC-KIT CONSTITUTION: BEGIN -->")
		lines := splitLines(content1)
		require.GreaterOrEqual(t, len(lines), 2)
		assert.Contains(t, lines[1], "hash: ")
		assert.Contains(t, lines[1], "path: memory/constitution.md")

		out2, err := Emit(context.Background(), fsys, "/proj", result, opts, false)
		require.NoError(t, err)
		assert.Equal(t, out1[0].Content, out2[0].Content)
	})
}

func TestEmitChatmode(t *testing.T) {
	t.Run("Should prepend the named chatmode body to the root file only", func(t *testing.T) {
		chatmode := &primitive.Primitive{
			Kind: primitive.KindChatmode, Name: "helper", Description: "A helper mode.",
			Body: "You are a careful reviewer.", SourcePath: "helper.chatmode.md", RootPath: "/proj",
		}
		instr := mustInstruction("root-rule", "**/*.py", "Write tests.")
		docsInstr := mustInstruction("docs-rule", "docs/**/*.md", "Use present tense.")
		result := &optimize.Result{ByDirectory: map[string][]optimize.Entry{
			"":     {{Pattern: "**/*.py", Instruction: instr}},
			"docs": {{Pattern: "docs/**/*.md", Instruction: docsInstr}},
		}}
		fsys := afero.NewMemMapFs()
		opts := Options{OutputName: "AGENTS.md", ChatmodeName: "helper", Chatmodes: []*primitive.Primitive{chatmode}}

		out, err := Emit(context.Background(), fsys, "/proj", result, opts, false)

		require.NoError(t, err)
		require.Len(t, out, 2)
		var root, docs string
		for _, w := range out {
			if w.RelPath == "AGENTS.md" {
				root = string(w.Content)
			} else {
				docs = string(w.Content)
			}
		}
		assert.True(t, len(root) > 0 && len(docs) > 0)
		assert.Contains(t, root, "You are a careful reviewer.")
		assert.Less(t, strings.Index(root, "You are a careful reviewer."), strings.Index(root, "## Files matching"))
		assert.NotContains(t, docs, "You are a careful reviewer.")
	})
}

func TestEmitCleanOrphaned(t *testing.T) {
	t.Run("Should delete AGENTS.md files no longer in the placement map", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fsys, "/proj/old/AGENTS.md", []byte("stale\n"), 0o644))
		instr := mustInstruction("r", "src/**/*.go", "Body.")
		result := &optimize.Result{ByDirectory: map[string][]optimize.Entry{
			"src": {{Pattern: "src/**/*.go", Instruction: instr}},
		}}
		_, err := Emit(context.Background(), fsys, "/proj", result, Options{OutputName: "AGENTS.md", CleanOrphaned: true}, false)
		require.NoError(t, err)

		exists, _ := afero.Exists(fsys, "/proj/old/AGENTS.md")
		assert.False(t, exists)
		keep, _ := afero.Exists(fsys, "/proj/src/AGENTS.md")
		assert.True(t, keep)
	})
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}
