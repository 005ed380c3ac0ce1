package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apm-dev/apm/internal/diranalysis"
	"github.com/apm-dev/apm/internal/logger"
	"github.com/apm-dev/apm/internal/primitive"
)

func analysisFromCounts(root string, counts map[string]int) map[string]*diranalysis.Info {
	out := map[string]*diranalysis.Info{}
	for dir, n := range counts {
		path := root
		if dir != "" {
			path = root + "/" + dir
		}
		depth := 0
		if dir != "" {
			depth = len(splitPath(dir))
		}
		out[path] = &diranalysis.Info{Path: path, Depth: depth, ImmediateFiles: n, RecursiveFiles: n}
	}
	return out
}

func splitPath(s string) []string {
	var parts []string
	cur := ""
	for _, r := range s {
		if r == '/' {
			parts = append(parts, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		parts = append(parts, cur)
	}
	return parts
}

func TestOptimize_SinglePoint(t *testing.T) {
	t.Run("Should place a docs-only instruction at the docs directory", func(t *testing.T) {
		files := []string{"docs/a.md", "docs/b.md", "src/main.py"}
		analysis := analysisFromCounts("/proj", map[string]int{"": 0, "docs": 2, "src": 1})
		instr := &primitive.Primitive{Kind: primitive.KindInstruction, Name: "docs-style", ApplyTo: "docs/**/*.md", Body: "Use present tense."}

		result, err := Optimize([]*primitive.Primitive{instr}, files, analysis, "/proj", DefaultWeights(), logger.NewLogger(logger.TestConfig()))

		require.NoError(t, err)
		require.Len(t, result.Metrics, 1)
		assert.Equal(t, SinglePoint, result.Metrics[0].Strategy)
		assert.Equal(t, []string{"docs"}, result.Metrics[0].Directories)
		assert.Contains(t, result.ByDirectory, "docs")
		assert.NotContains(t, result.ByDirectory, "")
	})
}

func TestOptimize_Distributed(t *testing.T) {
	t.Run("Should place a widely-spread pattern at root", func(t *testing.T) {
		files := []string{"src/a.py", "lib/b.py", "tools/c.py", "scripts/d.py"}
		analysis := analysisFromCounts("/proj", map[string]int{
			"": 0, "src": 1, "lib": 1, "tools": 1, "scripts": 1,
		})
		instr := &primitive.Primitive{Kind: primitive.KindInstruction, Name: "py-style", ApplyTo: "**/*.py", Body: "Use type hints."}

		result, err := Optimize([]*primitive.Primitive{instr}, files, analysis, "/proj", DefaultWeights(), logger.NewLogger(logger.TestConfig()))

		require.NoError(t, err)
		assert.Equal(t, Distributed, result.Metrics[0].Strategy)
		assert.Equal(t, []string{""}, result.Metrics[0].Directories)
		assert.Contains(t, result.ByDirectory, "")
	})
}

func TestOptimize_SelectiveMulti(t *testing.T) {
	t.Run("Should place at the two component directories, not root", func(t *testing.T) {
		files := []string{"frontend/components/x.tsx", "src/components/y.tsx", "src/utils/z.ts", "docs/readme.md"}
		analysis := map[string]*diranalysis.Info{
			"/proj":                     {Path: "/proj", Depth: 0, ImmediateFiles: 0, RecursiveFiles: 4},
			"/proj/frontend":            {Path: "/proj/frontend", Depth: 1, ImmediateFiles: 0, RecursiveFiles: 1},
			"/proj/frontend/components": {Path: "/proj/frontend/components", Depth: 2, ImmediateFiles: 1, RecursiveFiles: 1},
			"/proj/src":                 {Path: "/proj/src", Depth: 1, ImmediateFiles: 0, RecursiveFiles: 2},
			"/proj/src/components":      {Path: "/proj/src/components", Depth: 2, ImmediateFiles: 1, RecursiveFiles: 1},
			"/proj/src/utils":           {Path: "/proj/src/utils", Depth: 2, ImmediateFiles: 1, RecursiveFiles: 1},
			"/proj/docs":                {Path: "/proj/docs", Depth: 1, ImmediateFiles: 1, RecursiveFiles: 1},
		}
		instr := &primitive.Primitive{Kind: primitive.KindInstruction, Name: "tsx-style", ApplyTo: "**/*.tsx", Body: "Use hooks."}

		result, err := Optimize([]*primitive.Primitive{instr}, files, analysis, "/proj", DefaultWeights(), logger.NewLogger(logger.TestConfig()))

		require.NoError(t, err)
		assert.Equal(t, SelectiveMulti, result.Metrics[0].Strategy)
		assert.Equal(t, []string{"frontend/components", "src/components"}, result.Metrics[0].Directories)
		assert.NotContains(t, result.ByDirectory, "")
		assert.Equal(t, 0, result.Metrics[0].PollutionEstimate)
	})
}

func TestOptimize_NoMatches(t *testing.T) {
	t.Run("Should produce no placements for a pattern matching zero files", func(t *testing.T) {
		files := []string{"src/main.py"}
		analysis := analysisFromCounts("/proj", map[string]int{"": 0, "src": 1})
		instr := &primitive.Primitive{Kind: primitive.KindInstruction, Name: "rust-style", ApplyTo: "**/*.rs", Body: "x"}

		result, err := Optimize([]*primitive.Primitive{instr}, files, analysis, "/proj", DefaultWeights(), logger.NewLogger(logger.TestConfig()))

		require.NoError(t, err)
		assert.Empty(t, result.Metrics[0].Directories)
		assert.Empty(t, result.ByDirectory)
	})
}

func TestLowestCommonAncestor(t *testing.T) {
	t.Run("Should return root for directories with no common prefix", func(t *testing.T) {
		assert.Equal(t, "", lowestCommonAncestor([]string{"frontend/components", "src/components"}))
	})

	t.Run("Should return the shared prefix", func(t *testing.T) {
		assert.Equal(t, "docs", lowestCommonAncestor([]string{"docs/a", "docs/b"}))
	})
}
