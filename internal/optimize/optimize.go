// Package optimize implements C8, the context-optimization compiler: for
// each Instruction primitive, it decides where to emit AGENTS.md files so
// every matching source file inherits the instruction through directory
// ancestry, while minimizing irrelevant "context pollution".
package optimize

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apm-dev/apm/internal/diranalysis"
	"github.com/apm-dev/apm/internal/logger"
	"github.com/apm-dev/apm/internal/primitive"
)

// Strategy tags which of the three tiers (plus the escalation fallback)
// produced a given placement set.
type Strategy string

const (
	SinglePoint    Strategy = "SinglePoint"
	SelectiveMulti Strategy = "SelectiveMulti"
	Distributed    Strategy = "Distributed"
	RootFallback   Strategy = "RootFallback"
)

// Weights are the tunable objective weights from spec §4.8. Optimize
// accepts them, but placement does not read them: coverage is enforced as a
// hard constraint, and SelectiveMulti ties are broken by pollution, then
// depth, then path, with no weighted score (see DESIGN.md).
type Weights struct {
	Coverage     float64
	Pollution    float64
	Locality     float64
	DepthPenalty float64
}

// DefaultWeights mirrors the calibrated defaults named in spec §4.8.
func DefaultWeights() Weights {
	return Weights{Coverage: 1.0, Pollution: 0.8, Locality: 0.3, DepthPenalty: 0.1}
}

// InstructionMetric reports the per-instruction outcome of placement.
type InstructionMetric struct {
	Instruction       *primitive.Primitive
	Pattern           string
	Strategy          Strategy
	DistributionScore float64
	CoverageRatio     float64
	PollutionEstimate int
	Directories       []string // sorted, relative to root ("" denotes root)
}

// Entry is one (pattern, instruction) placed at a directory.
type Entry struct {
	Pattern     string
	Instruction *primitive.Primitive
}

// Result is the full placement map plus per-instruction metrics.
type Result struct {
	ByDirectory map[string][]Entry // key: directory relative to root ("" = root)
	Metrics     []InstructionMetric
}

// relInfo is directory analysis reindexed by root-relative, forward-slash
// path ("" denotes the project root).
type relInfo struct {
	depth          map[string]int
	recursiveFiles map[string]int
}

// Optimize computes placements for every instruction against the project's
// files (root-relative, forward-slash paths) and the directory analysis
// produced by C7.
func Optimize(
	instructions []*primitive.Primitive,
	files []string,
	analysis map[string]*diranalysis.Info,
	rootAbs string,
	weights Weights,
	log logger.Logger,
) (*Result, error) {
	if log == nil {
		log = logger.FromContext(context.Background())
	}
	cache, err := newMatchCache()
	if err != nil {
		return nil, err
	}
	defer cache.close()

	ri := buildRelInfo(analysis, rootAbs)
	totalDirsWithFiles := countDirsWithFiles(analysis)

	result := &Result{ByDirectory: map[string][]Entry{}}
	sortedFiles := append([]string{}, files...)
	sort.Strings(sortedFiles)

	for _, instr := range instructions {
		metric, err := placeOne(instr, sortedFiles, ri, totalDirsWithFiles, cache, weights, log)
		if err != nil {
			return nil, err
		}
		result.Metrics = append(result.Metrics, metric)
		for _, dir := range metric.Directories {
			result.ByDirectory[dir] = append(result.ByDirectory[dir], Entry{Pattern: metric.Pattern, Instruction: instr})
		}
	}
	return result, nil
}

func buildRelInfo(analysis map[string]*diranalysis.Info, rootAbs string) *relInfo {
	ri := &relInfo{depth: map[string]int{"": 0}, recursiveFiles: map[string]int{}}
	for abs, info := range analysis {
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			rel = ""
		}
		ri.depth[rel] = info.Depth
		ri.recursiveFiles[rel] = info.RecursiveFiles
	}
	return ri
}

func countDirsWithFiles(analysis map[string]*diranalysis.Info) int {
	count := 0
	for _, info := range analysis {
		if info.ImmediateFiles > 0 {
			count++
		}
	}
	return count
}

func placeOne(
	instr *primitive.Primitive,
	sortedFiles []string,
	ri *relInfo,
	totalDirsWithFiles int,
	cache *matchCache,
	weights Weights,
	log logger.Logger,
) (InstructionMetric, error) {
	pattern := instr.ApplyTo
	var matchingFiles []string
	matchingDirSet := map[string]bool{}
	for _, f := range sortedFiles {
		ok, err := cache.match(pattern, f)
		if err != nil {
			return InstructionMetric{}, err
		}
		if ok {
			matchingFiles = append(matchingFiles, f)
			matchingDirSet[relDir(f)] = true
		}
	}
	if len(matchingFiles) == 0 {
		return InstructionMetric{
			Instruction: instr, Pattern: pattern, Strategy: SinglePoint,
			CoverageRatio: 1.0, Directories: nil,
		}, nil
	}
	matchingDirs := sortedKeys(matchingDirSet)
	score := distributionScore(matchingDirs, ri.depth, totalDirsWithFiles)

	var placements []string
	var strategy Strategy
	switch {
	// A pattern confined to one directory is placed there unless its score
	// reaches the Distributed tier.
	case score < 0.3 || (len(matchingDirs) == 1 && score <= 0.7):
		strategy = SinglePoint
		placements = []string{lowestCommonAncestor(matchingDirs)}
	case score <= 0.7:
		strategy = SelectiveMulti
		placements = selectiveMulti(matchingFiles, matchingDirs, ri)
	default:
		strategy = Distributed
		placements = []string{""}
	}

	placements, strategy = verifyCoverage(placements, strategy, matchingFiles)
	sort.Strings(placements)
	pollution := pollutionEstimate(placements, matchingFiles, ri)

	log.Debug("placed instruction", "instruction", instr.Name, "pattern", pattern,
		"strategy", string(strategy), "distribution_score", score, "placements", placements)

	return InstructionMetric{
		Instruction:       instr,
		Pattern:           pattern,
		Strategy:          strategy,
		DistributionScore: score,
		CoverageRatio:     1.0,
		PollutionEstimate: pollution,
		Directories:       placements,
	}, nil
}

func relDir(relFilePath string) string {
	dir := filepath.ToSlash(filepath.Dir(relFilePath))
	if dir == "." {
		return ""
	}
	return dir
}

func distributionScore(matchingDirs []string, depth map[string]int, totalDirsWithFiles int) float64 {
	denom := totalDirsWithFiles
	if denom == 0 {
		denom = 1
	}
	baseRatio := float64(len(matchingDirs)) / float64(denom)

	var sumDepth float64
	for _, d := range matchingDirs {
		sumDepth += float64(depth[d])
	}
	meanDepth := sumDepth / float64(len(matchingDirs))

	var variance float64
	for _, d := range matchingDirs {
		diff := float64(depth[d]) - meanDepth
		variance += diff * diff
	}
	variance /= float64(len(matchingDirs))

	return baseRatio * (1.0 + variance*0.5)
}

// lowestCommonAncestor finds the LCA of a set of root-relative directory
// paths, comparing path components lexicographically for determinism.
func lowestCommonAncestor(dirs []string) string {
	if len(dirs) == 0 {
		return ""
	}
	common := pathComponents(dirs[0])
	for _, d := range dirs[1:] {
		common = commonPrefix(common, pathComponents(d))
	}
	return strings.Join(common, "/")
}

func pathComponents(dir string) []string {
	if dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}

func commonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// selectiveMulti greedily covers matchingFiles with a minimal set of
// directories, preferring the candidate that maximizes newly-covered files,
// tie-broken by minimum pollution (files under the candidate that don't
// match), then by depth (deeper wins, the locality objective), then by
// lexicographic path.
func selectiveMulti(matchingFiles, matchingDirs []string, ri *relInfo) []string {
	uncovered := map[string]bool{}
	for _, f := range matchingFiles {
		uncovered[f] = true
	}
	candidates := candidateDirectories(matchingDirs)
	var chosen []string
	for len(uncovered) > 0 {
		bestDir := ""
		bestCoverage := -1
		bestPollution := -1
		bestDepth := -1
		for _, cand := range candidates {
			coverage := 0
			for f := range uncovered {
				if isAncestor(cand, f) {
					coverage++
				}
			}
			if coverage == 0 {
				continue
			}
			pollution := candidatePollution(cand, matchingFiles, ri)
			depth := len(pathComponents(cand))
			better := coverage > bestCoverage ||
				(coverage == bestCoverage && pollution < bestPollution) ||
				(coverage == bestCoverage && pollution == bestPollution && depth > bestDepth) ||
				(coverage == bestCoverage && pollution == bestPollution && depth == bestDepth && (bestDir == "" || cand < bestDir))
			if bestCoverage == -1 || better {
				bestDir, bestCoverage, bestPollution, bestDepth = cand, coverage, pollution, depth
			}
		}
		if bestDir == "" {
			break
		}
		chosen = append(chosen, bestDir)
		for f := range uncovered {
			if isAncestor(bestDir, f) {
				delete(uncovered, f)
			}
		}
	}
	return chosen
}

// candidatePollution counts the files under dir's subtree that don't match
// the instruction's pattern: recursive_files(dir) minus the matching files
// it covers.
func candidatePollution(dir string, matchingFiles []string, ri *relInfo) int {
	matches := 0
	for _, f := range matchingFiles {
		if isAncestor(dir, f) {
			matches++
		}
	}
	return max(0, ri.recursiveFiles[dir]-matches)
}

// candidateDirectories returns each matching directory plus its ancestor
// chain up to (but excluding) root, since root is reserved for the
// Distributed tier and the escalation fallback.
func candidateDirectories(matchingDirs []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range matchingDirs {
		parts := pathComponents(d)
		for i := len(parts); i > 0; i-- {
			cand := strings.Join(parts[:i], "/")
			if !seen[cand] {
				seen[cand] = true
				out = append(out, cand)
			}
		}
	}
	sort.Strings(out)
	return out
}

// isAncestor reports whether dir is dir itself or an ancestor directory of
// the file at relFilePath. The root directory ("") is an ancestor of every
// file.
func isAncestor(dir, relFilePath string) bool {
	if dir == "" {
		return true
	}
	fileDir := relDir(relFilePath)
	return fileDir == dir || strings.HasPrefix(fileDir, dir+"/")
}

// pollutionEstimate sums, over the final placement set, the count of files
// that would inherit the instruction without matching its pattern:
// recursive_files(p) minus the matching files under p.
func pollutionEstimate(placements, matchingFiles []string, ri *relInfo) int {
	total := 0
	for _, p := range placements {
		matches := 0
		for _, f := range matchingFiles {
			if isAncestor(p, f) {
				matches++
			}
		}
		total += max(0, ri.recursiveFiles[p]-matches)
	}
	return total
}

// verifyCoverage re-checks every matching file against the chosen
// placements, escalating to the LCA of uncovered directories (joined with
// the current placements) when SelectiveMulti's greedy pass missed
// something, and collapsing to {root} with RootFallback if even the
// escalated LCA fails (which can only happen transiently, since root is an
// ancestor of every file and is always a valid final fallback).
func verifyCoverage(placements []string, strategy Strategy, matchingFiles []string) ([]string, Strategy) {
	uncovered := uncoveredFiles(placements, matchingFiles)
	if len(uncovered) == 0 {
		return placements, strategy
	}
	uncoveredDirs := map[string]bool{}
	for _, f := range uncovered {
		uncoveredDirs[relDir(f)] = true
	}
	for _, p := range placements {
		uncoveredDirs[p] = true
	}
	escalated := []string{lowestCommonAncestor(sortedKeys(uncoveredDirs))}
	if len(uncoveredFiles(escalated, matchingFiles)) == 0 {
		return escalated, strategy
	}
	return []string{""}, RootFallback
}

func uncoveredFiles(placements, matchingFiles []string) []string {
	var uncovered []string
	for _, f := range matchingFiles {
		ok := false
		for _, p := range placements {
			if isAncestor(p, f) {
				ok = true
				break
			}
		}
		if !ok {
			uncovered = append(uncovered, f)
		}
	}
	return uncovered
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
