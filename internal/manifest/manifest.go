// Package manifest loads and validates the per-project apm.yml manifest
// (C10): scripts, dependency lists, and compilation configuration.
package manifest

// Dependencies groups the two kinds of dependency declarations a manifest
// may carry. MCP identifiers are opaque to the core (§3).
type Dependencies struct {
	APM []string `yaml:"apm" koanf:"apm"`
	MCP []string `yaml:"mcp" koanf:"mcp"`
}

// PlacementOverrides lets a manifest tune the optimizer's (C8) behavior.
type PlacementOverrides struct {
	Ignore        []string `yaml:"ignore,omitempty"`
	CleanOrphaned bool     `yaml:"clean_orphaned"`
}

// OptimizationWeights are the tunable weights from spec §4.8. Zero values
// are replaced by defaults at load time.
type OptimizationWeights struct {
	CoverageWeight  float64 `yaml:"coverage_weight" mapstructure:"coverage_weight"`
	PollutionWeight float64 `yaml:"pollution_weight" mapstructure:"pollution_weight"`
	LocalityWeight  float64 `yaml:"locality_weight" mapstructure:"locality_weight"`
	DepthPenalty    float64 `yaml:"depth_penalty" mapstructure:"depth_penalty"`
}

// CompilationConfig controls the C8/C9 compile pipeline.
type CompilationConfig struct {
	Output            string              `yaml:"output"`
	Chatmode          *string             `yaml:"chatmode,omitempty"`
	ResolveLinks      bool                `yaml:"resolve_links"`
	WithConstitution  bool                `yaml:"with_constitution"`
	ConstitutionPath  string              `yaml:"constitution_path"`
	Placement         PlacementOverrides  `yaml:"placement"`
	Optimization      OptimizationWeights `yaml:"optimization"`
}

// DefaultCompilationConfig mirrors §3's manifest defaults.
func DefaultCompilationConfig() *CompilationConfig {
	return &CompilationConfig{
		Output:           "AGENTS.md",
		Chatmode:         nil,
		ResolveLinks:     true,
		WithConstitution: true,
		ConstitutionPath: "memory/constitution.md",
		Placement: PlacementOverrides{
			Ignore:        nil,
			CleanOrphaned: true,
		},
		Optimization: OptimizationWeights{
			CoverageWeight:  1.0,
			PollutionWeight: 0.8,
			LocalityWeight:  0.3,
			DepthPenalty:    0.1,
		},
	}
}

// Manifest is the decoded, defaulted apm.yml.
type Manifest struct {
	Name         string             `yaml:"name"`
	Version      string             `yaml:"version"`
	Description  string             `yaml:"description,omitempty"`
	Author       string             `yaml:"author,omitempty"`
	Scripts      map[string]string  `yaml:"scripts,omitempty"`
	Dependencies Dependencies       `yaml:"dependencies,omitempty"`
	Compilation  *CompilationConfig `yaml:"compilation,omitempty"`

	// Extras preserves unknown top-level keys, ignored by the core (§4.10).
	Extras map[string]any `yaml:"-"`

	// SourcePath is the path or label the manifest was loaded or parsed
	// from (used in messages), empty for manifests built in memory.
	SourcePath string `yaml:"-"`
}
