package manifest

import (
	"fmt"

	"dario.cat/mergo"
	"github.com/Masterminds/semver/v3"
	"github.com/goccy/go-yaml"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/mohae/deepcopy"
	"github.com/spf13/afero"

	"github.com/apm-dev/apm/internal/apmerr"
)

var validate = validator.New()

// rawManifest captures the known top-level shape for struct validation; the
// `remain` field harvests everything else into Extras per §4.10.
type rawManifest struct {
	Name         string            `mapstructure:"name" validate:"required"`
	Version      string            `mapstructure:"version" validate:"required"`
	Description  string            `mapstructure:"description"`
	Author       string            `mapstructure:"author"`
	Scripts      map[string]string `mapstructure:"scripts"`
	Dependencies struct {
		APM []string `mapstructure:"apm"`
		MCP []string `mapstructure:"mcp"`
	} `mapstructure:"dependencies"`
	Compilation map[string]any `mapstructure:"compilation"`
	Extras      map[string]any `mapstructure:",remain"`
}

// Load reads and validates the apm.yml at path within fsys, filling in
// compilation defaults and reporting non-fatal ValidationWarnings (e.g. a
// semver-looking-but-invalid version) alongside the decoded Manifest.
func Load(fsys afero.Fs, path string) (*Manifest, []*apmerr.Error, error) {
	bytes, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, nil, apmerr.New(err, apmerr.MissingManifest, map[string]any{"path": path})
	}
	return Parse(bytes, path)
}

// Parse decodes raw apm.yml bytes into a defaulted Manifest. sourcePath is
// recorded on the result and used only for error messages.
func Parse(raw []byte, sourcePath string) (*Manifest, []*apmerr.Error, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, nil, apmerr.New(err, apmerr.MalformedManifest, map[string]any{
			"path":   sourcePath,
			"reason": "apm.yml is not valid YAML",
		})
	}
	var rm rawManifest
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rm,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, nil, apmerr.New(err, apmerr.MalformedManifest, map[string]any{"path": sourcePath})
	}
	if err := decoder.Decode(generic); err != nil {
		return nil, nil, apmerr.New(err, apmerr.MalformedManifest, map[string]any{
			"path":   sourcePath,
			"reason": "apm.yml does not match the manifest schema",
		})
	}
	if err := validate.Struct(&rm); err != nil {
		field := firstOffendingField(err)
		return nil, nil, apmerr.New(err, apmerr.MalformedManifest, map[string]any{
			"path":  sourcePath,
			"field": field,
		})
	}

	var warnings []*apmerr.Error
	if _, verErr := semver.NewVersion(rm.Version); verErr != nil && looksSemverShaped(rm.Version) {
		warnings = append(warnings, apmerr.New(verErr, apmerr.ValidationWarning, map[string]any{
			"path":    sourcePath,
			"version": rm.Version,
		}))
	}

	compilation, err := defaultedCompilationConfig(rm.Compilation)
	if err != nil {
		return nil, nil, apmerr.New(err, apmerr.MalformedManifest, map[string]any{
			"path":   sourcePath,
			"reason": "invalid compilation configuration",
		})
	}

	m := &Manifest{
		Name:        rm.Name,
		Version:     rm.Version,
		Description: rm.Description,
		Author:      rm.Author,
		Scripts:     rm.Scripts,
		Dependencies: Dependencies{
			APM: rm.Dependencies.APM,
			MCP: rm.Dependencies.MCP,
		},
		Compilation: compilation,
		Extras:      rm.Extras,
		SourcePath:  sourcePath,
	}
	return m, warnings, nil
}

// rawCompilation is the decode target for the manifest's compilation block.
// Booleans and the chatmode are pointers so an explicit false/null can be
// told apart from an absent key, which a zero-value merge cannot.
type rawCompilation struct {
	Output           string  `mapstructure:"output"`
	Chatmode         *string `mapstructure:"chatmode"`
	ResolveLinks     *bool   `mapstructure:"resolve_links"`
	WithConstitution *bool   `mapstructure:"with_constitution"`
	ConstitutionPath string  `mapstructure:"constitution_path"`
	Placement        struct {
		Ignore        []string `mapstructure:"ignore"`
		CleanOrphaned *bool    `mapstructure:"clean_orphaned"`
	} `mapstructure:"placement"`
	Optimization OptimizationWeights `mapstructure:"optimization"`
}

// defaultedCompilationConfig deep-copies the package defaults and merges the
// user-supplied overrides on top, appending (not replacing) slice fields,
// per the DOMAIN STACK's mergo+deepcopy wiring.
func defaultedCompilationConfig(userOverrides map[string]any) (*CompilationConfig, error) {
	defaultsCopy, ok := deepcopy.Copy(DefaultCompilationConfig()).(*CompilationConfig)
	if !ok {
		return nil, fmt.Errorf("failed to deep-copy default compilation config")
	}
	if len(userOverrides) == 0 {
		return defaultsCopy, nil
	}
	var raw rawCompilation
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &raw,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(userOverrides); err != nil {
		return nil, err
	}
	overlay := &CompilationConfig{
		Output:           raw.Output,
		ConstitutionPath: raw.ConstitutionPath,
		Placement:        PlacementOverrides{Ignore: raw.Placement.Ignore},
		Optimization:     raw.Optimization,
	}
	if err := mergo.Merge(defaultsCopy, overlay, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return nil, fmt.Errorf("failed to merge compilation config: %w", err)
	}
	if raw.Chatmode != nil {
		defaultsCopy.Chatmode = raw.Chatmode
	}
	if raw.ResolveLinks != nil {
		defaultsCopy.ResolveLinks = *raw.ResolveLinks
	}
	if raw.WithConstitution != nil {
		defaultsCopy.WithConstitution = *raw.WithConstitution
	}
	if raw.Placement.CleanOrphaned != nil {
		defaultsCopy.Placement.CleanOrphaned = *raw.Placement.CleanOrphaned
	}
	return defaultsCopy, nil
}

func looksSemverShaped(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if (r < '0' || r > '9') && r != '.' {
			return true
		}
	}
	return false
}

func firstOffendingField(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return ""
	}
	return verrs[0].Namespace()
}
