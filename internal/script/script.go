// Package script implements the C11 script-runner text transform: parsing
// repeated --param k=v flags, substituting ${input:<name>} placeholders into
// a manifest script's command string and the workflow body it references,
// and tokenizing the result for preview. Subprocess invocation itself stays
// a thin wrapper over the host OS (§1).
package script

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/afero"

	"github.com/apm-dev/apm/internal/apmerr"
	"github.com/apm-dev/apm/internal/manifest"
	"github.com/apm-dev/apm/internal/markdown"
)

// Params maps parameter names to their substitution values.
type Params map[string]string

var placeholderPattern = regexp.MustCompile(`\$\{input:([A-Za-z0-9_.-]+)\}`)

// ParseParams parses repeated "k=v" flag values into a Params map. A value
// may itself contain "="; only the first separates key from value.
func ParseParams(raw []string) (Params, error) {
	params := make(Params, len(raw))
	for _, entry := range raw {
		key, value, found := strings.Cut(entry, "=")
		if !found || key == "" {
			return nil, apmerr.New(
				fmt.Errorf("invalid --param %q, expected k=v", entry),
				apmerr.MissingParameter,
				map[string]any{"param": entry},
			)
		}
		params[key] = value
	}
	return params, nil
}

// Placeholders returns the unique ${input:<name>} names in text, in first
// occurrence order.
func Placeholders(text string) []string {
	seen := map[string]bool{}
	var names []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	return names
}

// Substitute replaces every ${input:<name>} in text with params[name]. Any
// placeholder without a provided value fails with MissingParameter naming
// the undefined parameters, sorted.
func Substitute(text string, params Params) (string, error) {
	var missing []string
	for _, name := range Placeholders(text) {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", apmerr.New(
			fmt.Errorf("undefined parameters: %s (pass --param <name>=<value>)", strings.Join(missing, ", ")),
			apmerr.MissingParameter,
			map[string]any{"parameters": missing},
		)
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		return params[name]
	}), nil
}

// Resolved is the pre-execution view of one manifest script after parameter
// substitution. It is pure data: nothing is written or executed here.
type Resolved struct {
	Name    string
	Command string   // substituted command string
	Argv    []string // Command split into argv-shaped tokens

	// WorkflowPath is the root-relative path of the *.prompt.md file the
	// command references, "" when the command references none.
	WorkflowPath string
	// WorkflowBody is the workflow's body after substitution.
	WorkflowBody string
	// WorkflowInputs are the parameter names the workflow's frontmatter
	// declares, in declaration order.
	WorkflowInputs []string
}

// CommandWith returns the substituted command string with the workflow file
// token replaced by path, for callers that execute a compiled copy of the
// workflow instead of the original.
func (r *Resolved) CommandWith(path string) string {
	if r.WorkflowPath == "" {
		return r.Command
	}
	return strings.Replace(r.Command, r.WorkflowPath, path, 1)
}

// Resolve looks script name up in m.Scripts, substitutes params into its
// command string and into the body of the workflow file the command
// references (the first token ending in ".prompt.md"; if that file does not
// exist under root, no workflow is attached and later tokens are not
// tried). Undefined placeholders in either text fail with MissingParameter.
func Resolve(fsys afero.Fs, root string, m *manifest.Manifest, name string, params Params) (*Resolved, error) {
	rawCommand, ok := m.Scripts[name]
	if !ok {
		available := make([]string, 0, len(m.Scripts))
		for s := range m.Scripts {
			available = append(available, s)
		}
		sort.Strings(available)
		return nil, apmerr.New(
			fmt.Errorf("no script %q in %s (available: %s)", name, manifestLabel(m), strings.Join(available, ", ")),
			apmerr.MalformedManifest,
			map[string]any{"script": name, "available": available},
		)
	}

	command, err := Substitute(rawCommand, params)
	if err != nil {
		return nil, err
	}
	resolved := &Resolved{Name: name, Command: command}

	tokens, err := shlex.Split(command)
	if err != nil {
		return nil, apmerr.New(
			fmt.Errorf("script %q command is not tokenizable: %w", name, err),
			apmerr.MalformedManifest,
			map[string]any{"script": name, "command": command},
		)
	}
	resolved.Argv = tokens

	workflowToken := findWorkflowToken(tokens)
	if workflowToken == "" {
		return resolved, nil
	}
	raw, err := afero.ReadFile(fsys, joinUnderRoot(root, workflowToken))
	if err != nil {
		// The command may name a workflow the executed CLI resolves on its
		// own; absence is not an error for the pre-execution transform.
		return resolved, nil
	}
	doc, err := markdown.Parse(string(raw))
	if err != nil {
		return nil, err
	}
	body, err := Substitute(doc.Body, params)
	if err != nil {
		return nil, err
	}
	resolved.WorkflowPath = workflowToken
	resolved.WorkflowBody = body
	resolved.WorkflowInputs = doc.StringListField("input")
	return resolved, nil
}

func findWorkflowToken(tokens []string) string {
	for _, t := range tokens {
		if strings.HasSuffix(t, ".prompt.md") {
			return t
		}
	}
	return ""
}

func joinUnderRoot(root, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(root, rel)
}

func manifestLabel(m *manifest.Manifest) string {
	if m.SourcePath != "" {
		return m.SourcePath
	}
	return "apm.yml"
}
