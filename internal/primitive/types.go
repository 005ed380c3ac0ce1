// Package primitive discovers, parses, and validates the four kinds of
// typed Markdown-with-frontmatter primitives (C2): chatmodes, instructions,
// contexts, and workflows.
package primitive

// Kind tags which of the four primitive variants a value is.
type Kind int

const (
	KindChatmode Kind = iota
	KindInstruction
	KindContext
	KindWorkflow
)

func (k Kind) String() string {
	switch k {
	case KindChatmode:
		return "chatmode"
	case KindInstruction:
		return "instruction"
	case KindContext:
		return "context"
	case KindWorkflow:
		return "workflow"
	default:
		return "unknown"
	}
}

// Primitive is a single discovered primitive, regardless of kind. Fields
// that don't apply to a kind are left at their zero value (e.g. Context has
// no ApplyTo).
type Primitive struct {
	Kind        Kind
	Name        string
	Description string
	ApplyTo     string   // Chatmode (optional), Instruction (required)
	Author      string   // Chatmode, Instruction
	Version     string   // Chatmode, Instruction
	Mode        string   // Workflow
	Input       []string // Workflow, ordered parameter names
	MCP         []string // Workflow
	Body        string
	SourcePath  string // path relative to the root it was discovered under
	RootPath    string // absolute path of the discovery root
}

// IsLocal reports whether the primitive was discovered under the project's
// own .apm/ tree rather than a dependency's.
func (p *Primitive) IsLocal(projectRoot string) bool {
	return p.RootPath == projectRoot
}
