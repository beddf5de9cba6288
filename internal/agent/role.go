// Package agent defines the pipeline roles and the capabilities that play them.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/TobiSchelling/ImpactStory/internal/llm"
)

// Role is one of the fixed pipeline roles.
type Role string

const (
	RoleInternalData Role = "internal_data_agent"
	RoleResearch     Role = "research_agent"
	RoleSynthesis    Role = "synthesis_agent"
	RoleValidation   Role = "validation_agent"
	RoleOrchestrator Role = "orchestrator"
)

// Roles lists every role in pipeline order.
var Roles = []Role{RoleInternalData, RoleResearch, RoleSynthesis, RoleValidation, RoleOrchestrator}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

// Tool is a function a capability may call while generating. Call never
// fails: missing data and backend errors come back as text for the model.
type Tool interface {
	Declaration() llm.FunctionDecl
	Call(ctx context.Context, args map[string]any) string
}

// ToolFunc adapts a function to the Tool interface.
type ToolFunc struct {
	Decl llm.FunctionDecl
	Fn   func(ctx context.Context, args map[string]any) string
}

func (t ToolFunc) Declaration() llm.FunctionDecl { return t.Decl }

func (t ToolFunc) Call(ctx context.Context, args map[string]any) string { return t.Fn(ctx, args) }

// StringArg returns a string argument, or "" when absent or not a string.
func StringArg(args map[string]any, name string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}

// ErrToolsWithSchema is returned for a descriptor that both binds tools and
// declares an output schema. The generation substrate cannot do both.
var ErrToolsWithSchema = errors.New("tool bindings and an output schema are mutually exclusive")

// Descriptor is the immutable definition of one role instance.
type Descriptor struct {
	Role        Role
	Name        string
	Description string
	Instruction string
	Tools       []Tool
	// Grounded enables the backend's built-in web search.
	Grounded bool
	Schema   *llm.Schema
}

// Validate checks the descriptor invariants.
func (d Descriptor) Validate() error {
	if !d.Role.Valid() {
		return fmt.Errorf("unknown role %q", d.Role)
	}
	if d.Name == "" {
		return fmt.Errorf("%s: name is required", d.Role)
	}
	if d.Instruction == "" {
		return fmt.Errorf("%s: instruction is required", d.Role)
	}
	if (len(d.Tools) > 0 || d.Grounded) && d.Schema != nil {
		return fmt.Errorf("%s: %w", d.Name, ErrToolsWithSchema)
	}
	seen := make(map[string]bool, len(d.Tools))
	for _, t := range d.Tools {
		name := t.Declaration().Name
		if name == "" || seen[name] {
			return fmt.Errorf("%s: tool names must be unique and non-empty", d.Name)
		}
		seen[name] = true
	}
	return nil
}

func (d Descriptor) declarations() []llm.FunctionDecl {
	decls := make([]llm.FunctionDecl, 0, len(d.Tools))
	for _, t := range d.Tools {
		decls = append(decls, t.Declaration())
	}
	return decls
}

func (d Descriptor) tool(name string) (Tool, bool) {
	for _, t := range d.Tools {
		if t.Declaration().Name == name {
			return t, true
		}
	}
	return nil, false
}
