package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/restflow/engine/internal/tools/policy"
	"github.com/restflow/engine/pkg/models"
)

// Tool is the minimal capability set a concrete tool implementation exposes
// to the engine (§6). Concrete tools (bash, web-search, ...) are out of
// scope; this engine only consumes the interface.
type Tool interface {
	Name() string
	Description() string
	// ParametersSchema returns the JSON Schema describing this tool's
	// arguments. ReflectSchema is the usual way to produce one from a Go
	// struct.
	ParametersSchema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (models.ToolOutput, error)
}

// ReflectSchema reflects a Go struct type into a JSON Schema document,
// the shape ToolRegistry.schemas() sends to the LLM client. Pass a zero
// value or nil pointer of the parameter struct type.
func ReflectSchema(params any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := r.Reflect(params)
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// ToolRegistry holds every tool available to one executor loop, keyed by
// name. It is treated as an immutable shared handle for the lifetime of an
// execution (§5).
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns the ToolSchema for every registered tool, the shape sent
// to the LLM client on every CompletionRequest.
func (r *ToolRegistry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.ParametersSchema(),
		})
	}
	return schemas
}

// Filtered returns a new registry containing only the tools named or
// referenced (via a "group:..." entry or a "prefix*" pattern) in allowed,
// for handing a restricted tool set to a spawned subagent (§4.6). resolver
// expands groups and resolves aliases to canonical tool names before
// matching; a nil resolver falls back to a fresh one seeded with the
// built-in groups. An empty or nil allowed list returns every tool.
func (r *ToolRegistry) Filtered(allowed []string, resolver *policy.Resolver) *ToolRegistry {
	if len(allowed) == 0 {
		return r
	}
	if resolver == nil {
		resolver = policy.NewResolver()
	}

	expanded := resolver.ExpandGroups(allowed)
	patterns := make([]string, 0, len(expanded))
	exact := make(map[string]bool, len(expanded))
	for _, name := range expanded {
		if len(name) > 1 && name[len(name)-1] == '*' {
			patterns = append(patterns, name)
			continue
		}
		exact[name] = true
	}

	out := NewToolRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, tool := range r.tools {
		canonical := resolver.CanonicalName(name)
		if exact[canonical] || exact[name] {
			out.Register(tool)
			continue
		}
		for _, p := range patterns {
			if matchToolPattern([]string{p}, canonical) {
				out.Register(tool)
				break
			}
		}
	}
	return out
}

// ExecuteSafe runs the named tool, converting an unknown-tool lookup and
// any panic inside Execute into a ToolOutput error rather than letting it
// propagate (§6: "execute_safe is responsible for catching panics ... and
// for enforcing 'unknown tool' errors").
func (r *ToolRegistry) ExecuteSafe(ctx context.Context, name string, args json.RawMessage) (out models.ToolOutput, err error) {
	tool, ok := r.Get(name)
	if !ok {
		return models.ToolOutput{}, NewToolError(name, ErrToolNotFound).WithType(ToolErrorNotFound)
	}

	defer func() {
		if rec := recover(); rec != nil {
			stack := debug.Stack()
			err = NewToolError(name, fmt.Errorf("panic: %v\n%s", rec, stack)).WithType(ToolErrorPanic)
			out = models.ToolOutput{}
		}
	}()

	return tool.Execute(ctx, args)
}
