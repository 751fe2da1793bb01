package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/restflow/engine/pkg/models"
)

// argValidator compiles each registered tool's parameters schema once and
// validates incoming tool-call arguments against it before execution (§4.2
// argument preprocessing, §11 domain stack). A schema that fails to compile
// (a tool author's bug, not a caller's) is treated as "no schema" rather
// than failing every call to that tool.
type argValidator struct {
	mu       sync.Mutex
	registry *ToolRegistry
	compiled map[string]*jsonschema.Schema
	failed   map[string]bool
}

func newArgValidator(registry *ToolRegistry) *argValidator {
	return &argValidator{
		registry: registry,
		compiled: make(map[string]*jsonschema.Schema),
		failed:   make(map[string]bool),
	}
}

func (v *argValidator) schemaFor(name string) *jsonschema.Schema {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[name]; ok {
		return s
	}
	if v.failed[name] {
		return nil
	}

	tool, ok := v.registry.Get(name)
	if !ok {
		return nil
	}
	raw := tool.ParametersSchema()
	if len(raw) == 0 {
		v.failed[name] = true
		return nil
	}

	url := "mem://restflow/tools/" + name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		v.failed[name] = true
		return nil
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		v.failed[name] = true
		return nil
	}
	v.compiled[name] = schema
	return schema
}

// Validate checks call.Arguments against the tool's declared schema,
// returning nil when the tool has no usable schema (permissive by
// default) or when arguments are empty (treated as "{}").
func (v *argValidator) Validate(call models.ToolCall) error {
	schema := v.schemaFor(call.Name)
	if schema == nil {
		return nil
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("invalid arguments JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments do not match %s's parameter schema: %w", call.Name, err)
	}
	return nil
}
