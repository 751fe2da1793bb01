package main

import (
	"context"
	"encoding/json"

	"github.com/restflow/engine/internal/agent"
	"github.com/restflow/engine/pkg/models"
)

// addArgs is the parameter struct for the built-in "add" demo tool,
// reflected into its JSON Schema by agent.ReflectSchema.
type addArgs struct {
	A float64 `json:"a" jsonschema:"required"`
	B float64 `json:"b" jsonschema:"required"`
}

type addTool struct{}

func (addTool) Name() string        { return "add" }
func (addTool) Description() string { return "Add two numbers and return the sum." }
func (addTool) ParametersSchema() json.RawMessage {
	return agent.ReflectSchema(addArgs{})
}

func (addTool) Execute(ctx context.Context, raw json.RawMessage) (models.ToolOutput, error) {
	var args addArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return models.ToolOutput{Success: false, Error: err.Error(), ErrorCategory: models.ErrorInput}, nil
	}
	return models.ToolOutput{Success: true, Result: args.A + args.B}, nil
}

// echoArgs is the parameter struct for the built-in "echo" demo tool.
type echoArgs struct {
	Text string `json:"text" jsonschema:"required"`
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Return the given text unchanged." }
func (echoTool) ParametersSchema() json.RawMessage {
	return agent.ReflectSchema(echoArgs{})
}

func (echoTool) Execute(ctx context.Context, raw json.RawMessage) (models.ToolOutput, error) {
	var args echoArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return models.ToolOutput{Success: false, Error: err.Error(), ErrorCategory: models.ErrorInput}, nil
	}
	return models.ToolOutput{Success: true, Result: args.Text}, nil
}

// buildDemoRegistry wires the harness's in-tree demo tools. Concrete
// production tools (bash, web-search, ...) are out of scope for this
// engine (§1) and are never constructed here.
func buildDemoRegistry() *agent.ToolRegistry {
	reg := agent.NewToolRegistry()
	reg.Register(addTool{})
	reg.Register(echoTool{})
	return reg
}
