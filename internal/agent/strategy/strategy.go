// Package strategy provides the pluggable execution-strategy seam named in
// SPEC_FULL.md §12, supplemented from the original implementation's
// agent/strategy/{mod,traits}.rs. The original names six strategies behind
// one trait but only ever implements ReAct — the rest are stubs whose
// `is_implemented()` returns false. This package carries the same shape at
// the same level of completeness: a factory that constructs a real
// Strategy for ReAct (a thin adapter around the executor §4.1 already
// describes) and returns a typed "not implemented" error for every other
// named type, so callers get a stable extension point without this repo
// inventing four unimplemented subsystems.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/restflow/engine/internal/agent"
	"github.com/restflow/engine/pkg/models"
)

// Type names one of the strategies the original catalogs. Only ReAct is
// backed by a real implementation; see Factory.Create.
type Type string

const (
	ReAct         Type = "react"
	PreAct        Type = "preact"
	Reflexion     Type = "reflexion"
	Hierarchical  Type = "hierarchical"
	Swarm         Type = "swarm"
	TreeOfThought Type = "tree_of_thought"
)

// ParseType maps a user-supplied string to a Type, accepting the original's
// alternate spellings ("pre-act", "tot", "tree-of-thought").
func ParseType(s string) (Type, error) {
	switch s {
	case "react":
		return ReAct, nil
	case "preact", "pre-act":
		return PreAct, nil
	case "reflexion":
		return Reflexion, nil
	case "hierarchical":
		return Hierarchical, nil
	case "swarm":
		return Swarm, nil
	case "tot", "tree-of-thought", "tree_of_thought":
		return TreeOfThought, nil
	default:
		return "", fmt.Errorf("strategy: unknown strategy %q", s)
	}
}

// Config is the strategy-agnostic configuration every Strategy accepts,
// trimmed from the original's StrategyConfig to the fields ReAct (the only
// implemented strategy) actually consumes. The per-strategy option fields
// the original carries (planner/executor model split, swarm pattern,
// branching factor, ...) have no implementation to configure here and are
// deliberately not reproduced as dead struct fields.
type Config struct {
	Goal          string
	SystemPrompt  string
	MaxIterations int
	ToolTimeout   time.Duration
}

// Result is the strategy-agnostic outcome every Strategy returns.
type Result struct {
	Success     bool
	Output      string
	Iterations  int
	TotalTokens int
	State       *models.AgentState
}

// Strategy is the unified interface every execution strategy implements
// (the original's `AgentStrategy` trait).
type Strategy interface {
	Name() string
	Description() string
	Execute(ctx context.Context, cfg Config) (Result, error)
}

// NotImplementedError is returned by Factory.Create for every Type besides
// ReAct, matching the original's `is_implemented()` status table.
type NotImplementedError struct {
	Type Type
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("strategy: %q is named but not implemented", e.Type)
}

// IsImplemented reports whether t has a real Strategy behind it — only
// ReAct does, matching AgentStrategyFactory::is_implemented in the original.
func IsImplemented(t Type) bool {
	return t == ReAct
}

// Factory constructs strategies backed by one shared executor.
type Factory struct {
	Executor *agent.Executor
}

// NewFactory binds a factory to the executor the ReAct strategy adapts.
func NewFactory(executor *agent.Executor) *Factory {
	return &Factory{Executor: executor}
}

// Create returns the Strategy for t, or a *NotImplementedError for every
// type other than ReAct.
func (f *Factory) Create(t Type) (Strategy, error) {
	if t == ReAct {
		return &reactStrategy{executor: f.Executor}, nil
	}
	return nil, &NotImplementedError{Type: t}
}

// Default returns the ReAct strategy, the original's AgentStrategyFactory::default.
func (f *Factory) Default() Strategy {
	s, _ := f.Create(ReAct)
	return s
}

// reactStrategy adapts the executor loop (§4.1) to the Strategy interface,
// the original's ReactStrategyAdapter.
type reactStrategy struct {
	executor *agent.Executor
}

func (s *reactStrategy) Name() string { return "ReAct" }

func (s *reactStrategy) Description() string {
	return "Reasoning + Acting loop: Think -> Act -> Observe -> Repeat"
}

func (s *reactStrategy) Execute(ctx context.Context, cfg Config) (Result, error) {
	runResult := s.executor.Run(ctx, agent.RunConfig{
		ExecutionID:   uuid.NewString(),
		Goal:          cfg.Goal,
		SystemPrompt:  cfg.SystemPrompt,
		MaxIterations: cfg.MaxIterations,
	})

	output := ""
	if runResult.Answer != nil {
		output = *runResult.Answer
	}
	return Result{
		Success:     runResult.Success,
		Output:      output,
		Iterations:  runResult.Iterations,
		TotalTokens: runResult.TotalTokens,
		State:       runResult.State,
	}, nil
}

var _ Strategy = (*reactStrategy)(nil)
