package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/restflow/engine/internal/agent"
	"github.com/restflow/engine/internal/config"
	"github.com/restflow/engine/internal/history"
	"github.com/restflow/engine/pkg/models"
)

// scriptedLLM mirrors the executor package's own test double, grounded on
// the same original_source llm/mock_client.rs (SPEC_FULL.md §12).
type scriptedLLM struct {
	turns []agent.CompletionResponse
	idx   int
}

func (m *scriptedLLM) Provider() string        { return "mock" }
func (m *scriptedLLM) Model() string           { return "mock-model" }
func (m *scriptedLLM) SupportsStreaming() bool { return false }

func (m *scriptedLLM) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.CompletionResponse, error) {
	resp := m.turns[m.idx]
	m.idx++
	return &resp, nil
}

func (m *scriptedLLM) CompleteStream(ctx context.Context, req agent.CompletionRequest) (<-chan agent.StreamChunk, <-chan error) {
	ch := make(chan agent.StreamChunk)
	errCh := make(chan error, 1)
	close(ch)
	errCh <- nil
	close(errCh)
	return ch, errCh
}

func newTestExecutor(llm agent.LlmClient) *agent.Executor {
	engineCfg := config.DefaultEngineConfig()
	toolsCfg := config.DefaultToolExecutionConfig()
	toolsCfg.Timeout = 2 * time.Second
	registry := agent.NewToolRegistry()
	return agent.NewExecutor(llm, registry, history.NewPipeline(), agent.NullEmitter{}, engineCfg, toolsCfg, nil)
}

func TestParseType(t *testing.T) {
	cases := map[string]Type{
		"react":           ReAct,
		"preact":          PreAct,
		"pre-act":         PreAct,
		"reflexion":       Reflexion,
		"hierarchical":    Hierarchical,
		"swarm":           Swarm,
		"tot":             TreeOfThought,
		"tree-of-thought": TreeOfThought,
	}
	for in, want := range cases {
		got, err := ParseType(in)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseType(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseType("bogus"); err == nil {
		t.Fatal("expected an error for an unknown strategy name")
	}
}

func TestFactory_CreateReActExecutesLoop(t *testing.T) {
	llm := &scriptedLLM{turns: []agent.CompletionResponse{
		{Content: "42", FinishReason: agent.FinishStop},
	}}
	f := NewFactory(newTestExecutor(llm))

	strat, err := f.Create(ReAct)
	if err != nil {
		t.Fatalf("Create(ReAct): %v", err)
	}
	if strat.Name() != "ReAct" {
		t.Fatalf("expected name ReAct, got %q", strat.Name())
	}

	result, err := strat.Execute(context.Background(), Config{Goal: "what is the answer"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.Output != "42" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.State.Status.Kind != models.StatusCompleted {
		t.Fatalf("expected Completed status, got %v", result.State.Status)
	}
}

func TestFactory_CreateUnimplementedStrategiesReturnTypedError(t *testing.T) {
	f := NewFactory(newTestExecutor(&scriptedLLM{}))

	for _, typ := range []Type{PreAct, Reflexion, Hierarchical, Swarm, TreeOfThought} {
		_, err := f.Create(typ)
		if err == nil {
			t.Fatalf("expected %q to be unimplemented", typ)
		}
		var niErr *NotImplementedError
		if !asNotImplemented(err, &niErr) {
			t.Fatalf("expected a *NotImplementedError for %q, got %T: %v", typ, err, err)
		}
		if niErr.Type != typ {
			t.Fatalf("expected error to name %q, got %q", typ, niErr.Type)
		}
		if IsImplemented(typ) {
			t.Fatalf("IsImplemented(%q) should be false", typ)
		}
	}

	if !IsImplemented(ReAct) {
		t.Fatal("IsImplemented(ReAct) should be true")
	}
}

func asNotImplemented(err error, target **NotImplementedError) bool {
	if ni, ok := err.(*NotImplementedError); ok {
		*target = ni
		return true
	}
	return false
}

func TestFactory_DefaultIsReAct(t *testing.T) {
	f := NewFactory(newTestExecutor(&scriptedLLM{turns: []agent.CompletionResponse{
		{Content: "ok", FinishReason: agent.FinishStop},
	}}))
	if f.Default().Name() != "ReAct" {
		t.Fatalf("expected Default() to be ReAct, got %q", f.Default().Name())
	}
}
