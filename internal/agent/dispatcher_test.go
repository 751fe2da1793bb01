package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/restflow/engine/internal/config"
	"github.com/restflow/engine/pkg/models"
)

type funcTool struct {
	name string
	fn   func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error)
}

func (t *funcTool) Name() string                      { return t.name }
func (t *funcTool) Description() string                { return "test tool" }
func (t *funcTool) ParametersSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *funcTool) Execute(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
	return t.fn(ctx, args)
}

func newTestDispatcher(registry *ToolRegistry, cfg config.ToolExecutionConfig) *Dispatcher {
	return NewDispatcher(registry, NewChannelEmitter(64), cfg)
}

func TestDispatch_RespectsConcurrencyLimit(t *testing.T) {
	const maxConcurrency = 2
	const numCalls = 6

	var concurrent int32
	var maxSeen int32
	var mu sync.Mutex

	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "blocking",
		fn: func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
			cur := atomic.AddInt32(&concurrent, 1)
			mu.Lock()
			if cur > maxSeen {
				maxSeen = cur
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			return models.ToolOutput{Success: true, Result: "done"}, nil
		},
	})

	cfg := config.ToolExecutionConfig{Parallelism: maxConcurrency, Timeout: time.Second, MaxAttempts: 1}
	d := newTestDispatcher(registry, cfg)

	calls := make([]models.ToolCall, numCalls)
	for i := range calls {
		calls[i] = models.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "blocking", Arguments: json.RawMessage(`{}`)}
	}

	results := d.Dispatch(context.Background(), calls, "exec-1", 1, false)
	if len(results) != numCalls {
		t.Fatalf("got %d results, want %d", len(results), numCalls)
	}
	if maxSeen > maxConcurrency {
		t.Errorf("max concurrency was %d, want <= %d", maxSeen, maxConcurrency)
	}
	for _, r := range results {
		if !r.Output.Success {
			t.Errorf("call %s failed: %s", r.ID, r.Output.Error)
		}
	}
}

func TestDispatch_TimesOut(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "slow",
		fn: func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
			<-ctx.Done()
			return models.ToolOutput{Success: true, Result: "should not reach"}, nil
		},
	})

	cfg := config.ToolExecutionConfig{Parallelism: 4, Timeout: 50 * time.Millisecond, MaxAttempts: 1}
	d := newTestDispatcher(registry, cfg)

	calls := []models.ToolCall{{ID: "1", Name: "slow", Arguments: json.RawMessage(`{}`)}}

	start := time.Now()
	results := d.Dispatch(context.Background(), calls, "exec-1", 1, false)
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Errorf("took %v, expected to time out near 50ms", elapsed)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Output.Success {
		t.Error("expected timeout to fail the call")
	}
}

func TestDispatch_PreservesSubmissionOrder(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "variable",
		fn: func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
			var p struct {
				DelayMs int `json:"delay_ms"`
			}
			_ = json.Unmarshal(args, &p)
			time.Sleep(time.Duration(p.DelayMs) * time.Millisecond)
			return models.ToolOutput{Success: true, Result: p.DelayMs}, nil
		},
	})

	cfg := config.ToolExecutionConfig{Parallelism: 4, Timeout: time.Second, MaxAttempts: 1}
	d := newTestDispatcher(registry, cfg)

	calls := []models.ToolCall{
		{ID: "slow", Name: "variable", Arguments: json.RawMessage(`{"delay_ms":60}`)},
		{ID: "fast", Name: "variable", Arguments: json.RawMessage(`{"delay_ms":5}`)},
	}
	results := d.Dispatch(context.Background(), calls, "exec-1", 1, false)

	if results[0].ID != "slow" || results[1].ID != "fast" {
		t.Fatalf("expected submission order slow,fast got %s,%s", results[0].ID, results[1].ID)
	}
}

func TestDispatch_RetriesRetryableThenSucceeds(t *testing.T) {
	var attempts int32
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "flaky",
		fn: func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 2 {
				return models.ToolOutput{Success: false, Error: "temporary", Retryable: true, RetryAfterMs: 1}, nil
			}
			return models.ToolOutput{Success: true, Result: "ok"}, nil
		},
	})

	cfg := config.ToolExecutionConfig{Parallelism: 1, Timeout: time.Second, MaxAttempts: 3}
	d := newTestDispatcher(registry, cfg)

	calls := []models.ToolCall{{ID: "1", Name: "flaky", Arguments: json.RawMessage(`{}`)}}
	results := d.Dispatch(context.Background(), calls, "exec-1", 1, false)

	if !results[0].Output.Success {
		t.Fatalf("expected eventual success, got %+v", results[0].Output)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDispatch_PendingApprovalStopsRetry(t *testing.T) {
	var attempts int32
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "gated",
		fn: func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
			atomic.AddInt32(&attempts, 1)
			return models.ToolOutput{PendingApproval: true}, nil
		},
	})

	cfg := config.ToolExecutionConfig{Parallelism: 1, Timeout: time.Second, MaxAttempts: 3}
	d := newTestDispatcher(registry, cfg)

	calls := []models.ToolCall{{ID: "1", Name: "gated", Arguments: json.RawMessage(`{}`)}}
	results := d.Dispatch(context.Background(), calls, "exec-1", 1, false)

	if !results[0].Output.PendingApproval {
		t.Fatal("expected pending approval output")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", attempts)
	}
}

func TestDispatch_AuthErrorRewritesMessageAndStopsRetrying(t *testing.T) {
	var attempts int32
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "secured",
		fn: func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
			atomic.AddInt32(&attempts, 1)
			return models.ToolOutput{Success: false, Error: "missing API key", ErrorCategory: models.ErrorAuth}, nil
		},
	})

	cfg := config.ToolExecutionConfig{Parallelism: 1, Timeout: time.Second, MaxAttempts: 3}
	d := newTestDispatcher(registry, cfg)

	calls := []models.ToolCall{{ID: "1", Name: "secured", Arguments: json.RawMessage(`{}`)}}
	results := d.Dispatch(context.Background(), calls, "exec-1", 1, false)

	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected no retry for auth error, got %d attempts", attempts)
	}
	want := "Non-retryable error: missing API key. Try a different approach."
	if results[0].Output.Error != want {
		t.Fatalf("got error %q, want %q", results[0].Output.Error, want)
	}
}

func TestDispatch_UnknownToolProducesError(t *testing.T) {
	registry := NewToolRegistry()
	cfg := config.ToolExecutionConfig{Parallelism: 1, Timeout: time.Second, MaxAttempts: 1}
	d := newTestDispatcher(registry, cfg)

	calls := []models.ToolCall{{ID: "1", Name: "nonexistent", Arguments: json.RawMessage(`{}`)}}
	results := d.Dispatch(context.Background(), calls, "exec-1", 1, false)

	if results[0].Output.Success {
		t.Fatal("expected failure for unknown tool")
	}
}

func TestDispatch_PanicIsCaughtAsFailure(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "panicky",
		fn: func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
			panic("boom")
		},
	})
	cfg := config.ToolExecutionConfig{Parallelism: 1, Timeout: time.Second, MaxAttempts: 1}
	d := newTestDispatcher(registry, cfg)

	calls := []models.ToolCall{{ID: "1", Name: "panicky", Arguments: json.RawMessage(`{}`)}}
	results := d.Dispatch(context.Background(), calls, "exec-1", 1, false)

	if results[0].Output.Success {
		t.Fatal("expected panic to surface as a failed output")
	}
}

func TestDispatch_YoloModeInjectsFlagForBash(t *testing.T) {
	var seenArgs json.RawMessage
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "bash",
		fn: func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
			seenArgs = args
			return models.ToolOutput{Success: true, Result: "ok"}, nil
		},
	})
	cfg := config.ToolExecutionConfig{Parallelism: 1, Timeout: time.Second, MaxAttempts: 1}
	d := newTestDispatcher(registry, cfg)

	calls := []models.ToolCall{{ID: "1", Name: "bash", Arguments: json.RawMessage(`{"cmd":"ls"}`)}}
	d.Dispatch(context.Background(), calls, "exec-1", 1, true)

	var decoded map[string]any
	if err := json.Unmarshal(seenArgs, &decoded); err != nil {
		t.Fatalf("invalid json seen by tool: %v", err)
	}
	if decoded["yolo_mode"] != true {
		t.Fatalf("expected yolo_mode injected, got %v", decoded)
	}
	if decoded["cmd"] != "ls" {
		t.Fatalf("expected original args preserved, got %v", decoded)
	}
}

func TestDispatch_CancelAllAbortsInFlightCalls(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "hang",
		fn: func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
			<-ctx.Done()
			return models.ToolOutput{}, nil
		},
	})
	cfg := config.ToolExecutionConfig{Parallelism: 1, Timeout: 5 * time.Second, MaxAttempts: 1}
	d := newTestDispatcher(registry, cfg)

	calls := []models.ToolCall{{ID: "1", Name: "hang", Arguments: json.RawMessage(`{}`)}}

	done := make(chan []CallResult, 1)
	go func() {
		done <- d.Dispatch(context.Background(), calls, "exec-1", 1, false)
	}()

	time.Sleep(20 * time.Millisecond)
	d.CancelAll()

	select {
	case results := <-done:
		if results[0].Output.Success {
			t.Fatal("expected cancelled call to fail")
		}
	case <-time.After(time.Second):
		t.Fatal("dispatch did not return after CancelAll")
	}
}

type schemaTool struct {
	funcTool
	schema json.RawMessage
}

func (t *schemaTool) ParametersSchema() json.RawMessage { return t.schema }

func TestDispatch_RejectsArgumentsViolatingToolSchema(t *testing.T) {
	var attempts int32
	registry := NewToolRegistry()
	registry.Register(&schemaTool{
		funcTool: funcTool{
			name: "add",
			fn: func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
				atomic.AddInt32(&attempts, 1)
				return models.ToolOutput{Success: true, Result: "4"}, nil
			},
		},
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {"a": {"type": "integer"}, "b": {"type": "integer"}},
			"required": ["a", "b"],
			"additionalProperties": false
		}`),
	})

	cfg := config.ToolExecutionConfig{Parallelism: 1, Timeout: time.Second, MaxAttempts: 3}
	d := newTestDispatcher(registry, cfg)

	calls := []models.ToolCall{{ID: "1", Name: "add", Arguments: json.RawMessage(`{"a":"not a number"}`)}}
	results := d.Dispatch(context.Background(), calls, "exec-1", 1, false)

	if results[0].Output.Success {
		t.Fatal("expected schema violation to fail the call")
	}
	if results[0].Output.ErrorCategory != models.ErrorInput {
		t.Fatalf("got category %q, want %q", results[0].Output.ErrorCategory, models.ErrorInput)
	}
	if atomic.LoadInt32(&attempts) != 0 {
		t.Fatalf("expected tool body never invoked for invalid arguments, got %d attempts", attempts)
	}
}

func TestDispatch_AcceptsArgumentsMatchingToolSchema(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&schemaTool{
		funcTool: funcTool{
			name: "add",
			fn: func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
				return models.ToolOutput{Success: true, Result: "4"}, nil
			},
		},
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {"a": {"type": "integer"}, "b": {"type": "integer"}},
			"required": ["a", "b"]
		}`),
	})

	cfg := config.ToolExecutionConfig{Parallelism: 1, Timeout: time.Second, MaxAttempts: 1}
	d := newTestDispatcher(registry, cfg)

	calls := []models.ToolCall{{ID: "1", Name: "add", Arguments: json.RawMessage(`{"a":2,"b":2}`)}}
	results := d.Dispatch(context.Background(), calls, "exec-1", 1, false)

	if !results[0].Output.Success {
		t.Fatalf("expected valid arguments to succeed, got %+v", results[0].Output)
	}
}

func TestDispatch_EmitsStartBeforeResultForEveryCall(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&funcTool{
		name: "add",
		fn: func(ctx context.Context, args json.RawMessage) (models.ToolOutput, error) {
			return models.ToolOutput{Success: true, Result: "4"}, nil
		},
	})
	cfg := config.ToolExecutionConfig{Parallelism: 2, Timeout: time.Second, MaxAttempts: 1}
	ch := NewChannelEmitter(64)
	d := NewDispatcher(registry, ch, cfg)

	calls := []models.ToolCall{
		{ID: "1", Name: "add", Arguments: json.RawMessage(`{}`)},
		{ID: "2", Name: "add", Arguments: json.RawMessage(`{}`)},
	}
	d.Dispatch(context.Background(), calls, "exec-1", 1, false)
	ch.Close()

	var events []models.AgentEvent
	for ev := range ch.Events() {
		events = append(events, ev)
	}

	starts := map[string]int{}
	results := map[string]int{}
	for i, ev := range events {
		switch ev.Type {
		case models.EventToolCallStart:
			starts[ev.ToolCallID] = i
		case models.EventToolCallResult:
			results[ev.ToolCallID] = i
		}
	}
	for _, c := range calls {
		s, okS := starts[c.ID]
		r, okR := results[c.ID]
		if !okS || !okR {
			t.Fatalf("missing start or result event for %s", c.ID)
		}
		if s >= r {
			t.Fatalf("expected start before result for %s", c.ID)
		}
	}
}
