package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/restflow/engine/internal/agent/providers"
	"github.com/restflow/engine/internal/backoff"
	"github.com/restflow/engine/internal/checkpoint"
	"github.com/restflow/engine/internal/config"
	"github.com/restflow/engine/internal/history"
	"github.com/restflow/engine/internal/observability"
	"github.com/restflow/engine/internal/stuck"
	"github.com/restflow/engine/pkg/models"
	"go.opentelemetry.io/otel/trace"
)

// InvocationOptions carries the per-run LLM call settings that both Run and
// RunWithState need (§4.1, §6 CompletionRequest).
type InvocationOptions struct {
	Temperature *float64
	MaxTokens   *int
	YoloMode    bool
}

// RunConfig starts a brand-new invocation (§4.1 run(config)).
type RunConfig struct {
	ExecutionID   string
	Goal          string
	SystemPrompt  string
	MaxIterations int
	InvocationOptions
}

// Executor drives one agent invocation from goal to final_answer or a
// terminal status (§4.1). A single Executor is shared across concurrently
// running invocations; per-invocation state (steer queue, dispatcher) is
// tracked by execution id.
type Executor struct {
	LLM      LlmClient
	Registry *ToolRegistry
	Pipeline *history.Pipeline
	Emitter  Emitter

	EngineConfig config.EngineConfig
	ToolsConfig  config.ToolExecutionConfig

	Checkpoints checkpoint.Store

	// LLMMaxAttempts bounds retries for a transient LLM error before the
	// run fails (§4.1.e). Defaults to 3 if unset.
	LLMMaxAttempts int

	Logger *observability.Logger

	// Metrics and Tracer are optional observability collaborators; both are
	// nil-checked before use so an Executor built without them behaves
	// exactly as before.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	mu         sync.Mutex
	steerQs    map[string]*SteerQueue
	dispatched map[string]*Dispatcher
}

// NewExecutor wires together the collaborators the loop needs. Pipeline may
// be nil (an empty pipeline is used); Emitter may be nil (NullEmitter).
func NewExecutor(llm LlmClient, registry *ToolRegistry, pipeline *history.Pipeline, emitter Emitter, engineCfg config.EngineConfig, toolsCfg config.ToolExecutionConfig, checkpoints checkpoint.Store) *Executor {
	if pipeline == nil {
		pipeline = history.NewPipeline()
	}
	if emitter == nil {
		emitter = NullEmitter{}
	}
	return &Executor{
		LLM:            llm,
		Registry:       registry,
		Pipeline:       pipeline,
		Emitter:        emitter,
		EngineConfig:   engineCfg,
		ToolsConfig:    toolsCfg,
		Checkpoints:    checkpoints,
		LLMMaxAttempts: 3,
		steerQs:        make(map[string]*SteerQueue),
		dispatched:     make(map[string]*Dispatcher),
	}
}

func (e *Executor) beginExecution(executionID string) (*SteerQueue, *Dispatcher) {
	q := NewSteerQueue()
	d := NewDispatcher(e.Registry, e.Emitter, e.ToolsConfig)
	d.Metrics = e.Metrics
	d.Tracer = e.Tracer
	e.mu.Lock()
	e.steerQs[executionID] = q
	e.dispatched[executionID] = d
	e.mu.Unlock()
	return q, d
}

func (e *Executor) endExecution(executionID string) {
	e.mu.Lock()
	delete(e.steerQs, executionID)
	delete(e.dispatched, executionID)
	e.mu.Unlock()
}

// Cancel aborts in-flight tool tasks for executionID and queues a Cancel
// steer command; the loop observes it at the next safe point and returns
// Interrupted{"cancelled"} (§4.1, §13).
func (e *Executor) Cancel(executionID string) {
	e.mu.Lock()
	q := e.steerQs[executionID]
	d := e.dispatched[executionID]
	e.mu.Unlock()
	if d != nil {
		d.CancelAll()
	}
	if q != nil {
		q.Push(SteerCommand{Type: SteerCancel, Reason: "cancelled"})
	}
}

// Steer queues an instruction for a running execution, processed between
// tool completions (§4.1).
func (e *Executor) Steer(executionID string, cmd SteerCommand) {
	e.mu.Lock()
	q := e.steerQs[executionID]
	e.mu.Unlock()
	if q != nil {
		q.Push(cmd)
	}
}

// Run starts a brand-new invocation.
func (e *Executor) Run(ctx context.Context, cfg RunConfig) models.AgentResult {
	maxIter := cfg.MaxIterations
	if maxIter == 0 {
		maxIter = e.EngineConfig.MaxIterations
	}
	state := models.NewAgentState(cfg.ExecutionID, maxIter)
	if cfg.SystemPrompt != "" {
		state.AppendMessage(models.NewSystemMessage(cfg.SystemPrompt))
	}
	state.AppendMessage(models.NewUserMessage(cfg.Goal))
	return e.runLoop(ctx, state, cfg.InvocationOptions)
}

// RunWithState resumes an existing (non-terminal, or freshly un-terminated
// by Resume) AgentState, optionally appending an extra user message first.
func (e *Executor) RunWithState(ctx context.Context, state *models.AgentState, extraUserMsg string, opts InvocationOptions) models.AgentResult {
	if extraUserMsg != "" {
		state.AppendMessage(models.NewUserMessage(extraUserMsg))
	}
	return e.runLoop(ctx, state, opts)
}

func (e *Executor) runLoop(ctx context.Context, state *models.AgentState, opts InvocationOptions) models.AgentResult {
	executionID := state.ExecutionID
	steerQ, dispatcher := e.beginExecution(executionID)
	defer e.endExecution(executionID)

	detector := stuck.NewDetector(e.EngineConfig.StuckDetector.WindowSize, e.EngineConfig.StuckDetector.RepeatThreshold)
	stuckAction := stuck.Action(e.EngineConfig.StuckDetector.Action)
	if stuckAction == "" {
		stuckAction = stuck.ActionNudge
	}

	totalTokens := 0

	if state.MaxIterations == 0 && state.Iteration == 0 {
		state.HitMaxIterations()
	}

	for !state.IsTerminal() {
		if state.Iteration >= state.MaxIterations {
			state.HitMaxIterations()
			break
		}

		iterCtx := ctx
		var iterSpan trace.Span
		if e.Tracer != nil {
			iterCtx, iterSpan = e.Tracer.TraceIteration(ctx, executionID, state.Iteration)
		}

		if cmd, ok := steerQ.DrainOne(); ok {
			if e.applySteer(ctx, state, cmd) {
				e.endIteration(iterSpan, "interrupted")
				break
			}
		}

		pipelined := e.Pipeline.Apply(state.Messages)
		req := CompletionRequest{
			Messages:    pipelined,
			Tools:       e.Registry.Schemas(),
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		}

		resp, err := e.completeWithRetry(iterCtx, req, executionID, state.Iteration)
		if err != nil {
			state.Fail(err.Error())
			e.endIteration(iterSpan, "failed")
			break
		}
		totalTokens += resp.totalTokens

		switch {
		case len(resp.response.ToolCalls) > 0:
			state.AppendMessage(models.NewAssistantMessage(resp.response.Content, resp.response.ToolCalls))

			callsByID := make(map[string]models.ToolCall, len(resp.response.ToolCalls))
			for _, c := range resp.response.ToolCalls {
				callsByID[c.ID] = c
			}

			results := dispatcher.Dispatch(iterCtx, resp.response.ToolCalls, executionID, state.Iteration, opts.YoloMode)

			interrupted := false
			var interruptMeta map[string]any
			for _, r := range results {
				state.AppendMessage(models.NewToolMessage(r.ID, resultToString(r.Output)))

				call := callsByID[r.ID]
				detector.Record(call.Name, call.Arguments)
				if info := detector.IsStuck(); info != nil {
					switch stuckAction {
					case stuck.ActionStop:
						state.Fail(fmt.Sprintf("stuck: %s called %d times consecutively", info.ToolName, info.Repeats))
					default:
						state.AppendMessage(models.NewSystemMessage(info.Message))
						detector.Reset()
					}
					if e.Metrics != nil {
						e.Metrics.RecordStuckDetectorAction(string(stuckAction))
					}
				}

				if r.Output.PendingApproval {
					interrupted = true
					interruptMeta = map[string]any{"tool_call_id": r.ID, "tool_name": r.Name}
				}
			}

			if state.IsTerminal() {
				e.endIteration(iterSpan, "failed")
				break
			}

			if cmd, ok := steerQ.DrainOne(); ok {
				if e.applySteer(ctx, state, cmd) {
					e.endIteration(iterSpan, "interrupted")
					break
				}
			}

			if interrupted {
				e.checkpointAndInterrupt(ctx, state, "approval required", interruptMeta)
				e.endIteration(iterSpan, "interrupted")
				break
			}

			state.NextIteration()
			if state.Iteration >= state.MaxIterations {
				state.HitMaxIterations()
			}
			e.endIteration(iterSpan, "tool_calls")

		case resp.response.FinishReason == FinishStop:
			state.Complete(resp.response.Content)
			e.endIteration(iterSpan, "completed")

		default:
			state.AppendMessage(models.NewAssistantMessage(resp.response.Content, nil))
			e.endIteration(iterSpan, "tool_calls")
		}
	}

	e.Emitter.Complete(ctx, executionID)
	return models.ResultFromState(state, totalTokens)
}

// endIteration closes the span opened for one executor loop iteration and
// records its outcome, if tracing/metrics are configured.
func (e *Executor) endIteration(span trace.Span, outcome string) {
	if span != nil {
		span.End()
	}
	if e.Metrics != nil {
		e.Metrics.RecordIteration(outcome)
	}
}

// applySteer processes one queued command, returning true if the loop must
// stop as a result.
func (e *Executor) applySteer(ctx context.Context, state *models.AgentState, cmd SteerCommand) bool {
	switch cmd.Type {
	case SteerCancel:
		state.Interrupt("cancelled")
		return true
	case SteerInterrupt:
		reason := cmd.Reason
		if reason == "" {
			reason = "interrupted"
		}
		e.checkpointAndInterrupt(ctx, state, reason, nil)
		return true
	default:
		return false
	}
}

func (e *Executor) checkpointAndInterrupt(ctx context.Context, state *models.AgentState, reason string, metadata map[string]any) {
	if e.Checkpoints != nil {
		uc, err := checkpoint.Prepare(state, state.ExecutionID, reason, metadata, e.EngineConfig.Checkpoint.TTL)
		if err == nil {
			if _, cerr := uc.Commit(ctx, e.Checkpoints, time.Now()); cerr != nil {
				if e.Logger != nil {
					e.Logger.Warn(ctx, "failed to commit interrupt checkpoint", "error", cerr, "execution_id", state.ExecutionID)
				}
				if e.Metrics != nil {
					e.Metrics.RecordCheckpointOperation("save", "error")
				}
			} else if e.Metrics != nil {
				e.Metrics.RecordCheckpointOperation("save", "success")
			}
		} else {
			if e.Logger != nil {
				e.Logger.Warn(ctx, "failed to prepare interrupt checkpoint", "error", err, "execution_id", state.ExecutionID)
			}
			if e.Metrics != nil {
				e.Metrics.RecordCheckpointOperation("save", "error")
			}
		}
	}
	state.Interrupt(reason)
}

type llmCallResult struct {
	response    *CompletionResponse
	totalTokens int
}

// completeWithRetry calls the LLM, retrying transient failures with backoff
// and failing the run immediately on Auth/Config-classified errors (§4.1.e,
// §7).
func (e *Executor) completeWithRetry(ctx context.Context, req CompletionRequest, executionID string, iteration int) (llmCallResult, error) {
	maxAttempts := e.LLMMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		resp, err := e.callOnce(ctx, req, executionID, iteration)
		if err == nil {
			duration := time.Since(start)
			tokens := 0
			var costUSD *float64
			if resp.Usage != nil {
				tokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
				costUSD = resp.Usage.CostUSD
			}
			e.Emitter.LLMCall(ctx, executionID, iteration, e.LLM.Model(), usageInput(resp.Usage), usageOutput(resp.Usage), costUSD, duration)
			if e.Metrics != nil {
				status := "success"
				if attempt > 1 {
					status = "retry"
				}
				e.Metrics.RecordRunAttempt(status)
				e.Metrics.RecordLLMRequest(e.LLM.Provider(), e.LLM.Model(), "success", duration.Seconds(), usageInput(resp.Usage), usageOutput(resp.Usage))
				if costUSD != nil {
					e.Metrics.RecordLLMCost(e.LLM.Provider(), e.LLM.Model(), *costUSD)
				}
			}
			return llmCallResult{response: resp, totalTokens: tokens}, nil
		}

		lastErr = err
		if e.Metrics != nil {
			e.Metrics.RecordRunAttempt("retry")
		}
		if !isRetryableLLMError(err) {
			if e.Metrics != nil {
				e.Metrics.RecordLLMRequest(e.LLM.Provider(), e.LLM.Model(), "error", time.Since(start).Seconds(), 0, 0)
				e.Metrics.RecordError("executor", "llm_non_retryable")
			}
			return llmCallResult{}, err
		}
		if attempt == maxAttempts {
			break
		}
		delay := backoff.ComputeBackoff(backoff.DefaultPolicy(), attempt)
		if serr := backoff.SleepWithContext(ctx, delay); serr != nil {
			return llmCallResult{}, serr
		}
	}
	if e.Metrics != nil {
		e.Metrics.RecordLLMRequest(e.LLM.Provider(), e.LLM.Model(), "error", 0, 0, 0)
		e.Metrics.RecordError("executor", "llm_retries_exhausted")
	}
	return llmCallResult{}, lastErr
}

func usageInput(u *Usage) int {
	if u == nil {
		return 0
	}
	return u.InputTokens
}

func usageOutput(u *Usage) int {
	if u == nil {
		return 0
	}
	return u.OutputTokens
}

func (e *Executor) callOnce(ctx context.Context, req CompletionRequest, executionID string, iteration int) (*CompletionResponse, error) {
	if !e.LLM.SupportsStreaming() {
		return e.LLM.Complete(ctx, req)
	}

	chunks, errCh := e.LLM.CompleteStream(ctx, req)
	var text strings.Builder
	acc := models.NewToolCallAccumulator()
	finish := FinishStop
	var usage *Usage

	for chunk := range chunks {
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			e.Emitter.TextDelta(ctx, executionID, iteration, chunk.Text)
		}
		if chunk.Thinking != "" {
			e.Emitter.ThinkingDelta(ctx, executionID, iteration, chunk.Thinking)
		}
		if chunk.ToolCallDelta != nil {
			acc.Add(*chunk.ToolCallDelta)
		}
		if chunk.FinishReason != nil {
			finish = *chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}

	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	default:
	}

	return &CompletionResponse{
		Content:      text.String(),
		ToolCalls:    acc.Finalize(),
		FinishReason: finish,
		Usage:        usage,
	}, nil
}

// isRetryableLLMError classifies an LLM-call error using the provider error
// taxonomy (§4.1.e, §7): Auth/Config-shaped failures are not retried, a
// bare unclassified error is also treated as non-retryable.
func isRetryableLLMError(err error) bool {
	return providers.IsRetryable(err)
}
