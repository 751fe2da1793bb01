package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/restflow/engine/internal/backoff"
	"github.com/restflow/engine/internal/config"
	"github.com/restflow/engine/internal/observability"
	"github.com/restflow/engine/pkg/models"
	"go.opentelemetry.io/otel/trace"
)

// CallResult pairs a tool call id with its dispatched output, preserving
// submission order in the slice Dispatch returns.
type CallResult struct {
	ID     string
	Name   string
	Output models.ToolOutput
}

// Dispatcher executes a batch of tool-calls with bounded parallelism,
// per-call timeout, per-call retry, cancellation, and ordered result
// delivery (§4.2).
type Dispatcher struct {
	Registry *ToolRegistry
	Emitter  Emitter
	Config   config.ToolExecutionConfig

	// Metrics and Tracer are optional observability collaborators; both are
	// nil-checked before use.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	mu        sync.Mutex
	active    map[string]context.CancelFunc
	validator *argValidator
}

// NewDispatcher creates a dispatcher bound to a registry and emitter.
func NewDispatcher(registry *ToolRegistry, emitter Emitter, cfg config.ToolExecutionConfig) *Dispatcher {
	if emitter == nil {
		emitter = NullEmitter{}
	}
	return &Dispatcher{
		Registry:  registry,
		Emitter:   emitter,
		Config:    cfg,
		active:    make(map[string]context.CancelFunc),
		validator: newArgValidator(registry),
	}
}

// CancelAll aborts every in-flight call tracked in active_tool_calls. Safe
// to call with nothing in flight.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cancel := range d.active {
		cancel()
	}
}

func (d *Dispatcher) track(id string, cancel context.CancelFunc) {
	d.mu.Lock()
	d.active[id] = cancel
	d.mu.Unlock()
}

func (d *Dispatcher) untrack(id string) {
	d.mu.Lock()
	delete(d.active, id)
	d.mu.Unlock()
}

// Dispatch runs calls concurrently (bounded by Config.Parallelism) and
// returns one CallResult per input call, in submission order.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []models.ToolCall, executionID string, iteration int, yoloMode bool) []CallResult {
	defer func() {
		d.mu.Lock()
		d.active = make(map[string]context.CancelFunc)
		d.mu.Unlock()
	}()

	for _, c := range calls {
		d.Emitter.ToolCallStart(ctx, executionID, iteration, c.ID, c.Name, c.Arguments)
	}

	maxConcurrency := d.Config.Parallelism
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	sem := make(chan struct{}, maxConcurrency)

	outputs := make([]models.ToolOutput, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, c models.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			callCtx, cancel := context.WithCancel(ctx)
			if d.Config.Timeout > 0 {
				var timeoutCancel context.CancelFunc
				callCtx, timeoutCancel = context.WithTimeout(callCtx, d.Config.Timeout)
				defer timeoutCancel()
			}
			d.track(c.ID, cancel)
			defer cancel()

			spanCtx := callCtx
			var span trace.Span
			if d.Tracer != nil {
				spanCtx, span = d.Tracer.TraceToolExecution(callCtx, c.Name)
			}

			start := time.Now()
			out := d.runWithRetry(spanCtx, c, yoloMode)
			if d.Metrics != nil {
				status := "success"
				if !out.Success {
					status = "error"
				}
				d.Metrics.RecordToolExecution(c.Name, status, time.Since(start).Seconds())
			}
			if span != nil {
				if !out.Success {
					d.Tracer.RecordError(span, fmt.Errorf("%s", out.Error))
				}
				span.End()
			}
			outputs[i] = out
			d.untrack(c.ID)
		}(i, c)
	}
	wg.Wait()

	results := make([]CallResult, len(calls))
	for i, c := range calls {
		out := outputs[i]
		resultStr := resultToString(out)
		d.Emitter.ToolCallResult(ctx, executionID, iteration, c.ID, c.Name, resultStr, out.Success)
		results[i] = CallResult{ID: c.ID, Name: c.Name, Output: out}
	}
	return results
}

// runWithRetry executes one call under the retry policy of §4.2. A
// cancelled or expired callCtx is translated into a terminal ToolOutput
// rather than propagated, since tool failures never leave the dispatcher
// as Go errors.
func (d *Dispatcher) runWithRetry(callCtx context.Context, call models.ToolCall, yoloMode bool) models.ToolOutput {
	if err := d.validator.Validate(call); err != nil {
		return models.ToolOutput{Success: false, Error: err.Error(), ErrorCategory: models.ErrorInput}
	}

	args := preprocessArgs(call, yoloMode)

	maxAttempts := d.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var out models.ToolOutput
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := callCtx.Err(); err != nil {
			return ctxErrOutput(call.Name, err)
		}

		out = d.execOnce(callCtx, call, args)

		if out.PendingApproval {
			return out
		}
		if out.Success {
			return out
		}
		if out.ErrorCategory == models.ErrorAuth || out.ErrorCategory == models.ErrorConfig {
			out.Error = fmt.Sprintf("Non-retryable error: %s. Try a different approach.", out.Error)
			return out
		}
		if !out.Retryable || attempt == maxAttempts {
			return out
		}
		delay := time.Duration(out.RetryAfterMs) * time.Millisecond
		if delay <= 0 {
			delay = backoff.ComputeBackoff(backoff.DefaultPolicy(), attempt)
		}
		if err := backoff.SleepWithContext(callCtx, delay); err != nil {
			return ctxErrOutput(call.Name, err)
		}
	}
	return out
}

// execOnce runs the tool body once, translating context expiry/cancel and
// panics (via ExecuteSafe) into a ToolOutput instead of a Go error.
func (d *Dispatcher) execOnce(callCtx context.Context, call models.ToolCall, args json.RawMessage) models.ToolOutput {
	type execResult struct {
		out models.ToolOutput
		err error
	}
	done := make(chan execResult, 1)
	go func() {
		out, err := d.Registry.ExecuteSafe(callCtx, call.Name, args)
		done <- execResult{out, err}
	}()

	select {
	case <-callCtx.Done():
		return ctxErrOutput(call.Name, callCtx.Err())
	case r := <-done:
		if r.err != nil {
			return errToOutput(call.Name, r.err)
		}
		return r.out
	}
}

func ctxErrOutput(toolName string, err error) models.ToolOutput {
	if err == context.DeadlineExceeded {
		return models.ToolOutput{
			Success:       false,
			Error:         fmt.Sprintf("Tool %s timed out", toolName),
			ErrorCategory: models.ErrorTransient,
		}
	}
	return models.ToolOutput{
		Success:       false,
		Error:         "Tool call cancelled",
		ErrorCategory: models.ErrorTransient,
	}
}

func errToOutput(toolName string, err error) models.ToolOutput {
	toolErr, ok := GetToolError(err)
	if !ok {
		return models.ToolOutput{Success: false, Error: err.Error(), ErrorCategory: models.ErrorUnknown}
	}
	category := models.ErrorUnknown
	switch toolErr.Type {
	case ToolErrorNotFound, ToolErrorInvalidInput:
		category = models.ErrorInput
	case ToolErrorPermission:
		category = models.ErrorAuth
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		category = models.ErrorTransient
	case ToolErrorPanic, ToolErrorExecution:
		category = models.ErrorUnknown
	}
	return models.ToolOutput{
		Success:       false,
		Error:         toolErr.Error(),
		ErrorCategory: category,
		Retryable:     toolErr.Retryable,
	}
}

// preprocessArgs injects {"yolo_mode": true} into bash tool-call arguments
// when yolo_mode is enabled (§4.2 argument preprocessing).
func preprocessArgs(call models.ToolCall, yoloMode bool) json.RawMessage {
	if !yoloMode || call.Name != "bash" {
		return call.Arguments
	}
	var obj map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &obj); err != nil {
			obj = nil
		}
	}
	if obj == nil {
		obj = make(map[string]any)
	}
	obj["yolo_mode"] = true
	merged, err := json.Marshal(obj)
	if err != nil {
		return call.Arguments
	}
	return merged
}

// resultToString renders a ToolOutput the way it is surfaced to the model
// as a tool message's content.
func resultToString(out models.ToolOutput) string {
	if !out.Success {
		return out.Error
	}
	if out.Result == nil {
		return ""
	}
	if s, ok := out.Result.(string); ok {
		return s
	}
	data, err := json.Marshal(out.Result)
	if err != nil {
		return fmt.Sprintf("%v", out.Result)
	}
	return string(data)
}
