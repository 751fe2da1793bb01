package agent

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/restflow/engine/internal/observability"
	"github.com/restflow/engine/internal/tools/policy"
	"github.com/restflow/engine/pkg/models"
)

// maxTracePayloadChars bounds the size of text stored by a persisting
// emitter; payloads longer than this are truncated with a trailing "...".
const maxTracePayloadChars = 10000

// Emitter publishes the event alphabet (§4.7) for one execution. Start
// events for a tool call must precede its result event; complete() is
// always the last event of a run.
type Emitter interface {
	TextDelta(ctx context.Context, executionID string, iteration int, text string)
	ThinkingDelta(ctx context.Context, executionID string, iteration int, text string)
	ToolCallStart(ctx context.Context, executionID string, iteration int, toolCallID, toolName string, argsJSON json.RawMessage)
	ToolCallResult(ctx context.Context, executionID string, iteration int, toolCallID, toolName, resultStr string, success bool)
	LLMCall(ctx context.Context, executionID string, iteration int, model string, inputTokens, outputTokens int, costUSD *float64, duration time.Duration)
	ModelSwitch(ctx context.Context, executionID string, iteration int, from, to, reason string)
	Complete(ctx context.Context, executionID string)
}

// NullEmitter discards every event. It is the zero-configuration default
// for callers that do not need observability.
type NullEmitter struct{}

func (NullEmitter) TextDelta(context.Context, string, int, string)                      {}
func (NullEmitter) ThinkingDelta(context.Context, string, int, string)                  {}
func (NullEmitter) ToolCallStart(context.Context, string, int, string, string, json.RawMessage) {}
func (NullEmitter) ToolCallResult(context.Context, string, int, string, string, string, bool)    {}
func (NullEmitter) LLMCall(context.Context, string, int, string, int, int, *float64, time.Duration) {
}
func (NullEmitter) ModelSwitch(context.Context, string, int, string, string, string) {}
func (NullEmitter) Complete(context.Context, string)                                {}

var _ Emitter = NullEmitter{}

// seq is an atomic monotonic sequence counter shared by every event an
// emitter produces within one process, mirroring the ancestor's
// EventEmitter.nextSeq but scoped to models.AgentEvent.Sequence.
type seq struct{ n uint64 }

func (s *seq) next() uint64 { return atomic.AddUint64(&s.n, 1) }

// ChannelEmitter forwards each event onto a bounded channel. Sends never
// block the executor: a full channel drops the event (best-effort UI
// delivery), matching §5's backpressure policy for UI sinks.
type ChannelEmitter struct {
	ch  chan models.AgentEvent
	seq seq
}

// NewChannelEmitter creates an emitter backed by a channel of the given
// buffer size. Callers read from Events().
func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelEmitter{ch: make(chan models.AgentEvent, buffer)}
}

// Events returns the channel events are published on.
func (e *ChannelEmitter) Events() <-chan models.AgentEvent { return e.ch }

// Close closes the underlying channel. Callers must stop emitting before
// calling Close.
func (e *ChannelEmitter) Close() { close(e.ch) }

func (e *ChannelEmitter) base(eventType models.AgentEventType, executionID string, iteration int) models.AgentEvent {
	return models.AgentEvent{
		Type:        eventType,
		Sequence:    e.seq.next(),
		Time:        time.Now(),
		ExecutionID: executionID,
		Iteration:   iteration,
	}
}

func (e *ChannelEmitter) send(ev models.AgentEvent) {
	select {
	case e.ch <- ev:
	default:
	}
}

func (e *ChannelEmitter) TextDelta(_ context.Context, executionID string, iteration int, text string) {
	ev := e.base(models.EventTextDelta, executionID, iteration)
	ev.Text = text
	e.send(ev)
}

func (e *ChannelEmitter) ThinkingDelta(_ context.Context, executionID string, iteration int, text string) {
	ev := e.base(models.EventThinkingDelta, executionID, iteration)
	ev.Text = text
	e.send(ev)
}

func (e *ChannelEmitter) ToolCallStart(_ context.Context, executionID string, iteration int, toolCallID, toolName string, argsJSON json.RawMessage) {
	ev := e.base(models.EventToolCallStart, executionID, iteration)
	ev.ToolCallID = toolCallID
	ev.ToolName = toolName
	ev.ArgsJSON = argsJSON
	e.send(ev)
}

func (e *ChannelEmitter) ToolCallResult(_ context.Context, executionID string, iteration int, toolCallID, toolName, resultStr string, success bool) {
	ev := e.base(models.EventToolCallResult, executionID, iteration)
	ev.ToolCallID = toolCallID
	ev.ToolName = toolName
	ev.ResultStr = resultStr
	ev.Success = success
	e.send(ev)
}

func (e *ChannelEmitter) LLMCall(_ context.Context, executionID string, iteration int, model string, inputTokens, outputTokens int, costUSD *float64, duration time.Duration) {
	ev := e.base(models.EventLLMCall, executionID, iteration)
	ev.Model = model
	ev.InputTokens = inputTokens
	ev.OutputTokens = outputTokens
	ev.CostUSD = costUSD
	ev.DurationMs = duration.Milliseconds()
	e.send(ev)
}

func (e *ChannelEmitter) ModelSwitch(_ context.Context, executionID string, iteration int, from, to, reason string) {
	ev := e.base(models.EventModelSwitch, executionID, iteration)
	ev.FromModel = from
	ev.ToModel = to
	ev.Reason = reason
	e.send(ev)
}

func (e *ChannelEmitter) Complete(_ context.Context, executionID string) {
	e.send(e.base(models.EventComplete, executionID, 0))
}

var _ Emitter = (*ChannelEmitter)(nil)

// TraceSink persists ToolTrace records, the optional observer collaborator
// named in §6.
type TraceSink interface {
	AppendTrace(ctx context.Context, trace models.ToolTrace) error
}

// PersistingEmitter wraps another emitter and additionally records a
// ToolTrace for every completed tool call: start time is captured on
// tool_call_start, duration computed on tool_call_result. Input and output
// payloads pass through Guard before they are persisted, so a denylisted
// tool's traces never reach the sink in the clear and secrets detected in
// free-form output are redacted before storage (§4.7).
type PersistingEmitter struct {
	inner     Emitter
	sink      TraceSink
	sessionID string
	logger    *observability.Logger
	Guard     ToolResultGuard
	Resolver  *policy.Resolver

	mu     sync.Mutex
	starts map[string]time.Time
}

// NewPersistingEmitter wraps inner (use NullEmitter{} for no further
// fan-out) with trace persistence to sink, tagging every trace with
// sessionID and redacting/truncating payloads through guard before they are
// persisted. A nil resolver falls back to one seeded with the built-in tool
// groups, used to expand guard.Denylist entries like "group:fs".
func NewPersistingEmitter(inner Emitter, sink TraceSink, sessionID string, logger *observability.Logger, guard ToolResultGuard, resolver *policy.Resolver) *PersistingEmitter {
	if inner == nil {
		inner = NullEmitter{}
	}
	if resolver == nil {
		resolver = policy.NewResolver()
	}
	return &PersistingEmitter{
		inner:     inner,
		sink:      sink,
		sessionID: sessionID,
		logger:    logger,
		Guard:     guard,
		Resolver:  resolver,
		starts:    make(map[string]time.Time),
	}
}

func truncatePayload(s string) string {
	if len(s) <= maxTracePayloadChars {
		return s
	}
	return s[:maxTracePayloadChars] + "..."
}

func (e *PersistingEmitter) TextDelta(ctx context.Context, executionID string, iteration int, text string) {
	e.inner.TextDelta(ctx, executionID, iteration, text)
}

func (e *PersistingEmitter) ThinkingDelta(ctx context.Context, executionID string, iteration int, text string) {
	e.inner.ThinkingDelta(ctx, executionID, iteration, text)
}

func (e *PersistingEmitter) ToolCallStart(ctx context.Context, executionID string, iteration int, toolCallID, toolName string, argsJSON json.RawMessage) {
	e.mu.Lock()
	e.starts[toolCallID] = time.Now()
	e.mu.Unlock()

	e.inner.ToolCallStart(ctx, executionID, iteration, toolCallID, toolName, argsJSON)

	if e.sink == nil {
		return
	}
	guardedInput := e.Guard.Apply(toolName, string(argsJSON), e.Resolver)
	trace := models.ToolTrace{
		SessionID:  e.sessionID,
		TurnID:     executionID,
		EventType:  models.ToolEventStarted,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Input:      json.RawMessage(truncatePayload(guardedInput)),
		CreatedAt:  time.Now(),
	}
	if err := e.sink.AppendTrace(ctx, trace); err != nil && e.logger != nil {
		e.logger.Warn(ctx, "failed to append tool start trace", "error", err, "tool_call_id", toolCallID)
	}
}

func (e *PersistingEmitter) ToolCallResult(ctx context.Context, executionID string, iteration int, toolCallID, toolName, resultStr string, success bool) {
	e.mu.Lock()
	start, ok := e.starts[toolCallID]
	delete(e.starts, toolCallID)
	e.mu.Unlock()

	e.inner.ToolCallResult(ctx, executionID, iteration, toolCallID, toolName, resultStr, success)

	if e.sink == nil {
		return
	}
	var durationMs *int64
	if ok {
		d := time.Since(start).Milliseconds()
		durationMs = &d
	}
	stage := models.ToolEventSucceeded
	errText := ""
	if !success {
		stage = models.ToolEventFailed
		errText = e.Guard.Apply(toolName, resultStr, e.Resolver)
	}
	guardedOutput := e.Guard.Apply(toolName, normalizeResult(resultStr), e.Resolver)
	trace := models.ToolTrace{
		SessionID:  e.sessionID,
		TurnID:     executionID,
		EventType:  stage,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Output:     truncatePayload(guardedOutput),
		Success:    &success,
		DurationMs: durationMs,
		Error:      errText,
		CreatedAt:  time.Now(),
	}
	if err := e.sink.AppendTrace(ctx, trace); err != nil && e.logger != nil {
		e.logger.Warn(ctx, "failed to append tool result trace", "error", err, "tool_call_id", toolCallID)
	}
}

// normalizeResult re-compacts result if it parses as JSON, otherwise
// returns it unchanged as plain text.
func normalizeResult(result string) string {
	var v any
	if err := json.Unmarshal([]byte(result), &v); err != nil {
		return result
	}
	compact, err := json.Marshal(v)
	if err != nil {
		return result
	}
	return string(compact)
}

func (e *PersistingEmitter) LLMCall(ctx context.Context, executionID string, iteration int, model string, inputTokens, outputTokens int, costUSD *float64, duration time.Duration) {
	e.inner.LLMCall(ctx, executionID, iteration, model, inputTokens, outputTokens, costUSD, duration)
}

func (e *PersistingEmitter) ModelSwitch(ctx context.Context, executionID string, iteration int, from, to, reason string) {
	e.inner.ModelSwitch(ctx, executionID, iteration, from, to, reason)
}

func (e *PersistingEmitter) Complete(ctx context.Context, executionID string) {
	e.inner.Complete(ctx, executionID)
}

var _ Emitter = (*PersistingEmitter)(nil)
