package models

import (
	"encoding/json"
	"time"
)

// AgentEventType identifies one kind of event in the streaming emitter's
// event alphabet (§4.7).
type AgentEventType string

const (
	EventTextDelta     AgentEventType = "text_delta"
	EventThinkingDelta AgentEventType = "thinking_delta"
	EventToolCallStart AgentEventType = "tool_call_start"
	EventToolCallResult AgentEventType = "tool_call_result"
	EventLLMCall       AgentEventType = "llm_call"
	EventModelSwitch   AgentEventType = "model_switch"
	EventComplete      AgentEventType = "complete"
)

// AgentEvent is the single event type emitted during a run. Sequence is a
// monotonic counter assigned by the emitter, unique and increasing within
// one execution, used to verify ordering invariants (start-before-result,
// complete-is-last).
type AgentEvent struct {
	Type        AgentEventType `json:"type"`
	Sequence    uint64         `json:"seq"`
	Time        time.Time      `json:"time"`
	ExecutionID string         `json:"execution_id"`
	Iteration   int            `json:"iteration"`

	// text_delta / thinking_delta
	Text string `json:"text,omitempty"`

	// tool_call_start / tool_call_result
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ArgsJSON   json.RawMessage `json:"args_json,omitempty"`
	ResultStr  string          `json:"result_str,omitempty"`
	Success    bool            `json:"success,omitempty"`

	// llm_call
	Model        string   `json:"model,omitempty"`
	InputTokens  int      `json:"input_tokens,omitempty"`
	OutputTokens int      `json:"output_tokens,omitempty"`
	CostUSD      *float64 `json:"cost_usd,omitempty"`
	DurationMs   int64    `json:"duration_ms,omitempty"`

	// model_switch
	FromModel string `json:"from_model,omitempty"`
	ToModel   string `json:"to_model,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
