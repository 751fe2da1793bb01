package agent

import (
	"context"
	"encoding/json"

	"github.com/restflow/engine/pkg/models"
)

// FinishReason classifies why an LLM completion stopped, carried over from
// the original llm/client.rs trait field names verbatim.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishMaxTokens FinishReason = "max_tokens"
	FinishError     FinishReason = "error"
)

// ToolSchema describes one callable tool to the LLM client.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	CostUSD      *float64 `json:"cost_usd,omitempty"`
}

// CompletionRequest is the outgoing request built by the executor loop each
// iteration from the pipelined history and the tool registry's schemas.
type CompletionRequest struct {
	Messages    []models.Message
	Tools       []ToolSchema
	Temperature *float64
	MaxTokens   *int
}

// CompletionResponse is a one-shot (non-streaming) completion result.
type CompletionResponse struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason FinishReason
	Usage        *Usage
}

// StreamChunk is one fragment of a streaming completion.
type StreamChunk struct {
	Text           string
	Thinking       string
	ToolCallDelta  *models.ToolCallDelta
	FinishReason   *FinishReason
	Usage          *Usage
}

// LlmClient is the only LLM-facing surface the executor loop consumes
// (§6). Concrete provider HTTP clients are out of scope for this engine;
// callers inject an implementation (or the in-tree mockllm test double).
type LlmClient interface {
	Provider() string
	Model() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, <-chan error)
	SupportsStreaming() bool
}
