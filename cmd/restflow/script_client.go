package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/restflow/engine/internal/agent"
	"github.com/restflow/engine/pkg/models"
)

// scriptTurn is one entry in a script file driving the scripted LLM client:
// either a tool-calling turn or a final-answer turn.
type scriptTurn struct {
	Content      string          `json:"content,omitempty"`
	ToolCalls    []scriptedCall  `json:"tool_calls,omitempty"`
	FinishReason agent.FinishReason `json:"finish_reason,omitempty"`
}

type scriptedCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// loadScript reads a JSON array of scriptTurn from path, the dev harness's
// stand-in for a real provider HTTP client (§6 LlmClient is the only
// LLM-facing surface the core consumes; concrete providers are out of scope).
func loadScript(path string) ([]scriptTurn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var turns []scriptTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return turns, nil
}

// scriptClient plays back a fixed sequence of turns read from a file,
// non-streaming only. It never calls out to a network provider.
type scriptClient struct {
	model string
	turns []scriptTurn
	idx   int
}

func newScriptClient(model string, turns []scriptTurn) *scriptClient {
	return &scriptClient{model: model, turns: turns}
}

func (c *scriptClient) Provider() string        { return "script" }
func (c *scriptClient) Model() string           { return c.model }
func (c *scriptClient) SupportsStreaming() bool { return false }

func (c *scriptClient) Complete(ctx context.Context, req agent.CompletionRequest) (*agent.CompletionResponse, error) {
	if c.idx >= len(c.turns) {
		return nil, fmt.Errorf("script exhausted after %d turns", c.idx)
	}
	turn := c.turns[c.idx]
	c.idx++

	finish := turn.FinishReason
	calls := make([]models.ToolCall, 0, len(turn.ToolCalls))
	for _, tc := range turn.ToolCalls {
		calls = append(calls, models.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	if finish == "" {
		if len(calls) > 0 {
			finish = agent.FinishToolCalls
		} else {
			finish = agent.FinishStop
		}
	}

	return &agent.CompletionResponse{
		Content:      turn.Content,
		ToolCalls:    calls,
		FinishReason: finish,
	}, nil
}

func (c *scriptClient) CompleteStream(ctx context.Context, req agent.CompletionRequest) (<-chan agent.StreamChunk, <-chan error) {
	ch := make(chan agent.StreamChunk)
	errCh := make(chan error, 1)
	close(ch)
	errCh <- fmt.Errorf("scriptClient does not support streaming")
	close(errCh)
	return ch, errCh
}

var _ agent.LlmClient = (*scriptClient)(nil)
