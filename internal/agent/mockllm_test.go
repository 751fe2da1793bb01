package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/restflow/engine/pkg/models"
)

// scriptedLLM plays back a fixed sequence of CompletionResponse turns,
// grounded on the original llm/mock_client.rs used to seed the core's own
// end-to-end scenarios.
type scriptedLLM struct {
	provider  string
	model     string
	streaming bool

	mu    sync.Mutex
	turns []CompletionResponse
	idx   int
}

func newScriptedLLM(turns ...CompletionResponse) *scriptedLLM {
	return &scriptedLLM{provider: "mock", model: "mock-model", turns: turns}
}

func (m *scriptedLLM) Provider() string         { return m.provider }
func (m *scriptedLLM) Model() string            { return m.model }
func (m *scriptedLLM) SupportsStreaming() bool  { return m.streaming }

func (m *scriptedLLM) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idx >= len(m.turns) {
		return nil, errors.New("scriptedLLM: script exhausted")
	}
	resp := m.turns[m.idx]
	m.idx++
	return &resp, nil
}

func (m *scriptedLLM) CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, <-chan error) {
	ch := make(chan StreamChunk, 8)
	errCh := make(chan error, 1)

	resp, err := m.Complete(ctx, req)
	go func() {
		defer close(ch)
		defer close(errCh)
		if err != nil {
			errCh <- err
			return
		}
		if resp.Content != "" {
			ch <- StreamChunk{Text: resp.Content}
		}
		for i, tc := range resp.ToolCalls {
			idx := i
			id := tc.ID
			name := tc.Name
			args := string(tc.Arguments)
			ch <- StreamChunk{ToolCallDelta: &models.ToolCallDelta{Index: idx, ID: &id, Name: &name, Arguments: &args}}
		}
		fr := resp.FinishReason
		ch <- StreamChunk{FinishReason: &fr}
	}()
	return ch, errCh
}

var _ LlmClient = (*scriptedLLM)(nil)
