// Package history implements the pre-request message transformation
// pipeline described in spec.md §4.3: a chain of processors applied to the
// outgoing message list before each LLM request, without ever mutating the
// caller's stored AgentState.Messages slice.
package history

import "github.com/restflow/engine/pkg/models"

// Processor transforms one message list into another. A processor that
// returns an empty slice is treated as "no change" by the Pipeline, which
// protects against a misbehaving processor silently erasing history.
type Processor interface {
	Name() string
	Process(messages []models.Message) []models.Message
}

// Pipeline applies a sequence of Processors in registration order; each
// processor sees the output of the previous one.
type Pipeline struct {
	processors []Processor
}

// NewPipeline creates a Pipeline that runs processors in the given order.
func NewPipeline(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Register appends a processor to the end of the pipeline.
func (p *Pipeline) Register(proc Processor) {
	p.processors = append(p.processors, proc)
}

// Apply runs messages through every registered processor, returning a new
// slice. The stored message history passed in by the caller is never
// mutated in place; every processor only ever sees and returns copies.
func (p *Pipeline) Apply(messages []models.Message) []models.Message {
	current := make([]models.Message, len(messages))
	copy(current, messages)

	for _, proc := range p.processors {
		out := proc.Process(current)
		if len(out) == 0 {
			// Empty is "no change" — keep the prior list rather than trust
			// a processor that just erased the conversation.
			continue
		}
		current = out
	}
	return current
}
