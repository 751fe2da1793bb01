// Package subagent spawns, tracks, and awaits child agent invocations
// started from within a parent's tool call, subject to global and per-tree
// limits (§4.6).
package subagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/restflow/engine/internal/agent"
	"github.com/restflow/engine/internal/config"
	"github.com/restflow/engine/internal/history"
	"github.com/restflow/engine/internal/observability"
	"github.com/restflow/engine/internal/tools/policy"
	"github.com/restflow/engine/pkg/models"
)

// DefLookup resolves a subagent type id to its definition snapshot and
// lists the types a parent is allowed to spawn (§6 SubagentDefLookup).
type DefLookup interface {
	Lookup(id string) (models.SubagentDefSnapshot, bool)
	ListCallable() []models.SubagentDefSummary
}

// tracked pairs a SubagentRecord with the channel its completion is
// published on, so Wait can suspend a caller that arrived before
// completion and Get can answer one that arrived after.
type tracked struct {
	record *models.SubagentRecord
	done   chan models.SubagentResult
}

// Manager owns the concurrent map of in-flight and completed subagent
// records for one engine instance, grounded on the ancestor's sub-agent
// Manager (tracker map, atomic active count, background goroutine per
// spawn) but executing each child through a nested Executor rather than a
// session-bound runtime.
type Manager struct {
	LLM      agent.LlmClient
	Registry *agent.ToolRegistry
	Lookup   DefLookup
	Config   config.SubagentConfig

	// Metrics and Tracer are optional observability collaborators; both are
	// nil-checked before use. Set directly after construction.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Resolver expands group references and aliases in a subagent
	// definition's AllowedTools before the parent's tool registry is
	// filtered down for the child (§4.6). Set directly after construction;
	// a nil Resolver falls back to one seeded with the built-in groups.
	Resolver *policy.Resolver

	mu      sync.RWMutex
	running map[string]*tracked
}

// NewManager creates a manager bound to the collaborators a spawned child
// executor loop needs.
func NewManager(llm agent.LlmClient, registry *agent.ToolRegistry, lookup DefLookup, cfg config.SubagentConfig) *Manager {
	return &Manager{
		LLM:      llm,
		Registry: registry,
		Lookup:   lookup,
		Config:   cfg,
		Resolver: policy.NewResolver(),
		running:  make(map[string]*tracked),
	}
}

// RunningCount returns the number of subagents currently in the Running
// state.
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.running {
		if t.record.Status == models.SubagentRunning {
			n++
		}
	}
	return n
}

// ListRunning returns a snapshot of every subagent not yet terminal.
func (m *Manager) ListRunning() []models.SubagentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SubagentRecord
	for _, t := range m.running {
		if t.record.Status == models.SubagentRunning {
			out = append(out, *t.record)
		}
	}
	return out
}

// Spawn allocates a child invocation and starts it on its own goroutine,
// returning immediately with a handle. It fails without starting anything
// when the global parallelism cap is already reached, the agent type is
// unknown, or the caller's depth has reached max_depth.
func (m *Manager) Spawn(ctx context.Context, req models.SpawnRequest) (models.SpawnHandle, error) {
	if req.Depth >= m.Config.MaxDepth {
		m.recordSpawn(req.AgentDefID, "rejected")
		return models.SpawnHandle{}, agent.NewToolError("spawn_subagent", fmt.Errorf("max subagent depth (%d) reached", m.Config.MaxDepth)).WithType(agent.ToolErrorInvalidInput)
	}

	def, ok := m.Lookup.Lookup(req.AgentDefID)
	if !ok {
		m.recordSpawn(req.AgentDefID, "rejected")
		return models.SpawnHandle{}, agent.NewToolError("spawn_subagent", fmt.Errorf("Unknown agent type: %s", req.AgentDefID)).WithType(agent.ToolErrorInvalidInput)
	}

	if m.RunningCount() >= m.Config.MaxParallelAgents {
		m.recordSpawn(req.AgentDefID, "rejected")
		return models.SpawnHandle{}, agent.NewToolError("spawn_subagent", fmt.Errorf("Max parallel agents (%d) reached", m.Config.MaxParallelAgents)).WithType(agent.ToolErrorInvalidInput)
	}

	id := uuid.NewString()
	record := &models.SubagentRecord{
		ID:         id,
		ParentID:   req.ParentID,
		AgentDefID: req.AgentDefID,
		Task:       req.Task,
		Status:     models.SubagentRunning,
		StartedAt:  time.Now(),
	}
	t := &tracked{record: record, done: make(chan models.SubagentResult, 1)}

	m.mu.Lock()
	m.running[id] = t
	m.mu.Unlock()
	m.recordSpawn(req.AgentDefID, "accepted")

	go m.run(context.Background(), id, def, req)

	return models.SpawnHandle{ID: id, AgentName: def.Name}, nil
}

func (m *Manager) recordSpawn(agentDefID, status string) {
	if m.Metrics != nil {
		m.Metrics.RecordSubagentSpawn(agentDefID, status)
	}
}

// Wait suspends until the named subagent terminates, returning its
// result. It returns false immediately if the id is unknown.
func (m *Manager) Wait(ctx context.Context, id string) (models.SubagentResult, bool) {
	m.mu.RLock()
	t, ok := m.running[id]
	m.mu.RUnlock()
	if !ok {
		return models.SubagentResult{}, false
	}

	select {
	case result, ok := <-t.done:
		if ok {
			// Re-buffer for a second concurrent waiter; channel is closed
			// after the first receive drains it, so put it back.
			t.done <- result
		}
		return result, true
	case <-ctx.Done():
		return models.SubagentResult{}, false
	}
}

// Get returns the current record for id, whether running or terminal.
func (m *Manager) Get(id string) (models.SubagentRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.running[id]
	if !ok {
		return models.SubagentRecord{}, false
	}
	return *t.record, true
}

// run executes one subagent's task under its configured timeout, then
// notifies both the tracker map and the completion channel.
func (m *Manager) run(ctx context.Context, id string, def models.SubagentDefSnapshot, req models.SpawnRequest) {
	timeout := m.Config.SubagentTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resultCh := make(chan models.SubagentResult, 1)
	go func() {
		resultCh <- m.executeSubagent(runCtx, id, def, req)
	}()

	var result models.SubagentResult
	select {
	case result = <-resultCh:
	case <-runCtx.Done():
		result = models.SubagentResult{
			Success:    false,
			Error:      "Sub-agent timed out",
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	m.complete(id, result)
}

// executeSubagent builds the child's dedicated system prompt and runs a
// nested executor loop to completion (§4.6).
func (m *Manager) executeSubagent(ctx context.Context, id string, def models.SubagentDefSnapshot, req models.SpawnRequest) models.SubagentResult {
	start := time.Now()

	systemPrompt := def.SystemPrompt + "\n\n## Your Task\n" + req.Task +
		"\n\n## Important\nComplete this task and report your findings concisely. You are a sub-agent; your final answer is returned to the parent agent, not shown directly to the user."

	registry := m.Registry.Filtered(def.AllowedTools, m.Resolver)
	maxIterations := def.MaxIterations
	if maxIterations == 0 {
		maxIterations = m.Config.MaxIterations
	}

	engineCfg := config.DefaultEngineConfig()
	engineCfg.MaxIterations = maxIterations
	toolsCfg := config.DefaultToolExecutionConfig()

	exec := agent.NewExecutor(m.LLM, registry, history.NewPipeline(), agent.NullEmitter{}, engineCfg, toolsCfg, nil)
	exec.Metrics = m.Metrics
	exec.Tracer = m.Tracer

	runCtx := ctx
	var span trace.Span
	if m.Tracer != nil {
		runCtx, span = m.Tracer.TraceSubagent(ctx, req.ParentID, req.AgentDefID)
		defer span.End()
	}

	runResult := exec.Run(runCtx, agent.RunConfig{
		ExecutionID:  id,
		Goal:         req.Task,
		SystemPrompt: systemPrompt,
	})

	duration := time.Since(start).Milliseconds()
	tokens := runResult.TotalTokens
	if !runResult.Success {
		errMsg := "subagent did not complete successfully"
		if runResult.State.Status.Err != "" {
			errMsg = runResult.State.Status.Err
		} else if runResult.State.Status.Reason != "" {
			errMsg = runResult.State.Status.Reason
		}
		return models.SubagentResult{Success: false, Error: errMsg, DurationMs: duration, TokensUsed: &tokens}
	}

	output := ""
	if runResult.Answer != nil {
		output = *runResult.Answer
	}
	return models.SubagentResult{Success: true, Output: output, DurationMs: duration, TokensUsed: &tokens}
}

func (m *Manager) complete(id string, result models.SubagentResult) {
	m.mu.Lock()
	t, ok := m.running[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	t.record.CompletedAt = &now
	t.record.Result = &result
	if result.Error == "Sub-agent timed out" {
		t.record.Status = models.SubagentTimedOut
	} else if result.Success {
		t.record.Status = models.SubagentCompleted
	} else {
		t.record.Status = models.SubagentFailed
	}
	agentDefID := t.record.AgentDefID
	status := string(t.record.Status)
	m.mu.Unlock()

	if m.Metrics != nil {
		m.Metrics.RecordSubagentCompletion(agentDefID, status)
	}
	t.done <- result
}

// Cancel marks a running subagent cancelled. The nested executor is not
// forcibly aborted mid-call; cancellation is cooperative and takes effect
// at the next suspension point the executor already honors (steer
// commands), matching how the top-level executor cancels.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.running[id]
	if !ok {
		return fmt.Errorf("sub-agent not found: %s", id)
	}
	if t.record.Status != models.SubagentRunning {
		return fmt.Errorf("sub-agent not running: %s", t.record.Status)
	}
	t.record.Status = models.SubagentCancelled
	now := time.Now()
	t.record.CompletedAt = &now
	result := models.SubagentResult{Success: false, Error: "cancelled", DurationMs: now.Sub(t.record.StartedAt).Milliseconds()}
	t.record.Result = &result
	if m.Metrics != nil {
		m.Metrics.RecordSubagentCompletion(t.record.AgentDefID, string(models.SubagentCancelled))
	}
	select {
	case t.done <- result:
	default:
	}
	return nil
}
