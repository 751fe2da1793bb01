package models

import "time"

// SubagentStatus tracks the lifecycle of a spawned child invocation.
type SubagentStatus string

const (
	SubagentPending   SubagentStatus = "pending"
	SubagentRunning   SubagentStatus = "running"
	SubagentCompleted SubagentStatus = "completed"
	SubagentFailed    SubagentStatus = "failed"
	SubagentCancelled SubagentStatus = "cancelled"
	SubagentTimedOut  SubagentStatus = "timed_out"
)

// SubagentResult is the outcome of a completed subagent execution.
type SubagentResult struct {
	Success     bool   `json:"success"`
	Output      string `json:"output"`
	DurationMs  int64  `json:"duration_ms"`
	TokensUsed  *int   `json:"tokens_used,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SubagentRecord tracks one spawned child invocation for the lifetime it is
// known to the Subagent Manager.
type SubagentRecord struct {
	ID          string          `json:"id"`
	ParentID    string          `json:"parent_id,omitempty"`
	AgentDefID  string          `json:"agent_def_id"`
	Task        string          `json:"task"`
	Status      SubagentStatus  `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      *SubagentResult `json:"result,omitempty"`
}

// SpawnRequest describes a requested child invocation.
type SpawnRequest struct {
	ParentID   string
	AgentDefID string
	Task       string
	Depth      int
}

// SpawnHandle is returned immediately from Spawn, before the child completes.
type SpawnHandle struct {
	ID        string
	AgentName string
}

// SubagentDefSnapshot is the immutable definition of a subagent type, as
// resolved at spawn time.
type SubagentDefSnapshot struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	SystemPrompt  string   `json:"system_prompt"`
	AllowedTools  []string `json:"allowed_tools,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty"`
}

// SubagentDefSummary is a lightweight listing entry for callable subagent types.
type SubagentDefSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
