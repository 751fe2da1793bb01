package models

import "time"

// AgentStatusKind is the terminal-or-not classification of an AgentState.
type AgentStatusKind string

const (
	StatusRunning           AgentStatusKind = "running"
	StatusCompleted         AgentStatusKind = "completed"
	StatusFailed            AgentStatusKind = "failed"
	StatusMaxIterations     AgentStatusKind = "max_iterations"
	StatusInterrupted       AgentStatusKind = "interrupted"
	StatusResourceExhausted AgentStatusKind = "resource_exhausted"
)

// AgentStatus is the sum-type status of an AgentState, realized as a tagged
// struct since Go has no enum-with-payload. Err is populated for Failed and
// ResourceExhausted; Reason is populated for Interrupted.
type AgentStatus struct {
	Kind   AgentStatusKind `json:"kind"`
	Err    string          `json:"err,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// IsTerminal reports whether the status is anything other than Running.
func (s AgentStatus) IsTerminal() bool {
	return s.Kind != StatusRunning
}

func Running() AgentStatus { return AgentStatus{Kind: StatusRunning} }

func Completed() AgentStatus { return AgentStatus{Kind: StatusCompleted} }

func Failed(err string) AgentStatus { return AgentStatus{Kind: StatusFailed, Err: err} }

func MaxIterationsReached() AgentStatus { return AgentStatus{Kind: StatusMaxIterations} }

func Interrupted(reason string) AgentStatus {
	return AgentStatus{Kind: StatusInterrupted, Reason: reason}
}

func ResourceExhausted(err string) AgentStatus {
	return AgentStatus{Kind: StatusResourceExhausted, Err: err}
}

// AgentState is the authoritative per-invocation record. Version is a
// monotone counter bumped on every mutation (message append, status change,
// iteration increment); it is the checkpoint identity for optimistic
// reasoning about concurrent resume attempts.
type AgentState struct {
	ExecutionID   string         `json:"execution_id"`
	Status        AgentStatus    `json:"status"`
	Messages      []Message      `json:"messages"`
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"max_iterations"`
	Version       int64          `json:"version"`
	Context       map[string]any `json:"context,omitempty"`
	FinalAnswer   *string        `json:"final_answer,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
}

// NewAgentState creates a fresh Running state for a new invocation.
func NewAgentState(executionID string, maxIterations int) *AgentState {
	return &AgentState{
		ExecutionID:   executionID,
		Status:        Running(),
		MaxIterations: maxIterations,
		Context:       map[string]any{},
		StartedAt:     time.Now(),
	}
}

// IsTerminal reports whether the run has reached a non-Running status.
func (s *AgentState) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// AppendMessage appends to the strictly append-only message history and
// bumps the version. The history pipeline (§4.3) only ever transforms a copy
// for the outgoing LLM request; the stored slice here is never rewritten.
func (s *AgentState) AppendMessage(m Message) {
	s.Messages = append(s.Messages, m)
	s.Version++
}

func (s *AgentState) setTerminal(status AgentStatus) {
	s.Status = status
	now := time.Now()
	s.EndedAt = &now
	s.Version++
}

// Complete marks the run successfully finished with the given final answer.
func (s *AgentState) Complete(answer string) {
	s.FinalAnswer = &answer
	s.setTerminal(Completed())
}

// Fail marks the run terminally failed.
func (s *AgentState) Fail(err string) {
	s.setTerminal(Failed(err))
}

// HitMaxIterations marks the run terminated by the iteration cap.
func (s *AgentState) HitMaxIterations() {
	s.setTerminal(MaxIterationsReached())
}

// Interrupt marks the run paused pending external action (approval, cancel).
func (s *AgentState) Interrupt(reason string) {
	s.setTerminal(Interrupted(reason))
}

// ExhaustResources marks the run terminated by a resource cap other than
// max-iterations (e.g. max tool calls).
func (s *AgentState) ExhaustResources(err string) {
	s.setTerminal(ResourceExhausted(err))
}

// NextIteration increments the iteration counter and bumps version.
func (s *AgentState) NextIteration() {
	s.Iteration++
	s.Version++
}

// AgentResult is the public outcome of Run/RunWithState.
type AgentResult struct {
	Success    bool        `json:"success"`
	Answer     *string     `json:"answer,omitempty"`
	Error      *string     `json:"error,omitempty"`
	Iterations int         `json:"iterations"`
	TotalTokens int        `json:"total_tokens"`
	State      *AgentState `json:"state"`
}

// ResultFromState derives an AgentResult from a terminal AgentState.
func ResultFromState(s *AgentState, totalTokens int) AgentResult {
	result := AgentResult{
		Iterations:  s.Iteration,
		TotalTokens: totalTokens,
		State:       s,
		Success:     s.Status.Kind == StatusCompleted,
	}
	if s.FinalAnswer != nil {
		result.Answer = s.FinalAnswer
	}
	switch s.Status.Kind {
	case StatusFailed, StatusResourceExhausted:
		err := s.Status.Err
		result.Error = &err
	case StatusInterrupted:
		err := s.Status.Reason
		result.Error = &err
	case StatusMaxIterations:
		err := "max iterations exceeded"
		result.Error = &err
	}
	return result
}

// ErrorCategory classifies why a tool (or LLM call) failed, driving retry
// and propagation policy (§7).
type ErrorCategory string

const (
	ErrorAuth      ErrorCategory = "auth"
	ErrorConfig    ErrorCategory = "config"
	ErrorTransient ErrorCategory = "transient"
	ErrorInput     ErrorCategory = "input"
	ErrorUnknown   ErrorCategory = "unknown"
)

// ToolOutput is the structured result of a single tool execution.
// result.pending_approval == true (surfaced via PendingApproval here) is a
// sentinel meaning the call must be held via checkpoint rather than retried.
type ToolOutput struct {
	Success         bool            `json:"success"`
	Result          any             `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	ErrorCategory   ErrorCategory   `json:"error_category,omitempty"`
	Retryable       bool            `json:"retryable,omitempty"`
	RetryAfterMs    int             `json:"retry_after_ms,omitempty"`
	PendingApproval bool            `json:"pending_approval,omitempty"`
}

// StuckFingerprint identifies one tool invocation for repetition detection.
type StuckFingerprint struct {
	ToolName string `json:"tool_name"`
	ArgsHash string `json:"args_hash"`
}
