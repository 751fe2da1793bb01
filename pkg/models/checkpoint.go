package models

import "time"

// Checkpoint is a persisted snapshot of an AgentState plus interrupt
// metadata, resumable at most once. StateJSON carries the entire serialized
// AgentState so a cold process can resume without consulting other tables.
type Checkpoint struct {
	ID                string          `json:"id"`
	ExecutionID       string          `json:"execution_id"`
	TaskID            string          `json:"task_id,omitempty"`
	Version           int64           `json:"version"`
	Iteration         int             `json:"iteration"`
	StateJSON         []byte          `json:"state_json"`
	InterruptReason   string          `json:"interrupt_reason"`
	InterruptMetadata map[string]any  `json:"interrupt_metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ResumedAt         *time.Time      `json:"resumed_at,omitempty"`
	ExpiredAt         time.Time       `json:"expired_at"`
}

// IsResumable reports whether the checkpoint has neither been resumed nor expired.
func (c *Checkpoint) IsResumable(now time.Time) bool {
	return c.ResumedAt == nil && now.Before(c.ExpiredAt)
}

// ResumePayload carries external input supplied when resuming a checkpoint.
type ResumePayload struct {
	CheckpointID string         `json:"checkpoint_id"`
	Approved     bool           `json:"approved"`
	UserMessage  string         `json:"user_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
