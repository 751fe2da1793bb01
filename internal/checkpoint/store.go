// Package checkpoint implements the transactional checkpoint pattern from
// spec.md §4.5: prepare an in-memory snapshot before a risky tool call,
// execute the call, and only persist the snapshot if the call actually
// succeeded. A checkpoint is resumable at most once and expires after a TTL.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/restflow/engine/pkg/models"
)

// DefaultTTL is the checkpoint lifetime named in §4.5.
const DefaultTTL = 24 * time.Hour

var (
	// ErrNotFound is returned when a checkpoint id or task id has no record.
	ErrNotFound = errors.New("checkpoint: not found")
	// ErrAlreadyResumed is returned by MarkResumed on a second resume attempt.
	ErrAlreadyResumed = errors.New("checkpoint: already resumed")
	// ErrExpired is returned when resuming a checkpoint past its expiry.
	ErrExpired = errors.New("checkpoint: expired")
)

// Store persists Checkpoint records. Implementations must make MarkResumed
// atomic: only the first caller for a given id may succeed.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error
	LoadCheckpoint(ctx context.Context, id string) (*models.Checkpoint, error)
	LoadCheckpointByTaskID(ctx context.Context, taskID string) (*models.Checkpoint, error)
	MarkResumed(ctx context.Context, id string, now time.Time) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// UncommittedCheckpoint is an in-memory snapshot captured before a risky
// operation runs. No database write occurs until Commit is called; if the
// operation that motivated the checkpoint fails, the caller simply drops
// this value and nothing is ever persisted — satisfying invariant 7 in
// spec.md §8 ("no checkpoint prepared for a failed invocation is ever
// persisted").
type UncommittedCheckpoint struct {
	id                string
	executionID       string
	taskID            string
	version           int64
	iteration         int
	stateJSON         []byte
	interruptReason   string
	interruptMetadata map[string]any
	ttl               time.Duration
}

// Prepare captures state into an UncommittedCheckpoint. The checkpoint's
// version is fixed to state.Version at this instant, matching invariant 1
// in §8 (a checkpoint's version equals AgentState.Version at prepare time).
func Prepare(state *models.AgentState, taskID, reason string, metadata map[string]any, ttl time.Duration) (*UncommittedCheckpoint, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return &UncommittedCheckpoint{
		id:                uuid.NewString(),
		executionID:       state.ExecutionID,
		taskID:            taskID,
		version:           state.Version,
		iteration:         state.Iteration,
		stateJSON:         stateJSON,
		interruptReason:   reason,
		interruptMetadata: metadata,
		ttl:               ttl,
	}, nil
}

// Commit persists the prepared snapshot. Call this only after the
// operation that motivated the checkpoint has returned success.
func (u *UncommittedCheckpoint) Commit(ctx context.Context, store Store, now time.Time) (*models.Checkpoint, error) {
	cp := &models.Checkpoint{
		ID:                u.id,
		ExecutionID:       u.executionID,
		TaskID:            u.taskID,
		Version:           u.version,
		Iteration:         u.iteration,
		StateJSON:         u.stateJSON,
		InterruptReason:   u.interruptReason,
		InterruptMetadata: u.interruptMetadata,
		CreatedAt:         now,
		ExpiredAt:         now.Add(u.ttl),
	}
	if err := store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Discard drops the uncommitted snapshot. It exists purely for readability
// at call sites ("on Err, drop the uncommitted structure") — an
// UncommittedCheckpoint that is never Commit-ed already has no effect.
func (u *UncommittedCheckpoint) Discard() {}

// Resume deserializes a checkpoint's state, appends userMessage (if any) as
// a user message, and marks the checkpoint resumed. It fails if the
// checkpoint was already resumed or has expired, and is safe to race: the
// store's MarkResumed is the atomic gate — only one caller observes nil.
func Resume(ctx context.Context, store Store, payload models.ResumePayload, now time.Time) (*models.AgentState, error) {
	cp, err := store.LoadCheckpoint(ctx, payload.CheckpointID)
	if err != nil {
		return nil, err
	}
	if !cp.IsResumable(now) {
		if cp.ResumedAt != nil {
			return nil, ErrAlreadyResumed
		}
		return nil, ErrExpired
	}
	if err := store.MarkResumed(ctx, cp.ID, now); err != nil {
		return nil, err
	}

	var state models.AgentState
	if err := json.Unmarshal(cp.StateJSON, &state); err != nil {
		return nil, err
	}
	if payload.UserMessage != "" {
		state.AppendMessage(models.NewUserMessage(payload.UserMessage))
	}
	// Resuming clears the terminal Interrupted status so the executor loop
	// re-enters Running; the version bump from AppendMessage (if any) or an
	// explicit bump below keeps the monotone-version invariant intact even
	// when no user message was supplied.
	if payload.UserMessage == "" {
		state.Version++
	}
	state.Status = models.Running()
	state.EndedAt = nil
	return &state, nil
}
