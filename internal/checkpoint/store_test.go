package checkpoint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/restflow/engine/pkg/models"
)

// memStore is a minimal in-memory Store used to test the prepare/commit/resume
// logic independent of the SQLite-backed implementation.
type memStore struct {
	mu   sync.Mutex
	byID map[string]*models.Checkpoint
}

func newMemStore() *memStore { return &memStore{byID: map[string]*models.Checkpoint{}} }

func (s *memStore) SaveCheckpoint(_ context.Context, cp *models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cp.ID] = cp
	return nil
}

func (s *memStore) LoadCheckpoint(_ context.Context, id string) (*models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *cp
	return &clone, nil
}

func (s *memStore) LoadCheckpointByTaskID(_ context.Context, taskID string) (*models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cp := range s.byID {
		if cp.TaskID == taskID {
			clone := *cp
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) MarkResumed(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if cp.ResumedAt != nil {
		return ErrAlreadyResumed
	}
	cp.ResumedAt = &now
	return nil
}

func (s *memStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, cp := range s.byID {
		if cp.ResumedAt == nil && !now.Before(cp.ExpiredAt) {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

func TestPrepareCommit_OnlyPersistedOnSuccess(t *testing.T) {
	store := newMemStore()
	state := models.NewAgentState("exec-1", 5)
	state.AppendMessage(models.NewUserMessage("do the risky thing"))

	uc, err := Prepare(state, "task-1", "approval required", map[string]any{"tool_call_id": "c1"}, 0)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if uc.version != state.Version {
		t.Fatalf("checkpoint version %d != state version %d", uc.version, state.Version)
	}

	// Simulate the motivating operation failing: the caller just discards.
	uc.Discard()
	if len(store.byID) != 0 {
		t.Fatalf("expected nothing persisted on failure, got %d rows", len(store.byID))
	}

	// Simulate success: commit.
	cp, err := uc.Commit(context.Background(), store, time.Now())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(store.byID) != 1 {
		t.Fatalf("expected exactly one persisted checkpoint, got %d", len(store.byID))
	}
	if cp.Version != state.Version {
		t.Fatalf("persisted version mismatch")
	}
}

func TestResume_AppendsUserMessageAndClearsTerminal(t *testing.T) {
	store := newMemStore()
	state := models.NewAgentState("exec-1", 5)
	state.AppendMessage(models.NewUserMessage("goal"))
	state.Interrupt("approval required")

	uc, err := Prepare(state, "task-1", "approval required", nil, time.Hour)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	cp, err := uc.Commit(context.Background(), store, time.Now())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	resumed, err := Resume(context.Background(), store, models.ResumePayload{
		CheckpointID: cp.ID,
		Approved:     true,
		UserMessage:  "yes, proceed",
	}, time.Now())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.IsTerminal() {
		t.Fatalf("expected resumed state to be Running, got %v", resumed.Status)
	}
	if len(resumed.Messages) != 2 || resumed.Messages[1].Content != "yes, proceed" {
		t.Fatalf("expected resumed messages to be a prefix-equal extension, got %+v", resumed.Messages)
	}

	// A second resume of the same checkpoint must fail.
	_, err = Resume(context.Background(), store, models.ResumePayload{CheckpointID: cp.ID}, time.Now())
	if err != ErrAlreadyResumed {
		t.Fatalf("expected ErrAlreadyResumed on second resume, got %v", err)
	}
}

func TestResume_ExpiredCheckpointRejected(t *testing.T) {
	store := newMemStore()
	state := models.NewAgentState("exec-1", 5)
	state.Interrupt("approval required")

	uc, err := Prepare(state, "task-1", "approval required", nil, time.Millisecond)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	cp, err := uc.Commit(context.Background(), store, past)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_, err = Resume(context.Background(), store, models.ResumePayload{CheckpointID: cp.ID}, time.Now())
	if err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestSweepExpired_RemovesOnlyUnresumedPastTTL(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	store.byID["expired"] = &models.Checkpoint{ID: "expired", ExpiredAt: now.Add(-time.Minute)}
	store.byID["fresh"] = &models.Checkpoint{ID: "fresh", ExpiredAt: now.Add(time.Hour)}
	resumedAt := now.Add(-time.Minute)
	store.byID["resumed-but-expired"] = &models.Checkpoint{ID: "resumed-but-expired", ExpiredAt: now.Add(-time.Minute), ResumedAt: &resumedAt}

	n, err := store.SweepExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if _, ok := store.byID["fresh"]; !ok {
		t.Fatalf("fresh checkpoint should survive sweep")
	}
	if _, ok := store.byID["resumed-but-expired"]; !ok {
		t.Fatalf("resumed checkpoints should never be swept even past expiry")
	}
}
