package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/restflow/engine/internal/observability"
	"github.com/restflow/engine/pkg/models"
)

// SQLiteStore persists checkpoints in a pure-Go embedded SQLite database —
// the engine's only durable dependency beyond the process itself, since
// resume must survive a cold process restart (§4.5).
type SQLiteStore struct {
	db     *sql.DB
	logger *observability.Logger

	// Metrics is an optional observability collaborator, nil-checked
	// before use. Set directly after construction.
	Metrics *observability.Metrics
}

// OpenSQLiteStore opens (and, if needed, creates) the checkpoint table at path.
func OpenSQLiteStore(path string, logger *observability.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, matching a single-process engine
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// NewSQLiteStoreFromDB wraps an already-open *sql.DB, used by tests to
// inject a go-sqlmock connection without touching the filesystem.
func NewSQLiteStoreFromDB(db *sql.DB, logger *observability.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		task_id TEXT,
		version INTEGER NOT NULL,
		iteration INTEGER NOT NULL,
		state_json BLOB NOT NULL,
		interrupt_reason TEXT,
		interrupt_metadata TEXT,
		created_at INTEGER NOT NULL,
		resumed_at INTEGER,
		expired_at INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS tool_traces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		tool_call_id TEXT,
		tool_name TEXT,
		input BLOB,
		output TEXT,
		success INTEGER,
		duration_ms INTEGER,
		error TEXT,
		created_at INTEGER NOT NULL
	)`)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// SaveCheckpoint inserts a new checkpoint row.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	meta, err := json.Marshal(cp.InterruptMetadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO checkpoints
		(id, execution_id, task_id, version, iteration, state_json, interrupt_reason, interrupt_metadata, created_at, resumed_at, expired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		cp.ID, cp.ExecutionID, cp.TaskID, cp.Version, cp.Iteration, cp.StateJSON,
		cp.InterruptReason, string(meta), cp.CreatedAt.Unix(), cp.ExpiredAt.Unix(),
	)
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.RecordCheckpointOperation("save", "error")
		}
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	if s.logger != nil {
		s.logger.Info(ctx, "checkpoint saved", "checkpoint_id", cp.ID, "execution_id", cp.ExecutionID, "reason", cp.InterruptReason)
	}
	if s.Metrics != nil {
		s.Metrics.RecordCheckpointOperation("save", "success")
	}
	return nil
}

// LoadCheckpoint loads a checkpoint by its own id.
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, id string) (*models.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, execution_id, task_id, version, iteration, state_json,
		interrupt_reason, interrupt_metadata, created_at, resumed_at, expired_at
		FROM checkpoints WHERE id = ?`, id)
	return scanCheckpoint(row)
}

// LoadCheckpointByTaskID loads the most recently created checkpoint for a task.
func (s *SQLiteStore) LoadCheckpointByTaskID(ctx context.Context, taskID string) (*models.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, execution_id, task_id, version, iteration, state_json,
		interrupt_reason, interrupt_metadata, created_at, resumed_at, expired_at
		FROM checkpoints WHERE task_id = ? ORDER BY created_at DESC LIMIT 1`, taskID)
	return scanCheckpoint(row)
}

// MarkResumed atomically sets resumed_at, but only for a row that has not
// already been resumed — enforcing "resumable at most once" (§8 invariant 8).
func (s *SQLiteStore) MarkResumed(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE checkpoints SET resumed_at = ? WHERE id = ? AND resumed_at IS NULL`, now.Unix(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		cp, loadErr := s.LoadCheckpoint(ctx, id)
		if loadErr != nil {
			if s.Metrics != nil {
				s.Metrics.RecordCheckpointOperation("resume", "error")
			}
			return loadErr
		}
		if s.Metrics != nil {
			s.Metrics.RecordCheckpointOperation("resume", "error")
		}
		if cp.ResumedAt != nil {
			return ErrAlreadyResumed
		}
		return ErrNotFound
	}
	if s.Metrics != nil {
		s.Metrics.RecordCheckpointOperation("resume", "success")
	}
	return nil
}

// SweepExpired deletes checkpoints past their expiry that were never
// resumed, returning the number removed.
func (s *SQLiteStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE expired_at <= ? AND resumed_at IS NULL`, now.Unix())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if s.logger != nil && n > 0 {
		s.logger.Info(ctx, "checkpoint sweep", "expired_removed", n)
	}
	if s.Metrics != nil {
		s.Metrics.RecordCheckpointOperation("sweep", "success")
	}
	return int(n), nil
}

// AppendTrace persists one tool invocation lifecycle record, implementing
// agent.TraceSink so a PersistingEmitter can be backed by the same database
// the engine already uses for checkpoints (§4.7, §6).
func (s *SQLiteStore) AppendTrace(ctx context.Context, trace models.ToolTrace) error {
	var success sql.NullBool
	if trace.Success != nil {
		success = sql.NullBool{Bool: *trace.Success, Valid: true}
	}
	var durationMs sql.NullInt64
	if trace.DurationMs != nil {
		durationMs = sql.NullInt64{Int64: *trace.DurationMs, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tool_traces
		(session_id, turn_id, event_type, tool_call_id, tool_name, input, output, success, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trace.SessionID, trace.TurnID, string(trace.EventType), trace.ToolCallID, trace.ToolName,
		[]byte(trace.Input), trace.Output, success, durationMs, trace.Error, trace.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: append trace: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*models.Checkpoint, error) {
	var (
		cp          models.Checkpoint
		metaJSON    string
		createdUnix int64
		expiredUnix int64
		resumedUnix sql.NullInt64
	)
	err := row.Scan(&cp.ID, &cp.ExecutionID, &cp.TaskID, &cp.Version, &cp.Iteration, &cp.StateJSON,
		&cp.InterruptReason, &metaJSON, &createdUnix, &resumedUnix, &expiredUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cp.CreatedAt = time.Unix(createdUnix, 0).UTC()
	cp.ExpiredAt = time.Unix(expiredUnix, 0).UTC()
	if resumedUnix.Valid {
		t := time.Unix(resumedUnix.Int64, 0).UTC()
		cp.ResumedAt = &t
	}
	if metaJSON != "" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &cp.InterruptMetadata); err != nil {
			return nil, err
		}
	}
	return &cp, nil
}

var _ Store = (*SQLiteStore)(nil)
