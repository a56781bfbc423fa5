package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evalpipe/evalpipe/pkg/models"
)

// TaskStore persists models.Task rows and implements the task-row-lock
// helpers the pipeline fan-in functions (§4.7) depend on.
type TaskStore struct{}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{}
}

// ErrTaskNotFound is returned when no row matches.
var ErrTaskNotFound = errors.New("task not found")

// Create inserts a new task row in status pending.
func (s *TaskStore) Create(ctx context.Context, db Queryer, t *models.Task) error {
	tags := t.Tags
	if tags == nil {
		tags = json.RawMessage(`{}`)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, tenant_id, submitted_by, priority, status,
			artifact_path, artifact_in_store, experiment_id, run_analysis, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9, $10, now())`,
		t.ID, t.Name, t.TenantID, t.SubmittedBy, t.Priority,
		t.ArtifactPath, t.ArtifactInStore, t.ExperimentID, t.RunAnalysis, tags,
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

// Get fetches a task by id without locking.
func (s *TaskStore) Get(ctx context.Context, db Queryer, id string) (*models.Task, error) {
	var t models.Task
	if err := db.GetContext(ctx, &t, `SELECT * FROM tasks WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

// GetForUpdate row-locks a task for the duration of the caller's
// transaction. Used by maybe_start_analysis_stage / maybe_start_verdict_stage
// (spec §4.7) as the serialization point for fan-in.
func (s *TaskStore) GetForUpdate(ctx context.Context, tx Queryer, id string) (*models.Task, error) {
	var t models.Task
	if err := tx.GetContext(ctx, &t, `SELECT * FROM tasks WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task %s for update: %w", id, err)
	}
	return &t, nil
}

// MarkRunning transitions a pending task to running.
func (s *TaskStore) MarkRunning(ctx context.Context, db Queryer, id string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE tasks SET status = 'running', started_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark task %s running: %w", id, err)
	}
	return nil
}

// SetStatus unconditionally sets a task's pipeline status, used by the
// fan-in transitions which already hold the row lock.
func (s *TaskStore) SetStatus(ctx context.Context, db Queryer, id, status string) error {
	_, err := db.ExecContext(ctx, `UPDATE tasks SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set task %s status=%s: %w", id, status, err)
	}
	return nil
}

// Finish sets a task's terminal status and finished_at.
func (s *TaskStore) Finish(ctx context.Context, db Queryer, id, status string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE tasks SET status = $2, finished_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("finish task %s status=%s: %w", id, status, err)
	}
	return nil
}

// SetVerdictQueued sets verdict_status = queued as part of the same
// transaction that enqueues the verdict job.
func (s *TaskStore) SetVerdictQueued(ctx context.Context, db Queryer, id string) error {
	_, err := db.ExecContext(ctx, `UPDATE tasks SET verdict_status = 'queued' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set task %s verdict queued: %w", id, err)
	}
	return nil
}

// SetVerdictRunning marks verdict_status = running.
func (s *TaskStore) SetVerdictRunning(ctx context.Context, db Queryer, id string) error {
	_, err := db.ExecContext(ctx, `UPDATE tasks SET verdict_status = 'running' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set task %s verdict running: %w", id, err)
	}
	return nil
}

// StoreVerdict persists the synthesized verdict payload and terminal
// verdict status, without changing task.status (the caller decides that
// separately, per spec §4.5 step 5).
func (s *TaskStore) StoreVerdict(ctx context.Context, db Queryer, id, verdictStatus string, payload json.RawMessage, verdictErr *string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE tasks SET verdict_status = $2, verdict_payload = $3 WHERE id = $1`,
		id, verdictStatus, payload,
	)
	if err != nil {
		return fmt.Errorf("store verdict for task %s: %w", id, err)
	}
	_ = verdictErr // surfaced via verdict_payload.error by the verdict handler
	return nil
}

// ResetForRetry reverts a terminal task back to running, used by the
// explicit retry-trial operation (spec §4.3).
func (s *TaskStore) ResetForRetry(ctx context.Context, db Queryer, id string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE tasks SET status = 'running'
		WHERE id = $1 AND status IN ('completed', 'failed')`,
		id,
	)
	if err != nil {
		return fmt.Errorf("reset task %s for retry: %w", id, err)
	}
	return nil
}
