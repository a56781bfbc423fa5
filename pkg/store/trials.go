package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/evalpipe/evalpipe/pkg/models"
)

// TrialStore persists models.Trial rows.
type TrialStore struct{}

// NewTrialStore constructs a TrialStore.
func NewTrialStore() *TrialStore {
	return &TrialStore{}
}

// ErrTrialNotFound is returned when no row matches.
var ErrTrialNotFound = errors.New("trial not found")

// Create inserts a new trial row in status pending.
func (s *TrialStore) Create(ctx context.Context, db Queryer, t *models.Trial) error {
	sandboxConfig := t.SandboxConfig
	if sandboxConfig == nil {
		sandboxConfig = json.RawMessage(`{}`)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO trials (id, task_id, trial_index, name, agent, model, queue_key,
			provider, status, attempts, max_attempts, sandbox_config, environment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', 0, $9, $10, $11, now())`,
		t.ID, t.TaskID, t.Index, t.Name, t.Agent, t.Model, t.QueueKey,
		t.Provider, t.MaxAttempts, sandboxConfig, t.Environment,
	)
	if err != nil {
		return fmt.Errorf("create trial %s: %w", t.ID, err)
	}
	return nil
}

// Get fetches a trial by id.
func (s *TrialStore) Get(ctx context.Context, db Queryer, id string) (*models.Trial, error) {
	var t models.Trial
	if err := db.GetContext(ctx, &t, `SELECT * FROM trials WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTrialNotFound
		}
		return nil, fmt.Errorf("get trial %s: %w", id, err)
	}
	return &t, nil
}

// ListByTask returns every trial belonging to a task, ordered by index.
func (s *TrialStore) ListByTask(ctx context.Context, db Queryer, taskID string) ([]models.Trial, error) {
	var trials []models.Trial
	if err := db.SelectContext(ctx, &trials, `
		SELECT * FROM trials WHERE task_id = $1 ORDER BY trial_index ASC`, taskID,
	); err != nil {
		return nil, fmt.Errorf("list trials for task %s: %w", taskID, err)
	}
	return trials, nil
}

// CountByStatus counts trials of a task whose status is in the given set,
// used by the fan-in functions (spec §4.7 step 4).
func (s *TrialStore) CountByStatus(ctx context.Context, tx Queryer, taskID string, statuses []models.TrialStatus) (int, error) {
	strs := make([]string, len(statuses))
	for i, st := range statuses {
		strs[i] = string(st)
	}
	var count int
	err := tx.GetContext(ctx, &count, `
		SELECT count(*) FROM trials WHERE task_id = $1 AND status = ANY($2::text[])`,
		taskID, strs,
	)
	if err != nil {
		return 0, fmt.Errorf("count trials by status for task %s: %w", taskID, err)
	}
	return count, nil
}

// CountByAnalysisStatus counts trials whose analysis_status is in the given
// set, also counting rows whose analysis_status is SQL NULL when
// includeNull is true (spec §4.7 steps 5/§4.7 verdict step 4).
func (s *TrialStore) CountByAnalysisStatus(ctx context.Context, tx Queryer, taskID string, statuses []models.AnalysisStatus, includeNull bool) (int, error) {
	strs := make([]string, len(statuses))
	for i, st := range statuses {
		strs[i] = string(st)
	}
	var count int
	err := tx.GetContext(ctx, &count, `
		SELECT count(*) FROM trials
		WHERE task_id = $1
		AND (analysis_status = ANY($2::text[]) OR (analysis_status IS NULL AND $3))`,
		taskID, strs, includeNull,
	)
	if err != nil {
		return 0, fmt.Errorf("count trials by analysis status for task %s: %w", taskID, err)
	}
	return count, nil
}

// MarkRunning transitions a trial to running on claim, incrementing
// attempts and setting the idempotency token if absent (spec §4.3 step 2).
func (s *TrialStore) MarkRunning(ctx context.Context, db Queryer, id, idempotencyToken string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE trials SET
			status = 'running',
			started_at = now(),
			harbor_stage = 'starting',
			attempts = attempts + 1,
			idempotency_token = COALESCE(idempotency_token, $2)
		WHERE id = $1`,
		id, idempotencyToken,
	)
	if err != nil {
		return fmt.Errorf("mark trial %s running: %w", id, err)
	}
	return nil
}

// UpdateHarborStage writes the coarse lifecycle label from a sandbox-runner
// hook event (spec §4.3 step 4).
func (s *TrialStore) UpdateHarborStage(ctx context.Context, db Queryer, id string, stage models.HarborStage) error {
	_, err := db.ExecContext(ctx, `UPDATE trials SET harbor_stage = $2 WHERE id = $1`, id, stage)
	if err != nil {
		return fmt.Errorf("update harbor stage for trial %s: %w", id, err)
	}
	return nil
}

// PreTerminalize writes the end-hook's authoritative outcome ahead of the
// runner wrapper returning, so a SIGKILLed worker still leaves the trial in
// a terminal state rather than orphaned running (spec §9).
func (s *TrialStore) PreTerminalize(ctx context.Context, db Queryer, id string, reward *int, errMsg *string) error {
	status := "failed"
	if reward != nil {
		status = "success"
	}
	_, err := db.ExecContext(ctx, `
		UPDATE trials SET status = $2, harbor_stage = 'completed', reward = $3, error_message = $4
		WHERE id = $1`,
		id, status, reward, errMsg,
	)
	if err != nil {
		return fmt.Errorf("pre-terminalize trial %s: %w", id, err)
	}
	return nil
}

// TerminalizeSuccess records a full successful outcome.
func (s *TrialStore) TerminalizeSuccess(ctx context.Context, db Queryer, id string, outcome TrialOutcome) error {
	_, err := db.ExecContext(ctx, `
		UPDATE trials SET
			status = 'success',
			finished_at = now(),
			reward = $2,
			artifact_path = $3,
			input_tokens = $4,
			cache_tokens = $5,
			output_tokens = $6,
			cost_usd = $7,
			phase_timing = $8,
			has_trajectory = $9
		WHERE id = $1`,
		id, outcome.Reward, outcome.ArtifactPath, outcome.InputTokens,
		outcome.CacheTokens, outcome.OutputTokens, outcome.CostUSD,
		outcome.PhaseTiming, outcome.HasTrajectory,
	)
	if err != nil {
		return fmt.Errorf("terminalize trial %s success: %w", id, err)
	}
	return nil
}

// TrialOutcome is the set of fields captured from a successful sandbox run.
type TrialOutcome struct {
	Reward        *int
	ArtifactPath  *string
	InputTokens   *int64
	CacheTokens   *int64
	OutputTokens  *int64
	CostUSD       *float64
	PhaseTiming   json.RawMessage
	HasTrajectory bool
}

// TerminalizeFailed records a terminal failure (not retrying).
func (s *TrialStore) TerminalizeFailed(ctx context.Context, db Queryer, id, errMsg string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE trials SET status = 'failed', finished_at = now(), error_message = $2
		WHERE id = $1`,
		id, errMsg,
	)
	if err != nil {
		return fmt.Errorf("terminalize trial %s failed: %w", id, err)
	}
	return nil
}

// MarkRetrying sets status = retrying without clearing the idempotency
// token, preserving trial-execution lineage across the automatic retry, and
// stamps retry_at so the dispatcher's retry sweep knows when the trial
// becomes re-claimable (spec §4.3 step 6, §9).
func (s *TrialStore) MarkRetrying(ctx context.Context, db Queryer, id, errMsg string, retryTimer time.Duration) error {
	_, err := db.ExecContext(ctx, `
		UPDATE trials SET status = 'retrying', error_message = $2,
			retry_at = now() + ($3 || ' seconds')::interval
		WHERE id = $1`,
		id, errMsg, int(retryTimer.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("mark trial %s retrying: %w", id, err)
	}
	return nil
}

// ListDueForRetry returns every trial in status retrying whose retry_at has
// elapsed, for the dispatcher's retry sweep (spec §4.3 step 6, §8 scenario 3).
func (s *TrialStore) ListDueForRetry(ctx context.Context, db Queryer) ([]models.Trial, error) {
	var trials []models.Trial
	if err := db.SelectContext(ctx, &trials, `
		SELECT * FROM trials WHERE status = 'retrying' AND retry_at <= now()`,
	); err != nil {
		return nil, fmt.Errorf("list trials due for retry: %w", err)
	}
	return trials, nil
}

// RequeueAfterRetry transitions a retrying trial back to queued ahead of the
// dispatcher enqueuing its fresh job, guarded on status='retrying' so a
// concurrent sweep tick cannot requeue the same trial twice.
func (s *TrialStore) RequeueAfterRetry(ctx context.Context, db Queryer, id string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE trials SET status = 'queued', retry_at = NULL
		WHERE id = $1 AND status = 'retrying'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("requeue trial %s after retry: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("requeue trial %s after retry: %w", id, err)
	}
	return n == 1, nil
}

// RecordArtifactPath sets the trial's artifact prefix after upload,
// independent of TerminalizeSuccess (artifacts are captured before the
// final terminalization write, spec §4.3 step 5).
func (s *TrialStore) RecordArtifactPath(ctx context.Context, db Queryer, id, prefix string) error {
	_, err := db.ExecContext(ctx, `UPDATE trials SET artifact_path = $2 WHERE id = $1`, id, prefix)
	if err != nil {
		return fmt.Errorf("record artifact path for trial %s: %w", id, err)
	}
	return nil
}

// ResetForRetry clears reward/error/artifact fields and the idempotency
// token, used by the explicit user-driven retry operation (spec §4.3).
func (s *TrialStore) ResetForRetry(ctx context.Context, db Queryer, id string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE trials SET
			status = 'queued',
			reward = NULL,
			error_message = NULL,
			artifact_path = NULL,
			idempotency_token = NULL,
			analysis_status = NULL,
			analysis_payload = NULL,
			analysis_error = NULL
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("reset trial %s for retry: %w", id, err)
	}
	return nil
}

// SetAnalysisQueued marks analysis_status = queued, used when the trial
// handler enqueues the downstream analysis job in the same transaction as
// its own terminalization (spec §4.3 step 7).
func (s *TrialStore) SetAnalysisQueued(ctx context.Context, db Queryer, id string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE trials SET analysis_status = 'queued'
		WHERE id = $1 AND analysis_status IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("set trial %s analysis queued: %w", id, err)
	}
	return nil
}

// SetAnalysisRunning marks analysis_status = running.
func (s *TrialStore) SetAnalysisRunning(ctx context.Context, db Queryer, id string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE trials SET analysis_status = 'running', analysis_started_at = now()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("set trial %s analysis running: %w", id, err)
	}
	return nil
}

// StoreAnalysis persists the classifier's result, terminalizing the
// analysis stage for this trial (spec §4.4 step 5).
func (s *TrialStore) StoreAnalysis(ctx context.Context, db Queryer, id string, status models.AnalysisStatus, payload json.RawMessage, analysisErr *string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE trials SET
			analysis_status = $2,
			analysis_payload = $3,
			analysis_error = $4,
			analysis_finished_at = now()
		WHERE id = $1`,
		id, status, payload, analysisErr,
	)
	if err != nil {
		return fmt.Errorf("store analysis for trial %s: %w", id, err)
	}
	return nil
}

// ListAnalyzedByTask returns every successfully-analyzed trial for a task,
// for the verdict handler to reconstruct the classification list
// (spec §4.5 step 3).
func (s *TrialStore) ListAnalyzedByTask(ctx context.Context, db Queryer, taskID string) ([]models.Trial, error) {
	var trials []models.Trial
	if err := db.SelectContext(ctx, &trials, `
		SELECT * FROM trials WHERE task_id = $1 AND analysis_status = 'success' ORDER BY trial_index ASC`,
		taskID,
	); err != nil {
		return nil, fmt.Errorf("list analyzed trials for task %s: %w", taskID, err)
	}
	return trials, nil
}
