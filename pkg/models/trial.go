package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TrialID formats the deterministic id of the i-th trial of a task.
func TrialID(taskID string, i int) string {
	return fmt.Sprintf("%s-%d", taskID, i)
}

// PhaseTiming holds per-phase duration measurements reported by the sandbox
// runner, stored as opaque JSON.
type PhaseTiming map[string]time.Duration

// Trial is one unit of sandboxed execution: one agent/model pair applied to
// one task.
//
// Invariants: Attempts never exceeds MaxAttempts; a non-nil Reward implies
// Status is terminal (success or failed) and the verifier ran; the
// idempotency token is set on first attempt, preserved across automatic
// retries, and cleared only by the explicit RetryTrial operation.
type Trial struct {
	ID       string      `db:"id"` // "{task_id}-{i}", i 0-based
	TaskID   string      `db:"task_id"`
	Index    int         `db:"trial_index"`
	Name     string      `db:"name"`
	Agent    string      `db:"agent"`
	Model    string      `db:"model"`
	QueueKey string      `db:"queue_key"`
	Provider string      `db:"provider"` // derived reporting label, never used for routing
	Status   TrialStatus `db:"status"`

	Attempts    int `db:"attempts"`
	MaxAttempts int `db:"max_attempts"`

	HarborStage       *HarborStage `db:"harbor_stage"`
	IdempotencyToken  *string      `db:"idempotency_token"`
	Reward            *int         `db:"reward"` // 0 or 1, or NULL
	ErrorMessage      *string      `db:"error_message"`
	ArtifactPath      *string      `db:"artifact_path"`
	SandboxConfig     json.RawMessage `db:"sandbox_config"`
	Environment       string      `db:"environment"`

	InputTokens  *int64   `db:"input_tokens"`
	CacheTokens  *int64   `db:"cache_tokens"`
	OutputTokens *int64   `db:"output_tokens"`
	CostUSD      *float64 `db:"cost_usd"`

	PhaseTiming     json.RawMessage `db:"phase_timing"`
	HasTrajectory   bool            `db:"has_trajectory"`

	AnalysisStatus   *AnalysisStatus `db:"analysis_status"`
	AnalysisPayload  json.RawMessage `db:"analysis_payload"`
	AnalysisError    *string         `db:"analysis_error"`
	AnalysisStartedAt  *time.Time    `db:"analysis_started_at"`
	AnalysisFinishedAt *time.Time    `db:"analysis_finished_at"`

	CreatedAt   time.Time  `db:"created_at"`
	StartedAt   *time.Time `db:"started_at"`
	FinishedAt  *time.Time `db:"finished_at"`

	// RetryAt is the earliest time the dispatcher's retry sweep may
	// re-enqueue this trial, set by MarkRetrying to now()+RetryTimer. Only
	// meaningful while Status is retrying.
	RetryAt *time.Time `db:"retry_at"`
}

// EffectiveAnalysisStatus returns the analysis status treating SQL NULL
// (analysis never requested or not yet queued) as AnalysisStatusPending for
// fan-in counting purposes.
func (t *Trial) EffectiveAnalysisStatus() AnalysisStatus {
	if t.AnalysisStatus == nil {
		return AnalysisStatusPending
	}
	return *t.AnalysisStatus
}

// TrialClassification is the decoded analysis payload, used by the verdict handler
// to reconstruct the classification list for a task.
type TrialClassification struct {
	TrialID        string         `json:"trial_id"`
	Classification Classification `json:"classification"`
	Subtype        string         `json:"subtype"`
	Evidence       string         `json:"evidence"`
	RootCause      string         `json:"root_cause"`
	Recommendation string         `json:"recommendation"`
	Reward         *int           `json:"reward"`
}
