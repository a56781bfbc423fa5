package models

import (
	"encoding/json"
	"time"
)

// Task is one user submission. It expands into one or more trials and,
// optionally, an analysis + verdict phase gated by RunAnalysis.
//
// Invariant: Status is monotonic except for the explicit RetryTrial path,
// which may revert a terminal task (completed/failed) back to running.
// RunAnalysis is immutable once the task row is created.
type Task struct {
	ID           string          `db:"id"`
	Name         string          `db:"name"`
	TenantID     *string         `db:"tenant_id"`
	SubmittedBy  *string         `db:"submitted_by"`
	Priority     Priority        `db:"priority"`
	Status       TaskStatus      `db:"status"`
	ArtifactPath    *string `db:"artifact_path"`       // object-store prefix or local filesystem path
	ArtifactInStore bool    `db:"artifact_in_store"`   // true when ArtifactPath names an object-store prefix
	ExperimentID    string  `db:"experiment_id"`
	RunAnalysis  bool            `db:"run_analysis"`

	VerdictStatus  *VerdictStatus  `db:"verdict_status"`
	VerdictPayload json.RawMessage `db:"verdict_payload"`

	Tags json.RawMessage `db:"tags"` // free-form JSON array/object, opaque to the core

	CreatedAt  time.Time  `db:"created_at"`
	StartedAt  *time.Time `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

// UsesObjectStore reports whether the task's inputs live in object storage
// rather than on a local filesystem path. Per the design notes, artifact
// capture for a trial must upload even when the worker's local storage-enabled
// setting is false, as long as the task itself was materialized this way.
func (t *Task) UsesObjectStore() bool {
	return t.ArtifactInStore && t.ArtifactPath != nil && *t.ArtifactPath != ""
}
