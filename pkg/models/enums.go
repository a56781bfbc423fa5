// Package models holds the domain entities shared by the store, queue, and
// pipeline packages: experiments, tasks, trials, and the queue/slot rows that
// back the job scheduler.
package models

// TaskStatus is the pipeline status of a task.
type TaskStatus string

// Task pipeline states. Monotonic forward except for the explicit retry path
// (RetryTrial), which may revert a terminal task back to StatusRunning.
const (
	TaskStatusPending        TaskStatus = "pending"
	TaskStatusRunning        TaskStatus = "running"
	TaskStatusAnalyzing      TaskStatus = "analyzing"
	TaskStatusVerdictPending TaskStatus = "verdict_pending"
	TaskStatusCompleted      TaskStatus = "completed"
	TaskStatusFailed         TaskStatus = "failed"
)

// Priority is the task submission priority.
type Priority string

// Priorities, highest first.
const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

// TrialStatus is the execution status of a trial.
type TrialStatus string

// Trial execution states.
const (
	TrialStatusPending  TrialStatus = "pending"
	TrialStatusQueued   TrialStatus = "queued"
	TrialStatusRunning  TrialStatus = "running"
	TrialStatusRetrying TrialStatus = "retrying"
	TrialStatusSuccess  TrialStatus = "success"
	TrialStatusFailed   TrialStatus = "failed"
)

// Terminal reports whether a trial status will never transition again without
// an explicit retry.
func (s TrialStatus) Terminal() bool {
	return s == TrialStatusSuccess || s == TrialStatusFailed
}

// InFlight reports whether a trial still occupies a pipeline slot (counted by
// maybe_start_analysis_stage's fan-in check).
func (s TrialStatus) InFlight() bool {
	switch s {
	case TrialStatusPending, TrialStatusQueued, TrialStatusRunning, TrialStatusRetrying:
		return true
	default:
		return false
	}
}

// HarborStage is the coarse lifecycle label a sandbox runner reports via its
// lifecycle hook callback.
type HarborStage string

// Harbor stage labels.
const (
	HarborStageStarting          HarborStage = "starting"
	HarborStageEnvironmentSetup  HarborStage = "environment_setup"
	HarborStageAgentRunning      HarborStage = "agent_running"
	HarborStageVerification      HarborStage = "verification"
	HarborStageCompleted         HarborStage = "completed"
	HarborStageCancelled         HarborStage = "cancelled"
)

// AnalysisStatus is the per-trial analysis classification status.
type AnalysisStatus string

// Analysis states. The empty string means "no analysis requested yet" and is
// stored as SQL NULL.
const (
	AnalysisStatusPending AnalysisStatus = "pending"
	AnalysisStatusQueued  AnalysisStatus = "queued"
	AnalysisStatusRunning AnalysisStatus = "running"
	AnalysisStatusSuccess AnalysisStatus = "success"
	AnalysisStatusFailed  AnalysisStatus = "failed"
)

// Pending reports whether the analysis has not yet produced a terminal
// outcome — used by the verdict fan-in count.
func (s AnalysisStatus) Pending() bool {
	switch s {
	case "", AnalysisStatusPending, AnalysisStatusQueued, AnalysisStatusRunning:
		return true
	default:
		return false
	}
}

// VerdictStatus is the task-level verdict synthesis status.
type VerdictStatus string

// Verdict states.
const (
	VerdictStatusQueued  VerdictStatus = "queued"
	VerdictStatusRunning VerdictStatus = "running"
	VerdictStatusSuccess VerdictStatus = "success"
	VerdictStatusFailed  VerdictStatus = "failed"
)

// Classification is the taxonomy returned by the external classifier.
type Classification string

// Classifier outcomes.
const (
	ClassificationGoodSuccess  Classification = "GOOD_SUCCESS"
	ClassificationGoodFailure  Classification = "GOOD_FAILURE"
	ClassificationBadSuccess   Classification = "BAD_SUCCESS"
	ClassificationBadFailure   Classification = "BAD_FAILURE"
	ClassificationHarnessError Classification = "HARNESS_ERROR"
)

// JobStatus is the status of a row in the jobq table.
type JobStatus string

// Queue row states.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusPicked    JobStatus = "picked"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobType identifies which handler a queue row dispatches to.
type JobType string

// Job types, one per pipeline stage.
const (
	JobTypeTrial    JobType = "trial"
	JobTypeAnalysis JobType = "analysis"
	JobTypeVerdict  JobType = "verdict"
)
