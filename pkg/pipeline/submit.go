package pipeline

import (
	"context"
	"fmt"

	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/queue"
	"github.com/evalpipe/evalpipe/pkg/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TaskSubmissionService is the collaborator that sits in front of the
// pipeline core: it is what an HTTP API handler calls to submit a task
// (the HTTP surface itself is out of scope, per SPEC_FULL.md's API
// collaborator note, but the submission semantics it depends on live here so
// the pipeline can be exercised end to end).
type TaskSubmissionService struct {
	*Pipeline
	experiments *store.ExperimentStore
}

// NewTaskSubmissionService constructs a TaskSubmissionService.
func NewTaskSubmissionService(p *Pipeline) *TaskSubmissionService {
	return &TaskSubmissionService{Pipeline: p, experiments: store.NewExperimentStore()}
}

// TrialSpec is one agent/model/environment combination to run for a task.
type TrialSpec struct {
	Agent       string
	Model       string
	Environment string
	SandboxRaw  []byte
}

// SubmitTaskRequest is everything the API collaborator gathers from the
// caller before invoking Submit.
type SubmitTaskRequest struct {
	Name            string
	TenantID        *string
	SubmittedBy     *string
	Priority        models.Priority
	ExperimentName  string
	ArtifactPath    string
	ArtifactInStore bool
	RunAnalysis     bool
	MaxAttempts     int
	Trials          []TrialSpec
	Tags            []byte
}

// Submit creates the experiment (if needed), the task, and one trial row per
// requested agent/model/environment combination, then enqueues one trial job
// per trial — all inside a single transaction (spec §3, §4.1, §4.2).
func (s *TaskSubmissionService) Submit(ctx context.Context, req SubmitTaskRequest) (*models.Task, error) {
	if len(req.Trials) == 0 {
		return nil, fmt.Errorf("submit task %q: at least one trial is required", req.Name)
	}

	task := &models.Task{
		ID:              uuid.NewString(),
		Name:            req.Name,
		TenantID:        req.TenantID,
		SubmittedBy:     req.SubmittedBy,
		Priority:        req.Priority,
		Status:          models.TaskStatusPending,
		ArtifactPath:    &req.ArtifactPath,
		ArtifactInStore: req.ArtifactInStore,
		RunAnalysis:     req.RunAnalysis,
		Tags:            req.Tags,
	}

	err := store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		experiment, err := s.experiments.GetOrCreateByName(ctx, tx, uuid.NewString(), req.ExperimentName, req.TenantID)
		if err != nil {
			return fmt.Errorf("resolve experiment %q: %w", req.ExperimentName, err)
		}
		task.ExperimentID = experiment.ID

		if err := s.tasks.Create(ctx, tx, task); err != nil {
			return err
		}

		maxAttempts := req.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = s.cfg.MaxAttempts
		}

		for i, spec := range req.Trials {
			trial := &models.Trial{
				ID:            models.TrialID(task.ID, i),
				TaskID:        task.ID,
				Index:         i,
				Name:          fmt.Sprintf("%s/%s", spec.Agent, spec.Model),
				Agent:         spec.Agent,
				Model:         spec.Model,
				Environment:   spec.Environment,
				SandboxConfig: spec.SandboxRaw,
				Status:        models.TrialStatusQueued,
				MaxAttempts:   maxAttempts,
			}
			trial.QueueKey = queue.NormalizeQueueKey(spec.Model, spec.Agent)
			trial.Provider = queue.ProviderLabel(spec.Model)

			if err := s.trials.Create(ctx, tx, trial); err != nil {
				return err
			}

			payload, err := models.JobPayload{
				JobType:  models.JobTypeTrial,
				TrialID:  trial.ID,
				QueueKey: trial.QueueKey,
			}.Encode()
			if err != nil {
				return fmt.Errorf("encode trial payload for %s: %w", trial.ID, err)
			}

			if _, err := s.queue.Enqueue(ctx, tx, trial.QueueKey, payload, jobPriority(req.Priority)); err != nil {
				return fmt.Errorf("enqueue trial %s: %w", trial.ID, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// CancelTask cancels the queued jobq rows for a task's trials and marks the
// task failed; rows already picked by a worker are left to run. Matching
// rows are found by entrypoint-independent trial id lookup, not by queue
// key, since a task's trials may span multiple queue keys.
func (s *TaskSubmissionService) CancelTask(ctx context.Context, taskID string) error {
	trials, err := s.trials.ListByTask(ctx, s.db, taskID)
	if err != nil {
		return fmt.Errorf("list trials for task %s: %w", taskID, err)
	}

	ids := make([]string, 0, len(trials))
	for _, t := range trials {
		ids = append(ids, t.ID)
	}

	return store.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if len(ids) > 0 {
			if _, err := s.queue.CancelByField(ctx, tx, "trial_id", ids); err != nil {
				return err
			}
		}
		return s.tasks.Finish(ctx, tx, taskID, string(models.TaskStatusFailed))
	})
}
