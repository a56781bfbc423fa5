package pipeline_test

import (
	"context"
	"testing"

	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/pipeline"
	"github.com/evalpipe/evalpipe/pkg/store"
	"github.com/stretchr/testify/require"
)

func TestTaskSubmissionServiceSubmitCreatesTaskTrialsAndJobs(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	svc := pipeline.NewTaskSubmissionService(p)

	req := pipeline.SubmitTaskRequest{
		Name:           "swe-bench-lite-run-1",
		Priority:       models.PriorityHigh,
		ExperimentName: "swe-bench-lite",
		ArtifactPath:   "/data/tasks/swe-1",
		RunAnalysis:    true,
		MaxAttempts:    6,
		Trials: []pipeline.TrialSpec{
			{Agent: "claude-code", Model: "claude-sonnet-4-5", Environment: "python"},
			{Agent: "claude-code", Model: "gpt-4o", Environment: "python"},
		},
	}

	task, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)
	require.Equal(t, models.TaskStatusPending, task.Status)

	ctx := context.Background()
	trials := store.NewTrialStore()
	got, err := trials.ListByTask(ctx, client.DB, task.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "claude/claude-sonnet-4-5", got[0].QueueKey)
	require.NotEqual(t, got[0].QueueKey, got[1].QueueKey)

	queue := store.NewQueueStore()
	counts, err := queue.CountsByEntrypoints(ctx, client.DB, []string{got[0].QueueKey, got[1].QueueKey})
	require.NoError(t, err)
	require.Equal(t, 1, counts[got[0].QueueKey].Queued)
	require.Equal(t, 1, counts[got[1].QueueKey].Queued)
}

func TestTaskSubmissionServiceSubmitDefaultsMaxAttemptsFromConfig(t *testing.T) {
	p, client, cfg := newTestPipeline(t)
	svc := pipeline.NewTaskSubmissionService(p)

	task, err := svc.Submit(context.Background(), pipeline.SubmitTaskRequest{
		Name:           "no-explicit-max-attempts",
		ExperimentName: "exp",
		Trials:         []pipeline.TrialSpec{{Agent: "claude-code", Model: "claude-sonnet-4-5"}},
	})
	require.NoError(t, err)

	trials := store.NewTrialStore()
	got, err := trials.ListByTask(context.Background(), client.DB, task.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, cfg.MaxAttempts, got[0].MaxAttempts, "an omitted MaxAttempts must fall back to the configured default, not 1")
}

func TestTaskSubmissionServiceSubmitRequiresAtLeastOneTrial(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	svc := pipeline.NewTaskSubmissionService(p)

	_, err := svc.Submit(context.Background(), pipeline.SubmitTaskRequest{Name: "empty", ExperimentName: "exp"})
	require.Error(t, err)
}

func TestTaskSubmissionServiceCancelTaskCancelsQueuedJobs(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	svc := pipeline.NewTaskSubmissionService(p)

	task, err := svc.Submit(context.Background(), pipeline.SubmitTaskRequest{
		Name:           "to-cancel",
		ExperimentName: "exp",
		Trials:         []pipeline.TrialSpec{{Agent: "claude-code", Model: "claude-sonnet-4-5"}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.CancelTask(context.Background(), task.ID))

	tasks := store.NewTaskStore()
	gotTask, err := tasks.Get(context.Background(), client.DB, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusFailed, gotTask.Status)

	trials := store.NewTrialStore()
	trialList, err := trials.ListByTask(context.Background(), client.DB, task.ID)
	require.NoError(t, err)

	queue := store.NewQueueStore()
	counts, err := queue.CountsByEntrypoints(context.Background(), client.DB, []string{trialList[0].QueueKey})
	require.NoError(t, err)
	require.Equal(t, 0, counts[trialList[0].QueueKey].Queued, "cancelled jobs no longer count as queued")
}
