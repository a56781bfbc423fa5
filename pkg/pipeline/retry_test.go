package pipeline_test

import (
	"context"
	"testing"

	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/store"
	"github.com/stretchr/testify/require"
)

func TestRetryTrialReopensTerminalTaskAndClearsToken(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, false)
	trial := seedTrial(t, client, task.ID, 0, 6)

	ctx := context.Background()
	trials := store.NewTrialStore()
	tasks := store.NewTaskStore()

	require.NoError(t, trials.MarkRunning(ctx, client.DB, trial.ID, "tok-original"))
	require.NoError(t, trials.TerminalizeFailed(ctx, client.DB, trial.ID, "exhausted"))
	require.NoError(t, tasks.Finish(ctx, client.DB, task.ID, string(models.TaskStatusFailed)))

	require.NoError(t, p.RetryTrial(ctx, trial.ID))

	gotTrial, err := trials.Get(ctx, client.DB, trial.ID)
	require.NoError(t, err)
	require.Equal(t, models.TrialStatusQueued, gotTrial.Status)
	require.Nil(t, gotTrial.IdempotencyToken, "explicit retry is the only path that clears the idempotency token")
	require.Nil(t, gotTrial.ErrorMessage)

	gotTask, err := tasks.Get(ctx, client.DB, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusRunning, gotTask.Status)

	queue := store.NewQueueStore()
	counts, err := queue.CountsByEntrypoints(ctx, client.DB, []string{trial.QueueKey})
	require.NoError(t, err)
	require.Equal(t, 1, counts[trial.QueueKey].Queued, "retry re-enqueues exactly one trial job")
}

func TestRetryTrialRejectsNonTerminalTrial(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, false)
	trial := seedTrial(t, client, task.ID, 0, 6)

	err := p.RetryTrial(context.Background(), trial.ID)
	require.Error(t, err, "a pending trial is not terminal and cannot be retried")
}
