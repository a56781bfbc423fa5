package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/evalpipe/evalpipe/pkg/config"
	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/queue"
	"github.com/evalpipe/evalpipe/pkg/store"
	testdb "github.com/evalpipe/evalpipe/test/database"
	"github.com/stretchr/testify/require"
)

type fakeSpawner struct {
	spawned []string
}

func (s *fakeSpawner) Spawn(ctx context.Context, queueKey string) error {
	s.spawned = append(s.spawned, queueKey)
	return nil
}

// TestDispatcherRunOnceRequeuesTrialPastRetryTimer drives spec §8 scenario 3
// end to end: a trial marked retrying with an elapsed retry timer must come
// back as a fresh jobq row for the same trial, with its idempotency token
// intact, rather than staying stuck forever.
func TestDispatcherRunOnceRequeuesTrialPastRetryTimer(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	expStore := store.NewExperimentStore()
	taskStore := store.NewTaskStore()
	trialStore := store.NewTrialStore()
	queueStore := store.NewQueueStore()

	exp := &models.Experiment{ID: "exp-retry", Name: "smoke"}
	require.NoError(t, expStore.Create(ctx, client.DB, exp))

	task := &models.Task{ID: "task-retry", Name: "t", Priority: models.PriorityHigh, ExperimentID: exp.ID}
	require.NoError(t, taskStore.Create(ctx, client.DB, task))

	trial := &models.Trial{
		ID: models.TrialID(task.ID, 0), TaskID: task.ID, Index: 0,
		Name: "trial-0", Agent: "claude-code", Model: "claude-sonnet-4-5",
		QueueKey: "claude/claude-sonnet-4-5", Provider: "claude", MaxAttempts: 6,
	}
	require.NoError(t, trialStore.Create(ctx, client.DB, trial))

	require.NoError(t, trialStore.MarkRunning(ctx, client.DB, trial.ID, "tok-1"))
	require.NoError(t, trialStore.MarkRetrying(ctx, client.DB, trial.ID, "boom", -time.Minute))

	cfg := config.DefaultQueueConfig()
	spawner := &fakeSpawner{}
	dispatcher := queue.NewDispatcher(client.DB, cfg, spawner)

	require.NoError(t, dispatcher.RunOnce(ctx))

	gotTrial, err := trialStore.Get(ctx, client.DB, trial.ID)
	require.NoError(t, err)
	require.Equal(t, models.TrialStatusQueued, gotTrial.Status)
	require.Nil(t, gotTrial.RetryAt)
	require.NotNil(t, gotTrial.IdempotencyToken, "automatic retry sweep preserves the idempotency token")
	require.Equal(t, "tok-1", *gotTrial.IdempotencyToken)

	counts, err := queueStore.CountsByEntrypoints(ctx, client.DB, []string{trial.QueueKey})
	require.NoError(t, err)
	require.Equal(t, 1, counts[trial.QueueKey].Queued, "a fresh jobq row must exist for the same trial")
}

func TestDispatcherRunOnceLeavesRetryingTrialBeforeItsTimer(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	expStore := store.NewExperimentStore()
	taskStore := store.NewTaskStore()
	trialStore := store.NewTrialStore()

	exp := &models.Experiment{ID: "exp-retry-2", Name: "smoke"}
	require.NoError(t, expStore.Create(ctx, client.DB, exp))

	task := &models.Task{ID: "task-retry-2", Name: "t", Priority: models.PriorityHigh, ExperimentID: exp.ID}
	require.NoError(t, taskStore.Create(ctx, client.DB, task))

	trial := &models.Trial{
		ID: models.TrialID(task.ID, 0), TaskID: task.ID, Index: 0,
		Name: "trial-0", Agent: "claude-code", Model: "claude-sonnet-4-5",
		QueueKey: "claude/claude-sonnet-4-5", Provider: "claude", MaxAttempts: 6,
	}
	require.NoError(t, trialStore.Create(ctx, client.DB, trial))

	require.NoError(t, trialStore.MarkRunning(ctx, client.DB, trial.ID, "tok-1"))
	require.NoError(t, trialStore.MarkRetrying(ctx, client.DB, trial.ID, "boom", time.Hour))

	cfg := config.DefaultQueueConfig()
	dispatcher := queue.NewDispatcher(client.DB, cfg, &fakeSpawner{})

	require.NoError(t, dispatcher.RunOnce(ctx))

	gotTrial, err := trialStore.Get(ctx, client.DB, trial.ID)
	require.NoError(t, err)
	require.Equal(t, models.TrialStatusRetrying, gotTrial.Status, "a trial must not be requeued before its retry timer elapses")
}
