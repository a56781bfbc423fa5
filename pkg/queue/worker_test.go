package queue_test

import (
	"context"
	"testing"

	"github.com/evalpipe/evalpipe/pkg/config"
	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/queue"
	"github.com/evalpipe/evalpipe/pkg/store"
	testdb "github.com/evalpipe/evalpipe/test/database"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	called  int
	wantErr error
}

func (h *fakeHandler) Handle(ctx context.Context, payload models.JobPayload) error {
	h.called++
	return h.wantErr
}

func TestWorkerRunOneProcessesClaimedJob(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	expStore := store.NewExperimentStore()
	taskStore := store.NewTaskStore()
	trialStore := store.NewTrialStore()
	queueStore := store.NewQueueStore()

	exp := &models.Experiment{ID: "exp-1", Name: "smoke"}
	require.NoError(t, expStore.Create(ctx, client.DB, exp))

	task := &models.Task{ID: "task-1", Name: "t", Priority: models.PriorityHigh, ExperimentID: exp.ID}
	require.NoError(t, taskStore.Create(ctx, client.DB, task))

	trial := &models.Trial{
		ID: models.TrialID(task.ID, 0), TaskID: task.ID, Index: 0,
		Name: "trial-0", Agent: "claude-code", Model: "claude-sonnet-4-5",
		QueueKey: "claude/claude-sonnet-4-5", Provider: "claude", MaxAttempts: 6,
	}
	require.NoError(t, trialStore.Create(ctx, client.DB, trial))

	payload, err := models.JobPayload{JobType: models.JobTypeTrial, TrialID: trial.ID, QueueKey: trial.QueueKey}.Encode()
	require.NoError(t, err)
	_, err = queueStore.Enqueue(ctx, client.DB, trial.QueueKey, payload, 0)
	require.NoError(t, err)

	cfg := config.DefaultQueueConfig()
	handler := &fakeHandler{}
	w := queue.NewWorker("worker-test-1", client.DB, cfg, queue.HandlerRegistry{
		models.JobTypeTrial: handler,
	})

	require.NoError(t, w.RunOne(ctx, trial.QueueKey))
	require.Equal(t, 1, handler.called)

	slots := store.NewSlotStore()
	live, err := slots.LiveLeaseCount(ctx, client.DB, trial.QueueKey)
	require.NoError(t, err)
	require.Equal(t, 0, live, "slot lease must be released after the job completes")
}

func TestWorkerRunOneNoJobAvailable(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	cfg := config.DefaultQueueConfig()
	w := queue.NewWorker("worker-test-2", client.DB, cfg, queue.HandlerRegistry{})

	require.NoError(t, w.RunOne(ctx, "default/default"))
}
