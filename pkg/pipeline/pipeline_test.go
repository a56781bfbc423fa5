package pipeline_test

import (
	"context"
	"testing"

	"github.com/evalpipe/evalpipe/pkg/config"
	"github.com/evalpipe/evalpipe/pkg/database"
	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/pipeline"
	"github.com/evalpipe/evalpipe/pkg/store"
	testdb "github.com/evalpipe/evalpipe/test/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// newTestPipeline wires a Pipeline against a fresh per-test schema.
func newTestPipeline(t *testing.T) (*pipeline.Pipeline, *database.Client, *config.QueueConfig) {
	t.Helper()
	client := testdb.NewTestClient(t)
	cfg := config.DefaultQueueConfig()
	return pipeline.New(client.DB, cfg), client, cfg
}

// seedTask inserts an experiment and a task in one call, returning the task.
func seedTask(t *testing.T, client *database.Client, runAnalysis bool) *models.Task {
	t.Helper()
	ctx := context.Background()
	experiments := store.NewExperimentStore()
	tasks := store.NewTaskStore()

	exp := &models.Experiment{ID: uuid.NewString(), Name: "exp-" + uuid.NewString()}
	require.NoError(t, experiments.Create(ctx, client.DB, exp))

	task := &models.Task{
		ID:           uuid.NewString(),
		Name:         "task",
		Priority:     models.PriorityHigh,
		ExperimentID: exp.ID,
		RunAnalysis:  runAnalysis,
	}
	require.NoError(t, tasks.Create(ctx, client.DB, task))
	return task
}

// seedTrial inserts one trial belonging to task at the given index.
func seedTrial(t *testing.T, client *database.Client, taskID string, index int, maxAttempts int) *models.Trial {
	t.Helper()
	trials := store.NewTrialStore()
	trial := &models.Trial{
		ID:          models.TrialID(taskID, index),
		TaskID:      taskID,
		Index:       index,
		Name:        "trial",
		Agent:       "claude-code",
		Model:       "claude-sonnet-4-5",
		QueueKey:    "claude/claude-sonnet-4-5",
		Provider:    "claude",
		MaxAttempts: maxAttempts,
	}
	require.NoError(t, trials.Create(context.Background(), client.DB, trial))
	return trial
}
