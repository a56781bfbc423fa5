package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/evalpipe/evalpipe/pkg/classifier"
	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/pipeline"
	"github.com/evalpipe/evalpipe/pkg/store"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	result classifier.Result
	err    error
}

func (c *fakeClassifier) Classify(ctx context.Context, taskDir, trialDir string) (classifier.Result, error) {
	return c.result, c.err
}

func TestAnalysisHandlerSuccessFansIntoVerdict(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, true)
	trial := seedTrial(t, client, task.ID, 0, 6)

	trials := store.NewTrialStore()
	tasks := store.NewTaskStore()
	ctx := context.Background()
	require.NoError(t, trials.MarkRunning(ctx, client.DB, trial.ID, "tok"))
	reward := 1
	require.NoError(t, trials.TerminalizeSuccess(ctx, client.DB, trial.ID, store.TrialOutcome{Reward: &reward}))
	require.NoError(t, trials.SetAnalysisQueued(ctx, client.DB, trial.ID))
	require.NoError(t, tasks.SetStatus(ctx, client.DB, task.ID, string(models.TaskStatusAnalyzing)))

	result := classifier.Result{Classification: models.ClassificationGoodSuccess, Reward: &reward}
	handler := pipeline.NewAnalysisHandler(p, &fakeClassifier{result: result}, nil, 0)

	require.NoError(t, handler.Handle(ctx, models.JobPayload{JobType: models.JobTypeAnalysis, TrialID: trial.ID}))

	got, err := trials.Get(ctx, client.DB, trial.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AnalysisStatus)
	require.Equal(t, models.AnalysisStatusSuccess, *got.AnalysisStatus)

	gotTask, err := tasks.Get(ctx, client.DB, task.ID)
	require.NoError(t, err)
	require.NotNil(t, gotTask.VerdictStatus)
	require.Equal(t, models.VerdictStatusQueued, *gotTask.VerdictStatus)
	require.Equal(t, models.TaskStatusVerdictPending, gotTask.Status)
}

func TestAnalysisHandlerFailureStillTerminalizesAnalysis(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, true)
	trial := seedTrial(t, client, task.ID, 0, 6)

	ctx := context.Background()
	trials := store.NewTrialStore()
	require.NoError(t, trials.MarkRunning(ctx, client.DB, trial.ID, "tok"))
	reward := 1
	require.NoError(t, trials.TerminalizeSuccess(ctx, client.DB, trial.ID, store.TrialOutcome{Reward: &reward}))
	require.NoError(t, trials.SetAnalysisQueued(ctx, client.DB, trial.ID))

	handler := pipeline.NewAnalysisHandler(p, &fakeClassifier{err: errors.New("upstream unavailable")}, nil, 0)
	require.NoError(t, handler.Handle(ctx, models.JobPayload{JobType: models.JobTypeAnalysis, TrialID: trial.ID}))

	got, err := trials.Get(ctx, client.DB, trial.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AnalysisStatus)
	require.Equal(t, models.AnalysisStatusFailed, *got.AnalysisStatus)
	require.NotNil(t, got.AnalysisError)
}

func TestAnalysisHandlerSkipsAlreadyTerminalAnalysis(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, true)
	trial := seedTrial(t, client, task.ID, 0, 6)

	ctx := context.Background()
	trials := store.NewTrialStore()
	require.NoError(t, trials.StoreAnalysis(ctx, client.DB, trial.ID, models.AnalysisStatusSuccess, []byte(`{}`), nil))

	calls := 0
	fake := &fakeClassifier{}
	handler := pipeline.NewAnalysisHandler(p, countingClassifier{fakeClassifier: fake, calls: &calls}, nil, 0)

	require.NoError(t, handler.Handle(ctx, models.JobPayload{JobType: models.JobTypeAnalysis, TrialID: trial.ID}))
	require.Equal(t, 0, calls, "a terminal analysis must not re-invoke the classifier")
}

type countingClassifier struct {
	*fakeClassifier
	calls *int
}

func (c countingClassifier) Classify(ctx context.Context, taskDir, trialDir string) (classifier.Result, error) {
	*c.calls++
	return c.fakeClassifier.Classify(ctx, taskDir, trialDir)
}
