package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/pipeline"
	"github.com/evalpipe/evalpipe/pkg/store"
	"github.com/evalpipe/evalpipe/pkg/verdict"
	"github.com/stretchr/testify/require"
)

type fakeSynthesizer struct {
	result   verdict.Result
	err      error
	received []models.TrialClassification
}

func (s *fakeSynthesizer) Synthesize(ctx context.Context, classifications []models.TrialClassification) (verdict.Result, error) {
	s.received = classifications
	return s.result, s.err
}

func TestVerdictHandlerSynthesizesFromAnalyzedTrials(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, true)
	trial0 := seedTrial(t, client, task.ID, 0, 6)
	trial1 := seedTrial(t, client, task.ID, 1, 6)

	ctx := context.Background()
	trials := store.NewTrialStore()
	tasks := store.NewTaskStore()

	classification := models.TrialClassification{Classification: models.ClassificationGoodSuccess}
	payload, err := json.Marshal(classification)
	require.NoError(t, err)
	require.NoError(t, trials.StoreAnalysis(ctx, client.DB, trial0.ID, models.AnalysisStatusSuccess, payload, nil))
	require.NoError(t, trials.StoreAnalysis(ctx, client.DB, trial1.ID, models.AnalysisStatusSuccess, payload, nil))
	require.NoError(t, tasks.SetStatus(ctx, client.DB, task.ID, string(models.TaskStatusVerdictPending)))
	require.NoError(t, tasks.SetVerdictQueued(ctx, client.DB, task.ID))

	fake := &fakeSynthesizer{result: verdict.Result{IsGood: true, Confidence: 90, SuccessCount: 2}}
	handler := pipeline.NewVerdictHandler(p, fake)

	require.NoError(t, handler.Handle(ctx, models.JobPayload{JobType: models.JobTypeVerdict, TaskID: task.ID}))
	require.Len(t, fake.received, 2, "both analyzed trials feed the synthesizer")

	gotTask, err := tasks.Get(ctx, client.DB, task.ID)
	require.NoError(t, err)
	require.NotNil(t, gotTask.VerdictStatus)
	require.Equal(t, models.VerdictStatusSuccess, *gotTask.VerdictStatus)
	require.Equal(t, models.TaskStatusCompleted, gotTask.Status)

	var decoded verdict.Result
	require.NoError(t, json.Unmarshal(gotTask.VerdictPayload, &decoded))
	require.True(t, decoded.IsGood)
	require.Equal(t, 2, decoded.SuccessCount)
}

func TestVerdictHandlerSynthesizerFailureStillCompletesTask(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, true)

	ctx := context.Background()
	tasks := store.NewTaskStore()
	require.NoError(t, tasks.SetStatus(ctx, client.DB, task.ID, string(models.TaskStatusVerdictPending)))

	fake := &fakeSynthesizer{err: errors.New("synthesizer unavailable")}
	handler := pipeline.NewVerdictHandler(p, fake)

	require.NoError(t, handler.Handle(ctx, models.JobPayload{JobType: models.JobTypeVerdict, TaskID: task.ID}),
		"a synthesizer error must not propagate as a handler error — the task still reaches a terminal status")

	gotTask, err := tasks.Get(ctx, client.DB, task.ID)
	require.NoError(t, err)
	require.NotNil(t, gotTask.VerdictStatus)
	require.Equal(t, models.VerdictStatusFailed, *gotTask.VerdictStatus)
	require.Equal(t, models.TaskStatusCompleted, gotTask.Status)
}

func TestVerdictHandlerSkipsAlreadyTerminalVerdict(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, true)

	ctx := context.Background()
	tasks := store.NewTaskStore()
	require.NoError(t, tasks.StoreVerdict(ctx, client.DB, task.ID, string(models.VerdictStatusSuccess), []byte(`{}`), nil))

	fake := &fakeSynthesizer{}
	handler := pipeline.NewVerdictHandler(p, fake)

	require.NoError(t, handler.Handle(ctx, models.JobPayload{JobType: models.JobTypeVerdict, TaskID: task.ID}))
	require.Nil(t, fake.received, "a terminal verdict must not re-invoke the synthesizer")
}

func TestVerdictHandlerHandleRejectsMissingTaskID(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	handler := pipeline.NewVerdictHandler(p, &fakeSynthesizer{})
	err := handler.Handle(context.Background(), models.JobPayload{JobType: models.JobTypeVerdict})
	require.Error(t, err)
}
