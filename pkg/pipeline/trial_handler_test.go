package pipeline_test

import (
	"context"
	"testing"

	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/pipeline"
	"github.com/evalpipe/evalpipe/pkg/sandbox"
	"github.com/evalpipe/evalpipe/pkg/store"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	outcome sandbox.Outcome
	err     error
	events  []sandbox.HookEvent
}

func (r *fakeRunner) Run(ctx context.Context, taskDir, agent, model, environmentType string, cfg sandbox.Config, hook sandbox.HookCallback, trialID string) (sandbox.Outcome, error) {
	hook(ctx, trialID, sandbox.HookPayload{Event: sandbox.HookTrialStart})
	hook(ctx, trialID, sandbox.HookPayload{Event: sandbox.HookAgentStart})
	hook(ctx, trialID, sandbox.HookPayload{Event: sandbox.HookEnd, Reward: r.outcome.Reward, Error: r.outcome.Error})
	return r.outcome, r.err
}

func TestTrialHandlerHandleSuccessAdvancesTaskWhenNoAnalysis(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, false)
	trial := seedTrial(t, client, task.ID, 0, 6)

	reward := 1
	runner := &fakeRunner{outcome: sandbox.Outcome{Reward: &reward, VerifierRan: true}}
	handler := pipeline.NewTrialHandler(p, runner, nil, false)

	err := handler.Handle(context.Background(), models.JobPayload{JobType: models.JobTypeTrial, TrialID: trial.ID})
	require.NoError(t, err)

	trials := store.NewTrialStore()
	got, err := trials.Get(context.Background(), client.DB, trial.ID)
	require.NoError(t, err)
	require.Equal(t, models.TrialStatusSuccess, got.Status)
	require.NotNil(t, got.Reward)
	require.Equal(t, 1, *got.Reward)

	tasks := store.NewTaskStore()
	gotTask, err := tasks.Get(context.Background(), client.DB, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusCompleted, gotTask.Status, "task with run_analysis=false completes as soon as its only trial finishes")
}

func TestTrialHandlerHandleSuccessQueuesAnalysisWhenRequested(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, true)
	trial := seedTrial(t, client, task.ID, 0, 6)

	reward := 1
	runner := &fakeRunner{outcome: sandbox.Outcome{Reward: &reward, VerifierRan: true}}
	handler := pipeline.NewTrialHandler(p, runner, nil, false)

	require.NoError(t, handler.Handle(context.Background(), models.JobPayload{JobType: models.JobTypeTrial, TrialID: trial.ID}))

	trials := store.NewTrialStore()
	got, err := trials.Get(context.Background(), client.DB, trial.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AnalysisStatus)
	require.Equal(t, models.AnalysisStatusQueued, *got.AnalysisStatus)

	tasks := store.NewTaskStore()
	gotTask, err := tasks.Get(context.Background(), client.DB, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusAnalyzing, gotTask.Status)
}

func TestTrialHandlerRetriesBeforeExhaustingAttempts(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, false)
	trial := seedTrial(t, client, task.ID, 0, 3)

	errMsg := "boom"
	runner := &fakeRunner{outcome: sandbox.Outcome{Error: &errMsg}}
	handler := pipeline.NewTrialHandler(p, runner, nil, false)

	err := handler.Handle(context.Background(), models.JobPayload{JobType: models.JobTypeTrial, TrialID: trial.ID})
	require.Error(t, err, "a retryable failure must surface an error so the queue worker marks the jobq row failed")

	trials := store.NewTrialStore()
	got, err := trials.Get(context.Background(), client.DB, trial.ID)
	require.NoError(t, err)
	require.Equal(t, models.TrialStatusRetrying, got.Status)
	require.NotNil(t, got.IdempotencyToken, "automatic retry preserves the idempotency token")
}

func TestTrialHandlerTerminalizesFailedAfterMaxAttempts(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, false)
	// MaxAttempts 1: MarkRunning increments attempts to 1 before terminalize
	// runs, so the first and only attempt exhausts it immediately.
	trial := seedTrial(t, client, task.ID, 0, 1)

	errMsg := "boom"
	runner := &fakeRunner{outcome: sandbox.Outcome{Error: &errMsg}}
	handler := pipeline.NewTrialHandler(p, runner, nil, false)

	require.NoError(t, handler.Handle(context.Background(), models.JobPayload{JobType: models.JobTypeTrial, TrialID: trial.ID}))

	trials := store.NewTrialStore()
	got, err := trials.Get(context.Background(), client.DB, trial.ID)
	require.NoError(t, err)
	require.Equal(t, models.TrialStatusFailed, got.Status)
}

func TestTrialHandlerAgentTimeoutWithVerifierRunCountsAsZeroReward(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, false)
	trial := seedTrial(t, client, task.ID, 0, 6)

	errMsg := "AgentTimeoutError: exceeded wall clock"
	runner := &fakeRunner{outcome: sandbox.Outcome{Error: &errMsg, VerifierRan: true}}
	handler := pipeline.NewTrialHandler(p, runner, nil, false)

	require.NoError(t, handler.Handle(context.Background(), models.JobPayload{JobType: models.JobTypeTrial, TrialID: trial.ID}))

	trials := store.NewTrialStore()
	got, err := trials.Get(context.Background(), client.DB, trial.ID)
	require.NoError(t, err)
	require.Equal(t, models.TrialStatusSuccess, got.Status)
	require.NotNil(t, got.Reward)
	require.Equal(t, 0, *got.Reward)
}

func TestTrialHandlerSkipsAlreadyTerminalTrial(t *testing.T) {
	p, client, _ := newTestPipeline(t)
	task := seedTask(t, client, false)
	trial := seedTrial(t, client, task.ID, 0, 6)

	trials := store.NewTrialStore()
	require.NoError(t, trials.MarkRunning(context.Background(), client.DB, trial.ID, "tok-1"))
	require.NoError(t, trials.TerminalizeFailed(context.Background(), client.DB, trial.ID, "already done"))

	runner := &fakeRunner{}
	handler := pipeline.NewTrialHandler(p, runner, nil, false)

	require.NoError(t, handler.Handle(context.Background(), models.JobPayload{JobType: models.JobTypeTrial, TrialID: trial.ID}))

	got, err := trials.Get(context.Background(), client.DB, trial.ID)
	require.NoError(t, err)
	require.Equal(t, "already done", *got.ErrorMessage, "idempotent skip must not re-run the sandbox")
}

func TestTrialHandlerHandleRejectsMissingTrialID(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	handler := pipeline.NewTrialHandler(p, &fakeRunner{}, nil, false)
	err := handler.Handle(context.Background(), models.JobPayload{JobType: models.JobTypeTrial})
	require.Error(t, err)
}
