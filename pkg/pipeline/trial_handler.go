package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/objectstore"
	"github.com/evalpipe/evalpipe/pkg/sandbox"
	"github.com/evalpipe/evalpipe/pkg/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TrialHandler implements spec §4.3: the trial execution lifecycle, from
// idempotency check through terminalization and the downstream-analysis
// handoff.
type TrialHandler struct {
	*Pipeline
	runner         sandbox.Runner
	objects        objectstore.Store
	storageEnabled bool
}

// NewTrialHandler constructs a TrialHandler. storageEnabled mirrors the
// worker's local StorageConfig.Enabled setting; object storage is used
// regardless when the task itself was materialized from it (spec §9).
func NewTrialHandler(p *Pipeline, runner sandbox.Runner, objects objectstore.Store, storageEnabled bool) *TrialHandler {
	return &TrialHandler{Pipeline: p, runner: runner, objects: objects, storageEnabled: storageEnabled}
}

// Handle implements queue.Handler.
func (h *TrialHandler) Handle(ctx context.Context, payload models.JobPayload) error {
	if payload.TrialID == "" {
		return errors.New("trial handler: payload missing trial_id")
	}
	return h.runTrial(ctx, payload.TrialID)
}

func (h *TrialHandler) runTrial(ctx context.Context, trialID string) error {
	log := slog.With("trial_id", trialID)

	trial, err := h.trials.Get(ctx, h.db, trialID)
	if err != nil {
		return fmt.Errorf("load trial %s: %w", trialID, err)
	}

	// Step 1: idempotency check.
	if trial.IdempotencyToken != nil && trial.Status.Terminal() {
		log.Info("trial already terminal, skipping", "status", trial.Status)
		return nil
	}

	task, err := h.tasks.Get(ctx, h.db, trial.TaskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", trial.TaskID, err)
	}

	// Step 2: mark running.
	token := uuid.NewString()
	if err := h.trials.MarkRunning(ctx, h.db, trialID, token); err != nil {
		return err
	}
	if err := h.tasks.MarkRunning(ctx, h.db, task.ID); err != nil {
		return err
	}

	// Step 3: materialize task inputs.
	taskDir, cleanup, err := h.materializeTaskDir(ctx, task)
	if err != nil {
		return fmt.Errorf("materialize task %s: %w", task.ID, err)
	}
	defer cleanup()

	// Step 4: invoke the sandbox runner.
	hook := h.lifecycleHook(trialID)
	outcome, runErr := h.runner.Run(ctx, taskDir, trial.Agent, trial.Model, trial.Environment, sandbox.Config{Raw: trial.SandboxConfig}, hook, trialID)

	if errors.Is(ctx.Err(), context.Canceled) {
		msg := "trial cancelled"
		if err := h.trials.TerminalizeFailed(ctx, h.db, trialID, msg); err != nil {
			log.Error("failed to terminalize cancelled trial", "error", err)
		}
		_, _ = h.MaybeStartAnalysisStage(context.Background(), trialID)
		return fmt.Errorf("trial cancelled: %w", context.Canceled)
	}
	if runErr != nil {
		return fmt.Errorf("sandbox run: %w", runErr)
	}

	// Step 6: terminalize.
	if err := h.terminalize(ctx, trialID, outcome); err != nil {
		return err
	}

	// Step 5: capture artifacts. Recorded after terminalization so it is not
	// clobbered by TerminalizeSuccess's own artifact_path column write.
	if h.storageEnabled || task.UsesObjectStore() {
		prefix := fmt.Sprintf("tasks/%s/trials/%s/", task.ID, trialID)
		if outcome.JobDir != "" {
			if err := h.objects.UploadDirectory(ctx, prefix, outcome.JobDir); err != nil {
				log.Error("failed to upload trial artifacts", "error", err)
			} else if err := h.trials.RecordArtifactPath(ctx, h.db, trialID, prefix); err != nil {
				log.Error("failed to record artifact path", "error", err)
			}
		}
	}

	// Step 7: enqueue downstream analysis, then fan in.
	refreshed, err := h.trials.Get(ctx, h.db, trialID)
	if err != nil {
		return err
	}
	if refreshed.Status.Terminal() && task.RunAnalysis && refreshed.AnalysisStatus == nil {
		if err := h.enqueueAnalysis(ctx, refreshed); err != nil {
			log.Error("failed to enqueue analysis", "error", err)
		}
	}

	if _, err := h.MaybeStartAnalysisStage(ctx, trialID); err != nil {
		log.Error("maybe_start_analysis_stage failed", "error", err)
	}
	return nil
}

// terminalize writes the authoritative outcome of the run (spec §4.3 step 6).
func (h *TrialHandler) terminalize(ctx context.Context, trialID string, outcome sandbox.Outcome) error {
	phaseTiming := encodePhaseTiming(outcome.PhaseTiming)

	if outcome.Reward != nil {
		return h.trials.TerminalizeSuccess(ctx, h.db, trialID, store.TrialOutcome{
			Reward:        outcome.Reward,
			InputTokens:   ptrInt64(outcome.InputTokens),
			CacheTokens:   ptrInt64(outcome.CacheTokens),
			OutputTokens:  ptrInt64(outcome.OutputTokens),
			CostUSD:       ptrFloat64(outcome.CostUSD),
			PhaseTiming:   phaseTiming,
			HasTrajectory: outcome.HasTrajectory,
		})
	}

	if isAgentTimeout(outcome.Error) && outcome.VerifierRan {
		zero := 0
		return h.trials.TerminalizeSuccess(ctx, h.db, trialID, store.TrialOutcome{
			Reward:        &zero,
			InputTokens:   ptrInt64(outcome.InputTokens),
			CacheTokens:   ptrInt64(outcome.CacheTokens),
			OutputTokens:  ptrInt64(outcome.OutputTokens),
			CostUSD:       ptrFloat64(outcome.CostUSD),
			PhaseTiming:   phaseTiming,
			HasTrajectory: outcome.HasTrajectory,
		})
	}

	errMsg := "unknown sandbox error"
	if outcome.Error != nil {
		errMsg = *outcome.Error
	}

	// Reload: MarkRunning incremented attempts in the DB after trial was
	// loaded at the top of runTrial, so the retry-vs-terminal decision must
	// be made against the post-increment count, not the stale one.
	current, err := h.trials.Get(ctx, h.db, trialID)
	if err != nil {
		return fmt.Errorf("reload trial %s: %w", trialID, err)
	}

	if current.Attempts < current.MaxAttempts {
		if err := h.trials.MarkRetrying(ctx, h.db, trialID, errMsg, h.cfg.RetryTimer); err != nil {
			return err
		}
		// Signal the queue to retry: the caller (Worker.RunOne) marks the
		// jobq row failed. The trial itself stays retrying until the
		// dispatcher's retry sweep re-enqueues it under a new job id once
		// RetryTimer has elapsed (pkg/queue/dispatcher.go sweepRetries).
		return fmt.Errorf("trial %s failed, retrying (attempt %d/%d): %s", trialID, current.Attempts, current.MaxAttempts, errMsg)
	}

	return h.trials.TerminalizeFailed(ctx, h.db, trialID, errMsg)
}

// enqueueAnalysis sets analysis_status = queued and enqueues one analysis job
// in a single transaction (spec §4.3 step 7).
func (h *TrialHandler) enqueueAnalysis(ctx context.Context, trial *models.Trial) error {
	return store.WithTx(ctx, h.db, func(tx *sqlx.Tx) error {
		if err := h.trials.SetAnalysisQueued(ctx, tx, trial.ID); err != nil {
			return err
		}
		payload, err := models.JobPayload{
			JobType:  models.JobTypeAnalysis,
			TrialID:  trial.ID,
			QueueKey: h.cfg.AnalysisQueueKey,
		}.Encode()
		if err != nil {
			return err
		}
		_, err = h.queue.Enqueue(ctx, tx, h.cfg.AnalysisQueueKey, payload, 0)
		return err
	})
}

// lifecycleHook returns the callback passed to the sandbox runner: it writes
// harbor_stage on every event and, on the "end" event, pre-terminalizes the
// trial ahead of the runner's wrapper returning (spec §4.3 step 4, §9).
func (h *TrialHandler) lifecycleHook(trialID string) sandbox.HookCallback {
	return func(ctx context.Context, id string, payload sandbox.HookPayload) {
		stage, ok := harborStageFor(payload.Event)
		if ok {
			if err := h.trials.UpdateHarborStage(ctx, h.db, id, stage); err != nil {
				slog.Error("failed to update harbor stage", "trial_id", id, "error", err)
			}
		}
		if payload.Event == sandbox.HookEnd {
			if err := h.trials.PreTerminalize(ctx, h.db, id, payload.Reward, payload.Error); err != nil {
				slog.Error("failed to pre-terminalize trial", "trial_id", id, "error", err)
			}
		}
	}
}

func harborStageFor(event sandbox.HookEvent) (models.HarborStage, bool) {
	switch event {
	case sandbox.HookTrialStart:
		return models.HarborStageStarting, true
	case sandbox.HookEnvironmentStart:
		return models.HarborStageEnvironmentSetup, true
	case sandbox.HookAgentStart:
		return models.HarborStageAgentRunning, true
	case sandbox.HookVerificationStart:
		return models.HarborStageVerification, true
	case sandbox.HookEnd:
		return models.HarborStageCompleted, true
	case sandbox.HookCancel:
		return models.HarborStageCancelled, true
	default:
		return "", false
	}
}

// materializeTaskDir downloads the task from object storage into a temp dir
// when it was stored there, or returns its local path unchanged
// (spec §4.3 step 3).
func (h *TrialHandler) materializeTaskDir(ctx context.Context, task *models.Task) (string, func(), error) {
	if !task.UsesObjectStore() {
		path := ""
		if task.ArtifactPath != nil {
			path = *task.ArtifactPath
		}
		return path, func() {}, nil
	}

	tempDir, err := os.MkdirTemp("", "task-"+task.ID+"-*")
	if err != nil {
		return "", nil, err
	}
	if err := h.objects.DownloadPrefix(ctx, *task.ArtifactPath, tempDir); err != nil {
		os.RemoveAll(tempDir)
		return "", nil, err
	}
	return tempDir, func() { os.RemoveAll(tempDir) }, nil
}

func encodePhaseTiming(timing map[string]time.Duration) json.RawMessage {
	if len(timing) == 0 {
		return nil
	}
	seconds := make(map[string]float64, len(timing))
	for k, v := range timing {
		seconds[k] = v.Seconds()
	}
	raw, err := json.Marshal(seconds)
	if err != nil {
		return nil
	}
	return raw
}

func isAgentTimeout(errMsg *string) bool {
	if errMsg == nil {
		return false
	}
	return strings.Contains(*errMsg, "AgentTimeoutError") || strings.Contains(*errMsg, "Agent execution timed out")
}

func ptrInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func ptrFloat64(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
