package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/evalpipe/evalpipe/pkg/classifier"
	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/objectstore"
)

const defaultAnalysisTimeout = 15 * time.Minute

// AnalysisHandler implements spec §4.4: the per-trial LLM classification
// stage that runs once a trial reaches a terminal state.
type AnalysisHandler struct {
	*Pipeline
	classifier classifier.Classifier
	objects    objectstore.Store
	timeout    time.Duration
}

// NewAnalysisHandler constructs an AnalysisHandler. A zero timeout falls back
// to the spec's default of 15 minutes.
func NewAnalysisHandler(p *Pipeline, c classifier.Classifier, objects objectstore.Store, timeout time.Duration) *AnalysisHandler {
	if timeout <= 0 {
		timeout = defaultAnalysisTimeout
	}
	return &AnalysisHandler{Pipeline: p, classifier: c, objects: objects, timeout: timeout}
}

// Handle implements queue.Handler.
func (h *AnalysisHandler) Handle(ctx context.Context, payload models.JobPayload) error {
	if payload.TrialID == "" {
		return errors.New("analysis handler: payload missing trial_id")
	}
	return h.runAnalysis(ctx, payload.TrialID)
}

func (h *AnalysisHandler) runAnalysis(ctx context.Context, trialID string) error {
	log := slog.With("trial_id", trialID)

	trial, err := h.trials.Get(ctx, h.db, trialID)
	if err != nil {
		return fmt.Errorf("load trial %s: %w", trialID, err)
	}

	// Step 1: skip if already terminal.
	if trial.AnalysisStatus != nil && (*trial.AnalysisStatus == models.AnalysisStatusSuccess || *trial.AnalysisStatus == models.AnalysisStatusFailed) {
		log.Info("analysis already terminal, skipping", "analysis_status", *trial.AnalysisStatus)
		return nil
	}

	task, err := h.tasks.Get(ctx, h.db, trial.TaskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", trial.TaskID, err)
	}

	// Step 2: mark running.
	if err := h.trials.SetAnalysisRunning(ctx, h.db, trialID); err != nil {
		return err
	}

	// Step 3: materialize task + trial artifacts.
	taskDir, cleanupTask, err := h.materializeDir(ctx, task.ArtifactPath, task.UsesObjectStore())
	if err != nil {
		return fmt.Errorf("materialize task %s: %w", task.ID, err)
	}
	defer cleanupTask()

	trialDir, cleanupTrial, err := h.materializeDir(ctx, trial.ArtifactPath, trial.ArtifactPath != nil)
	if err != nil {
		return fmt.Errorf("materialize trial %s: %w", trialID, err)
	}
	defer cleanupTrial()

	// Step 4: invoke the classifier with a bounded timeout.
	classifyCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	result, classifyErr := h.classifier.Classify(classifyCtx, taskDir, trialDir)

	// Step 5: store the outcome, success or failure.
	if classifyErr != nil {
		errMsg := classifyErr.Error()
		if err := h.trials.StoreAnalysis(ctx, h.db, trialID, models.AnalysisStatusFailed, nil, &errMsg); err != nil {
			return err
		}
	} else {
		payload, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal classification result: %w", err)
		}
		if err := h.trials.StoreAnalysis(ctx, h.db, trialID, models.AnalysisStatusSuccess, payload, nil); err != nil {
			return err
		}
	}

	// Step 6: fan in to the verdict stage.
	if _, err := h.MaybeStartVerdictStage(ctx, trialID); err != nil {
		log.Error("maybe_start_verdict_stage failed", "error", err)
	}
	return nil
}

// materializeDir downloads prefix from object storage into a temp dir when
// useObjectStore is true, or returns the path unchanged otherwise.
func (h *AnalysisHandler) materializeDir(ctx context.Context, prefix *string, useObjectStore bool) (string, func(), error) {
	if prefix == nil {
		return "", func() {}, nil
	}
	if !useObjectStore {
		return *prefix, func() {}, nil
	}

	tempDir, err := os.MkdirTemp("", "analysis-*")
	if err != nil {
		return "", nil, err
	}
	if err := h.objects.DownloadPrefix(ctx, *prefix, tempDir); err != nil {
		os.RemoveAll(tempDir)
		return "", nil, err
	}
	return tempDir, func() { os.RemoveAll(tempDir) }, nil
}
