package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/verdict"
)

// VerdictHandler implements spec §4.5: the task-level synthesis stage that
// runs once every trial required for a task has finished analysis.
type VerdictHandler struct {
	*Pipeline
	synthesizer verdict.Synthesizer
}

// NewVerdictHandler constructs a VerdictHandler.
func NewVerdictHandler(p *Pipeline, synth verdict.Synthesizer) *VerdictHandler {
	return &VerdictHandler{Pipeline: p, synthesizer: synth}
}

// Handle implements queue.Handler.
func (h *VerdictHandler) Handle(ctx context.Context, payload models.JobPayload) error {
	if payload.TaskID == "" {
		return errors.New("verdict handler: payload missing task_id")
	}
	return h.runVerdict(ctx, payload.TaskID)
}

func (h *VerdictHandler) runVerdict(ctx context.Context, taskID string) error {
	log := slog.With("task_id", taskID)

	task, err := h.tasks.Get(ctx, h.db, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	// Step 1: skip if already terminal.
	if task.VerdictStatus != nil && (*task.VerdictStatus == models.VerdictStatusSuccess || *task.VerdictStatus == models.VerdictStatusFailed) {
		log.Info("verdict already terminal, skipping", "verdict_status", *task.VerdictStatus)
		return nil
	}

	// Step 2: mark running.
	if err := h.tasks.SetVerdictRunning(ctx, h.db, taskID); err != nil {
		return err
	}

	// Step 3: reconstruct the classification list from analyzed trials.
	classifications, err := h.buildClassifications(ctx, taskID)
	if err != nil {
		return fmt.Errorf("build classifications for task %s: %w", taskID, err)
	}

	// Step 4: invoke the synthesizer.
	result, synthErr := h.synthesizer.Synthesize(ctx, classifications)

	// Step 5: store the outcome. Even on synthesizer failure, the task still
	// reaches a terminal status — it must never be left running because the
	// verdict call failed (spec §4.5).
	var status models.VerdictStatus
	var payload json.RawMessage
	if synthErr != nil {
		status = models.VerdictStatusFailed
		payload, _ = json.Marshal(map[string]string{"error": synthErr.Error()})
		log.Error("verdict synthesis failed", "error", synthErr)
	} else {
		status = models.VerdictStatusSuccess
		payload, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal verdict result: %w", err)
		}
	}

	if err := h.tasks.StoreVerdict(ctx, h.db, taskID, string(status), payload, nil); err != nil {
		return err
	}
	return h.tasks.Finish(ctx, h.db, taskID, string(models.TaskStatusCompleted))
}

func (h *VerdictHandler) buildClassifications(ctx context.Context, taskID string) ([]models.TrialClassification, error) {
	trials, err := h.trials.ListAnalyzedByTask(ctx, h.db, taskID)
	if err != nil {
		return nil, err
	}

	classifications := make([]models.TrialClassification, 0, len(trials))
	for _, t := range trials {
		if t.AnalysisStatus == nil || *t.AnalysisStatus != models.AnalysisStatusSuccess || len(t.AnalysisPayload) == 0 {
			continue
		}
		var c models.TrialClassification
		if err := json.Unmarshal(t.AnalysisPayload, &c); err != nil {
			slog.Error("skipping unparsable analysis payload", "trial_id", t.ID, "error", err)
			continue
		}
		c.TrialID = t.ID
		classifications = append(classifications, c)
	}
	return classifications, nil
}
