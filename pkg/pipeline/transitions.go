package pipeline

import (
	"context"
	"fmt"

	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/store"
	"github.com/jmoiron/sqlx"
)

// inFlightTrialStatuses are the trial statuses that still occupy a pipeline
// slot for their task — the analysis fan-in waits for all of them to clear
// (spec §4.7 step 4).
var inFlightTrialStatuses = []models.TrialStatus{
	models.TrialStatusPending, models.TrialStatusQueued, models.TrialStatusRunning, models.TrialStatusRetrying,
}

// pendingAnalysisStatuses are analysis statuses that have not yet reached a
// terminal outcome (spec §4.7 step 5 / verdict step 4).
var pendingAnalysisStatuses = []models.AnalysisStatus{
	models.AnalysisStatusPending, models.AnalysisStatusQueued, models.AnalysisStatusRunning,
}

// MaybeStartAnalysisStage is called by the trial handler after it writes its
// own terminal state but before it returns. It is idempotent and race-free:
// concurrent callers serialize on the task row lock, and only the caller that
// observes the task still in {pending, running} with zero in-flight trials
// advances it (spec §4.7).
func (p *Pipeline) MaybeStartAnalysisStage(ctx context.Context, trialID string) (bool, error) {
	fired := false
	err := store.WithTx(ctx, p.db, func(tx *sqlx.Tx) error {
		trial, err := p.trials.Get(ctx, tx, trialID)
		if err != nil {
			return fmt.Errorf("load trial %s: %w", trialID, err)
		}

		task, err := p.tasks.GetForUpdate(ctx, tx, trial.TaskID)
		if err != nil {
			return fmt.Errorf("lock task %s: %w", trial.TaskID, err)
		}

		if task.Status != models.TaskStatusPending && task.Status != models.TaskStatusRunning {
			return nil // another concurrent completion already advanced it
		}

		inFlight, err := p.trials.CountByStatus(ctx, tx, task.ID, inFlightTrialStatuses)
		if err != nil {
			return err
		}
		if inFlight > 0 {
			return nil
		}

		if task.RunAnalysis {
			if err := p.tasks.SetStatus(ctx, tx, task.ID, string(models.TaskStatusAnalyzing)); err != nil {
				return err
			}

			pendingAnalyses, err := p.trials.CountByAnalysisStatus(ctx, tx, task.ID, pendingAnalysisStatuses, true)
			if err != nil {
				return err
			}
			if pendingAnalyses == 0 {
				// All analyses already finished before the task moved to
				// analyzing — close the race by advancing straight to
				// verdict_pending in this same transaction.
				if err := p.enqueueVerdict(ctx, tx, task); err != nil {
					return err
				}
			}
		} else {
			if err := p.tasks.Finish(ctx, tx, task.ID, string(models.TaskStatusCompleted)); err != nil {
				return err
			}
		}

		fired = true
		return nil
	})
	return fired, err
}

// MaybeStartVerdictStage is called by the analysis handler after it writes
// its own terminal analysis state but before it returns (spec §4.7).
func (p *Pipeline) MaybeStartVerdictStage(ctx context.Context, trialID string) (bool, error) {
	fired := false
	err := store.WithTx(ctx, p.db, func(tx *sqlx.Tx) error {
		trial, err := p.trials.Get(ctx, tx, trialID)
		if err != nil {
			return fmt.Errorf("load trial %s: %w", trialID, err)
		}

		task, err := p.tasks.GetForUpdate(ctx, tx, trial.TaskID)
		if err != nil {
			return fmt.Errorf("lock task %s: %w", trial.TaskID, err)
		}

		if task.Status != models.TaskStatusAnalyzing {
			return nil
		}

		pendingAnalyses, err := p.trials.CountByAnalysisStatus(ctx, tx, task.ID, pendingAnalysisStatuses, true)
		if err != nil {
			return err
		}
		if pendingAnalyses > 0 {
			return nil
		}

		if err := p.enqueueVerdict(ctx, tx, task); err != nil {
			return err
		}
		fired = true
		return nil
	})
	return fired, err
}

// enqueueVerdict sets the task to verdict_pending/queued and enqueues one
// verdict job, all inside the caller's transaction (the fan-in's
// serialization point — spec §4.7 step 5).
func (p *Pipeline) enqueueVerdict(ctx context.Context, tx *sqlx.Tx, task *models.Task) error {
	if err := p.tasks.SetStatus(ctx, tx, task.ID, string(models.TaskStatusVerdictPending)); err != nil {
		return err
	}
	if err := p.tasks.SetVerdictQueued(ctx, tx, task.ID); err != nil {
		return err
	}

	payload, err := models.JobPayload{
		JobType:  models.JobTypeVerdict,
		TaskID:   task.ID,
		QueueKey: p.cfg.VerdictQueueKey,
	}.Encode()
	if err != nil {
		return fmt.Errorf("encode verdict payload: %w", err)
	}

	_, err = p.queue.Enqueue(ctx, tx, p.cfg.VerdictQueueKey, payload, jobPriority(task.Priority))
	return err
}
