package pipeline

import (
	"context"
	"fmt"

	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/store"
	"github.com/jmoiron/sqlx"
)

// RetryTrial implements the explicit user-driven retry operation (spec §4.3
// "Retry semantics"): it clears the trial's terminal state and idempotency
// token, re-enqueues it, and reopens the task if it had already finished.
// Unlike the automatic retry path the handler takes on a transient failure,
// this is the only place the idempotency token is ever cleared.
func (p *Pipeline) RetryTrial(ctx context.Context, trialID string) error {
	trial, err := p.trials.Get(ctx, p.db, trialID)
	if err != nil {
		return fmt.Errorf("load trial %s: %w", trialID, err)
	}
	if !trial.Status.Terminal() {
		return fmt.Errorf("trial %s is not terminal (status=%s), cannot retry", trialID, trial.Status)
	}

	return store.WithTx(ctx, p.db, func(tx *sqlx.Tx) error {
		if err := p.trials.ResetForRetry(ctx, tx, trialID); err != nil {
			return err
		}
		if err := p.tasks.ResetForRetry(ctx, tx, trial.TaskID); err != nil {
			return err
		}

		payload, err := models.JobPayload{
			JobType:  models.JobTypeTrial,
			TrialID:  trialID,
			QueueKey: trial.QueueKey,
		}.Encode()
		if err != nil {
			return fmt.Errorf("encode retry payload: %w", err)
		}

		_, err = p.queue.Enqueue(ctx, tx, trial.QueueKey, payload, 0)
		return err
	})
}
