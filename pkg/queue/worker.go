package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evalpipe/evalpipe/pkg/config"
	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/store"
	"github.com/jmoiron/sqlx"
)

// Handler processes one decoded job payload. Implementations live in
// pkg/pipeline; Worker only knows about the interface, avoiding an import
// cycle between the two packages.
type Handler interface {
	Handle(ctx context.Context, payload models.JobPayload) error
}

// HandlerRegistry dispatches a claimed job to the handler for its job type.
type HandlerRegistry map[models.JobType]Handler

// Worker is the one-shot process shell described in spec §4.6: configured
// for a minimal DB-pool footprint, it acquires exactly one slot, claims
// exactly one job, runs it to completion, releases the slot, and exits.
type Worker struct {
	id       string
	db       *sqlx.DB
	queue    *store.QueueStore
	slots    *store.SlotStore
	cfg      *config.QueueConfig
	handlers HandlerRegistry
}

// NewWorker constructs a Worker identified by workerID (used as the slot
// lessor's locked_by value).
func NewWorker(workerID string, db *sqlx.DB, cfg *config.QueueConfig, handlers HandlerRegistry) *Worker {
	return &Worker{
		id:       workerID,
		db:       db,
		queue:    store.NewQueueStore(),
		slots:    store.NewSlotStore(),
		cfg:      cfg,
		handlers: handlers,
	}
}

// RunOne acquires a slot for queueKey, claims and processes exactly one job,
// then releases the slot. It returns nil both when there was no slot
// available and when there was no job queued — both are the dispatcher's
// cue to try again next cycle, not errors.
func (w *Worker) RunOne(ctx context.Context, queueKey string) error {
	log := slog.With("worker_id", w.id, "queue_key", queueKey)

	limit := w.cfg.LimitFor(queueKey)
	slot, err := w.slots.Acquire(ctx, w.db, queueKey, limit, w.id, w.cfg.LeaseSeconds)
	if err != nil {
		if err == store.ErrNoSlotAvailable {
			log.Info("no slot available, exiting")
			return nil
		}
		return fmt.Errorf("acquire slot: %w", err)
	}
	defer func() {
		if relErr := w.slots.Release(context.Background(), w.db, queueKey, slot, w.id); relErr != nil {
			log.Error("failed to release slot", "slot", slot, "error", relErr)
		}
	}()

	job, err := w.queue.ClaimOne(ctx, w.db, queueKey)
	if err != nil {
		if err == store.ErrNoJobAvailable {
			log.Info("no job available, exiting")
			return nil
		}
		return fmt.Errorf("claim job: %w", err)
	}
	log = log.With("job_id", job.JobID)

	payload, err := store.DecodePayload(job.Payload)
	if err != nil {
		log.Error("failed to decode job payload", "error", err)
		return w.queue.Complete(ctx, w.db, job.JobID, false)
	}

	handler, ok := w.handlers[payload.JobType]
	if !ok {
		log.Error("no handler registered for job type", "job_type", payload.JobType)
		return w.queue.Complete(ctx, w.db, job.JobID, false)
	}

	handleCtx, cancel := context.WithTimeout(ctx, w.timeoutFor(payload.JobType))
	defer cancel()

	handleErr := handler.Handle(handleCtx, payload)
	if handleErr != nil {
		log.Error("handler failed", "error", handleErr)
	} else {
		log.Info("job processed")
	}
	return w.queue.Complete(ctx, w.db, job.JobID, handleErr == nil)
}

func (w *Worker) timeoutFor(jobType models.JobType) time.Duration {
	switch jobType {
	case models.JobTypeAnalysis:
		return w.cfg.AnalysisTimeout
	case models.JobTypeVerdict:
		return w.cfg.VerdictTimeout
	default:
		return w.cfg.WorkerTimeout
	}
}
