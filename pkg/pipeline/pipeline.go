// Package pipeline implements the trial/analysis/verdict handlers and the
// race-free fan-in transitions between pipeline stages (spec §4.3–§4.7).
package pipeline

import (
	"github.com/evalpipe/evalpipe/pkg/config"
	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/store"
	"github.com/jmoiron/sqlx"
)

// Pipeline bundles the store repositories and queue configuration every
// handler and fan-in transition needs. It carries no per-request state, so a
// single instance is shared across a worker process's lifetime (it only ever
// handles one job, but tests reuse it across calls).
type Pipeline struct {
	db    *sqlx.DB
	cfg   *config.QueueConfig
	tasks *store.TaskStore
	trials *store.TrialStore
	queue *store.QueueStore
}

// New constructs a Pipeline.
func New(db *sqlx.DB, cfg *config.QueueConfig) *Pipeline {
	return &Pipeline{
		db:     db,
		cfg:    cfg,
		tasks:  store.NewTaskStore(),
		trials: store.NewTrialStore(),
		queue:  store.NewQueueStore(),
	}
}

// jobPriority maps a task priority to the integer priority stored on jobq
// rows: higher values are claimed first (spec §4.1).
func jobPriority(p models.Priority) int {
	if p == models.PriorityHigh {
		return 1
	}
	return 0
}
