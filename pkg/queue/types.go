// Package queue implements the durable job queue's dispatch loop and
// one-shot worker shell on top of pkg/store's raw-SQL queue/slot
// repositories (spec §4.1, §4.2, §4.6).
package queue

import "errors"

// ErrNoCapacity names the case where no queue key has spare capacity this
// cycle. BuildSpawnPlan reports that case by returning an empty plan; it
// does not return this error.
var ErrNoCapacity = errors.New("no spawn capacity this cycle")

// QueueCounts is the queued/picked row count for one queue key, as produced
// by one grouped query over jobq (spec §4.6 step 3).
type QueueCounts struct {
	Queued int
	Picked int
}

// SpawnPlan is the ordered list of queue keys the dispatcher decided to spawn
// one worker for this cycle (spec §4.6 step 5). A key appears once per
// worker it should receive.
type SpawnPlan []string

// WorkerHealth describes a single worker process's lifecycle state. Neither
// the /metrics route nor the health endpoint reports it.
type WorkerHealth struct {
	ID         string
	QueueKey   string
	Status     string // "idle", "working", "exited"
	StartedAt  int64
	FinishedAt int64
}
