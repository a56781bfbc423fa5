package queue

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/evalpipe/evalpipe/pkg/config"
	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/evalpipe/evalpipe/pkg/store"
	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
)

// WorkerSpawner spawns the one-shot worker process for a single queue key.
// Implementations never block past process launch — the dispatcher does not
// wait for the worker to finish (spec §4.6: "the dispatcher does not attempt
// to kill running workers").
type WorkerSpawner interface {
	Spawn(ctx context.Context, queueKey string) error
}

// Dispatcher periodically spawns one-shot workers in proportion to queue
// depth, bounded by per-queue-key limits and a global per-cycle spawn cap
// (spec §4.6).
type Dispatcher struct {
	db      *sqlx.DB
	queue   *store.QueueStore
	slots   *store.SlotStore
	trials  *store.TrialStore
	cfg     *config.QueueConfig
	spawner WorkerSpawner
	metrics *Metrics
}

// SetMetrics attaches a Metrics instance; RunOnce publishes queue-depth
// gauges through it whenever non-nil. Optional — tests and the dispatcher
// binary that doesn't run an HTTP server can leave it unset.
func (d *Dispatcher) SetMetrics(m *Metrics) {
	d.metrics = m
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(db *sqlx.DB, cfg *config.QueueConfig, spawner WorkerSpawner) *Dispatcher {
	return &Dispatcher{
		db:      db,
		queue:   store.NewQueueStore(),
		slots:   store.NewSlotStore(),
		trials:  store.NewTrialStore(),
		cfg:     cfg,
		spawner: spawner,
	}
}

// Run loops RunOnce every cfg.DispatcherPollInterval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.cfg.DispatcherPollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// An optional cron-style schedule sweeps expired slot leases
	// independently of the fixed-interval spawn loop, letting an operator
	// sweep more aggressively than they spawn.
	var sweepCron *cron.Cron
	if d.cfg.SweepSchedule != "" {
		sweepCron = cron.New()
		if _, err := sweepCron.AddFunc(d.cfg.SweepSchedule, func() {
			if swept, err := d.slots.SweepExpired(ctx, d.db); err != nil {
				slog.Error("scheduled sweep failed", "error", err)
			} else if swept > 0 {
				slog.Info("scheduled sweep cleared expired leases", "count", swept)
			}
			if requeued, err := d.sweepRetries(ctx); err != nil {
				slog.Error("scheduled retry sweep failed", "error", err)
			} else if requeued > 0 {
				slog.Info("scheduled sweep requeued retrying trials", "count", requeued)
			}
		}); err != nil {
			slog.Error("invalid sweep schedule, running without it", "schedule", d.cfg.SweepSchedule, "error", err)
			sweepCron = nil
		} else {
			sweepCron.Start()
			defer sweepCron.Stop()
		}
	}

	slog.Info("dispatcher started", "poll_interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopping")
			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				slog.Error("dispatch cycle failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single dispatch cycle (spec §4.6 steps 1–6).
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	swept, err := d.slots.SweepExpired(ctx, d.db)
	if err != nil {
		return err
	}
	if swept > 0 {
		slog.Info("swept expired slot leases", "count", swept)
	}

	requeued, err := d.sweepRetries(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		slog.Info("requeued trials past their retry timer", "count", requeued)
	}

	keys, err := d.discoverActiveQueueKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	rawCounts, err := d.queue.CountsByEntrypoints(ctx, d.db, keys)
	if err != nil {
		return err
	}
	counts := make(map[string]QueueCounts, len(rawCounts))
	for k, c := range rawCounts {
		counts[k] = QueueCounts{Queued: c.Queued, Picked: c.Picked}
	}
	if d.metrics != nil {
		d.metrics.ObserveCounts(counts)
	}

	plan := BuildSpawnPlan(counts, d.limitsFor(keys), d.cfg.SpawnCapPerCycle)
	if len(plan) == 0 {
		return nil
	}

	slog.Info("dispatch plan built", "workers", len(plan))
	for _, key := range plan {
		if err := d.spawner.Spawn(ctx, key); err != nil {
			slog.Error("failed to spawn worker", "queue_key", key, "error", err)
		}
	}
	return nil
}

// sweepRetries re-enqueues every trial whose automatic-retry timer has
// elapsed under a brand new jobq row, same trial id and idempotency token
// (spec §4.3 step 6, §8 scenario 3: "Retry is same trial, new job"). The
// student's hand-rolled queue has no library-level retry_timer like the
// original's pgqueuer entrypoint option, so the dispatcher's own sweep plays
// that role.
func (d *Dispatcher) sweepRetries(ctx context.Context) (int, error) {
	due, err := d.trials.ListDueForRetry(ctx, d.db)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, trial := range due {
		err := store.WithTx(ctx, d.db, func(tx *sqlx.Tx) error {
			ok, err := d.trials.RequeueAfterRetry(ctx, tx, trial.ID)
			if err != nil || !ok {
				return err
			}
			payload, err := models.JobPayload{
				JobType:  models.JobTypeTrial,
				TrialID:  trial.ID,
				QueueKey: trial.QueueKey,
			}.Encode()
			if err != nil {
				return err
			}
			_, err = d.queue.Enqueue(ctx, tx, trial.QueueKey, payload, 0)
			return err
		})
		if err != nil {
			slog.Error("failed to requeue retrying trial", "trial_id", trial.ID, "error", err)
			continue
		}
		requeued++
	}
	return requeued, nil
}

// discoverActiveQueueKeys unions distinct entrypoints currently queued or
// picked with statically known keys (analysis, verdict, any key with an
// explicit limit override), falling back to {"default"} if empty
// (spec §4.6 step 2).
func (d *Dispatcher) discoverActiveQueueKeys(ctx context.Context) ([]string, error) {
	discovered := make(map[string]bool)

	active, err := d.queue.DiscoverActiveEntrypoints(ctx, d.db)
	if err != nil {
		return nil, err
	}
	for _, e := range active {
		discovered[e] = true
	}

	discovered[d.cfg.AnalysisQueueKey] = true
	discovered[d.cfg.VerdictQueueKey] = true
	for key := range d.cfg.ConcurrencyLimits {
		discovered[key] = true
	}

	if len(discovered) == 0 {
		return []string{"default"}, nil
	}

	keys := make([]string, 0, len(discovered))
	for k := range discovered {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return []string{"default"}, nil
	}
	return keys, nil
}

func (d *Dispatcher) limitsFor(keys []string) map[string]int {
	limits := make(map[string]int, len(keys))
	for _, k := range keys {
		limits[k] = d.cfg.LimitFor(k)
	}
	return limits
}

// BuildSpawnPlan decides which queue-specific workers to spawn this cycle,
// walking queue keys in stable (sorted) order and decrementing each key's
// capacity round-robin, so one deeply-queued key never starves the others
// (spec §4.6 step 5; grounded on the original implementation's
// build_spawn_plan).
func BuildSpawnPlan(counts map[string]QueueCounts, limits map[string]int, globalCap int) SpawnPlan {
	keySet := make(map[string]bool)
	for k := range counts {
		keySet[k] = true
	}
	for k := range limits {
		keySet[k] = true
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	capacity := make(map[string]int, len(keys))
	total := 0
	for _, k := range keys {
		queued := counts[k].Queued
		picked := counts[k].Picked
		limit := limits[k]
		c := limit - picked
		if queued < c {
			c = queued
		}
		if c < 0 {
			c = 0
		}
		capacity[k] = c
		total += c
	}

	if total <= 0 || globalCap <= 0 {
		return nil
	}

	toSpawn := total
	if globalCap < toSpawn {
		toSpawn = globalCap
	}

	plan := make(SpawnPlan, 0, toSpawn)
	for len(plan) < toSpawn {
		progressed := false
		for _, k := range keys {
			if len(plan) >= toSpawn {
				break
			}
			if capacity[k] > 0 {
				plan = append(plan, k)
				capacity[k]--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return plan
}
