package config

import "time"

// QueueConfig contains the dispatcher/worker/slot-lessor tunables the core
// reads (spec §6 "Environment/config the core reads").
type QueueConfig struct {
	// DefaultConcurrencyLimit is the slot limit applied to a queue key with
	// no entry in ConcurrencyLimits.
	DefaultConcurrencyLimit int `yaml:"default_concurrency_limit" env:"DEFAULT_CONCURRENCY_LIMIT" validate:"min=1"`

	// ConcurrencyLimits overrides DefaultConcurrencyLimit per queue key.
	ConcurrencyLimits map[string]int `yaml:"concurrency_limits"`

	// LeaseSeconds is how long a slot acquisition is held before it is
	// considered stale and swept. Independent of RetryTimer (design note:
	// "two independent expiry clocks").
	LeaseSeconds int `yaml:"lease_seconds" env:"SLOT_LEASE_SECONDS" validate:"min=1"`

	// RetryTimer bounds how soon a failed-and-retrying job becomes
	// re-claimable. Defaults to 60 minutes per the original implementation.
	RetryTimer time.Duration `yaml:"retry_timer" env:"TRIAL_RETRY_TIMER"`

	// MaxAttempts bounds trial.Attempts (spec §4.3, default 6).
	MaxAttempts int `yaml:"max_attempts" env:"TRIAL_MAX_ATTEMPTS" validate:"min=1"`

	// WorkerTimeout bounds a single worker process's total wall time
	// (default 5 hours per trial job, spec §5).
	WorkerTimeout time.Duration `yaml:"worker_timeout" env:"WORKER_TIMEOUT"`

	// DispatcherPollInterval is the dispatcher loop period T (default 30s).
	DispatcherPollInterval time.Duration `yaml:"dispatcher_poll_interval" env:"DISPATCHER_POLL_INTERVAL"`

	// SpawnCapPerCycle bounds total worker spawns across all queue keys in
	// one dispatcher cycle.
	SpawnCapPerCycle int `yaml:"spawn_cap_per_cycle" env:"SPAWN_CAP_PER_CYCLE" validate:"min=1"`

	// AnalysisQueueKey and VerdictQueueKey are the static entrypoints used
	// for analysis and verdict jobs respectively, regardless of trial
	// provider/model.
	AnalysisQueueKey string `yaml:"analysis_queue_key" env:"ANALYSIS_QUEUE_KEY"`
	VerdictQueueKey  string `yaml:"verdict_queue_key" env:"VERDICT_QUEUE_KEY"`

	// AnalysisTimeout and VerdictTimeout bound the external classifier and
	// synthesizer calls (spec §4.4/§4.5 "opaque async call with a timeout").
	AnalysisTimeout time.Duration `yaml:"analysis_timeout" env:"ANALYSIS_TIMEOUT"`
	VerdictTimeout  time.Duration `yaml:"verdict_timeout" env:"VERDICT_TIMEOUT"`

	// SweepSchedule, if set, is a cron expression (robfig/cron/v3) the
	// dispatcher uses to run sweep_expired independently of the main poll
	// loop, e.g. to sweep more aggressively than it spawns. Empty disables
	// the extra schedule; sweeping otherwise only happens at the top of
	// each DispatcherPollInterval tick.
	SweepSchedule string `yaml:"sweep_schedule" env:"SWEEP_SCHEDULE"`
}

// LimitFor returns the configured concurrency limit for a queue key,
// falling back to DefaultConcurrencyLimit.
func (c *QueueConfig) LimitFor(queueKey string) int {
	if limit, ok := c.ConcurrencyLimits[queueKey]; ok {
		return limit
	}
	return c.DefaultConcurrencyLimit
}

// DefaultQueueConfig returns the built-in pipeline defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		DefaultConcurrencyLimit: 5,
		ConcurrencyLimits:       map[string]int{},
		LeaseSeconds:            int((5*time.Hour + 5*time.Minute).Seconds()),
		RetryTimer:              60 * time.Minute,
		MaxAttempts:             6,
		WorkerTimeout:           5 * time.Hour,
		DispatcherPollInterval:  30 * time.Second,
		SpawnCapPerCycle:        20,
		AnalysisQueueKey:        "analysis/default",
		VerdictQueueKey:         "verdict/default",
		AnalysisTimeout:         15 * time.Minute,
		VerdictTimeout:          15 * time.Minute,
	}
}
