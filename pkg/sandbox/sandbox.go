// Package sandbox runs a trial's agent/model pair inside an isolated
// execution environment and reports lifecycle events back to the caller
// (spec §6, "Sandbox runner contract").
package sandbox

import (
	"context"
	"encoding/json"
	"time"
)

// HookEvent is the coarse lifecycle label a runner reports as it progresses.
// It maps 1:1 onto models.HarborStage plus a terminal "cancel" signal.
type HookEvent string

// Lifecycle events emitted to the hook callback during Run.
const (
	HookTrialStart        HookEvent = "trial_start"
	HookEnvironmentStart  HookEvent = "environment_start"
	HookAgentStart        HookEvent = "agent_start"
	HookVerificationStart HookEvent = "verification_start"
	HookEnd               HookEvent = "end"
	HookCancel            HookEvent = "cancel"
)

// HookPayload carries the already-known reward/error at the "end" event,
// ahead of Outcome being returned — the pre-terminalization write described
// in spec §4.3 step 4 / §9.
type HookPayload struct {
	Event  HookEvent
	Reward *int
	Error  *string
}

// HookCallback is invoked synchronously on every lifecycle event; it is
// expected to write harbor_stage (and, on HookEnd, the pre-terminal outcome)
// in its own short-lived transaction.
type HookCallback func(ctx context.Context, trialID string, payload HookPayload)

// Config is the per-trial sandbox configuration blob, opaque to the runner
// except for the fields it declares.
type Config struct {
	Command     []string        `json:"command,omitempty"`
	WorkDir     string          `json:"work_dir,omitempty"`
	Environment string          `json:"environment,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// Outcome is the terminal result of one sandbox run (spec §6).
type Outcome struct {
	Reward        *int
	Error         *string
	VerifierRan   bool
	ExitCode      int
	DurationSec   float64
	ResultPath    string
	JobDir        string
	InputTokens   int64
	CacheTokens   int64
	OutputTokens  int64
	CostUSD       float64
	PhaseTiming   map[string]time.Duration
	HasTrajectory bool
}

// Runner executes one trial inside an isolated environment and reports
// lifecycle events via hook as it progresses (spec §6).
type Runner interface {
	Run(ctx context.Context, taskDir, agent, model, environmentType string, cfg Config, hook HookCallback, trialID string) (Outcome, error)
}
