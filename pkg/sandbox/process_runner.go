package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/evalpipe/evalpipe/pkg/config"
)

// ProcessRunner shells out to an external sandbox command (e.g. a harbor-style
// CLI) once per trial, synthesizing the lifecycle hook events around the
// subprocess's lifetime and reading its terminal result from a JSON file it
// writes into the job directory. No example repo in the retrieved pack
// performs process-based sandboxing; this wrapper is deliberately thin and
// built directly on os/exec (see DESIGN.md).
type ProcessRunner struct {
	cfg config.SandboxConfig
}

// NewProcessRunner constructs a ProcessRunner from the worker's sandbox
// configuration.
func NewProcessRunner(cfg config.SandboxConfig) *ProcessRunner {
	return &ProcessRunner{cfg: cfg}
}

// resultFile is the well-known filename the sandboxed command is expected to
// write its terminal outcome to, inside the job directory.
const resultFile = "result.json"

type processResult struct {
	Reward        *int                     `json:"reward"`
	Error         *string                  `json:"error"`
	VerifierRan   bool                     `json:"verifier_ran"`
	InputTokens   int64                    `json:"input_tokens"`
	CacheTokens   int64                    `json:"cache_tokens"`
	OutputTokens  int64                    `json:"output_tokens"`
	CostUSD       float64                  `json:"cost_usd"`
	PhaseTiming   map[string]float64       `json:"phase_timing_sec"`
	HasTrajectory bool                     `json:"has_trajectory"`
}

// Run launches the configured command with placeholders substituted in Args,
// emitting hook events before/after each coarse phase.
func (r *ProcessRunner) Run(ctx context.Context, taskDir, agent, model, environmentType string, cfg Config, hook HookCallback, trialID string) (Outcome, error) {
	jobDir := filepath.Join(r.cfg.WorkDir, trialID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Outcome{}, fmt.Errorf("create job dir: %w", err)
	}

	hook(ctx, trialID, HookPayload{Event: HookTrialStart})
	hook(ctx, trialID, HookPayload{Event: HookEnvironmentStart})

	args := make([]string, len(r.cfg.Args))
	for i, a := range r.cfg.Args {
		args[i] = substitutePlaceholders(a, taskDir, agent, model, environmentType, jobDir)
	}

	hook(ctx, trialID, HookPayload{Event: HookAgentStart})

	start := time.Now()
	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	cmd.Dir = taskDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	duration := time.Since(start).Seconds()

	if ctx.Err() != nil {
		hook(ctx, trialID, HookPayload{Event: HookCancel})
		return Outcome{JobDir: jobDir, DurationSec: duration}, ctx.Err()
	}

	hook(ctx, trialID, HookPayload{Event: HookVerificationStart})

	result, parseErr := readResult(filepath.Join(jobDir, resultFile))
	if parseErr != nil {
		errMsg := parseErr.Error()
		if runErr != nil {
			errMsg = fmt.Sprintf("%s: %s", runErr.Error(), stderr.String())
		}
		hook(ctx, trialID, HookPayload{Event: HookEnd, Error: &errMsg})
		return Outcome{JobDir: jobDir, DurationSec: duration, Error: &errMsg, ExitCode: exitCode(runErr)}, nil
	}

	hook(ctx, trialID, HookPayload{Event: HookEnd, Reward: result.Reward, Error: result.Error})

	phaseTiming := make(map[string]time.Duration, len(result.PhaseTiming))
	for k, v := range result.PhaseTiming {
		phaseTiming[k] = time.Duration(v * float64(time.Second))
	}

	return Outcome{
		Reward:        result.Reward,
		Error:         result.Error,
		VerifierRan:   result.VerifierRan,
		ExitCode:      exitCode(runErr),
		DurationSec:   duration,
		ResultPath:    filepath.Join(jobDir, resultFile),
		JobDir:        jobDir,
		InputTokens:   result.InputTokens,
		CacheTokens:   result.CacheTokens,
		OutputTokens:  result.OutputTokens,
		CostUSD:       result.CostUSD,
		PhaseTiming:   phaseTiming,
		HasTrajectory: result.HasTrajectory,
	}, nil
}

func readResult(path string) (processResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return processResult{}, fmt.Errorf("read sandbox result: %w", err)
	}
	var r processResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return processResult{}, fmt.Errorf("decode sandbox result: %w", err)
	}
	return r, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func substitutePlaceholders(s, taskDir, agent, model, environmentType, jobDir string) string {
	replacer := strings.NewReplacer(
		"{task_dir}", taskDir,
		"{agent}", agent,
		"{model}", model,
		"{environment}", environmentType,
		"{job_dir}", jobDir,
	)
	return replacer.Replace(s)
}
