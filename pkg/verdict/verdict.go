// Package verdict synthesizes a task-level verdict from its trials'
// classifications (spec §6, "Verdict synthesizer contract").
package verdict

import (
	"context"

	"github.com/evalpipe/evalpipe/pkg/models"
)

// Result is the decoded verdict-synthesizer response for one task.
type Result struct {
	IsGood            bool     `json:"is_good"`
	Confidence        int      `json:"confidence"`
	PrimaryIssue      string   `json:"primary_issue"`
	Recommendations   []string `json:"recommendations"`
	TaskProblemCount  int      `json:"task_problem_count"`
	AgentProblemCount int      `json:"agent_problem_count"`
	SuccessCount      int      `json:"success_count"`
	HarnessErrorCount int      `json:"harness_error_count"`
}

// Synthesizer produces a task-level verdict from the classification list of
// its successfully-analyzed trials (spec §4.5 step 4).
type Synthesizer interface {
	Synthesize(ctx context.Context, classifications []models.TrialClassification) (Result, error)
}
