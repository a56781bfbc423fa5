// Package classifier invokes an external LLM to classify one trial's outcome
// against its task (spec §6, "Classifier contract").
package classifier

import (
	"context"

	"github.com/evalpipe/evalpipe/pkg/models"
)

// Result is the decoded classifier response for one trial.
type Result struct {
	Classification models.Classification `json:"classification"`
	Subtype        string                 `json:"subtype"`
	Evidence       string                 `json:"evidence"`
	RootCause      string                 `json:"root_cause"`
	Recommendation string                 `json:"recommendation"`
	Reward         *int                   `json:"reward"`
}

// Classifier takes a materialized task/trial directory pair and returns a
// taxonomy classification, honoring ctx's deadline (spec §4.4 step 4: "an
// opaque async call with a timeout, default 15 minutes").
type Classifier interface {
	Classify(ctx context.Context, taskDir, trialDir string) (Result, error)
}
