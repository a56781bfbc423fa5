package verdict

import (
	"encoding/json"
	"testing"

	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestClassificationsMarshalRoundTrip(t *testing.T) {
	reward := 1
	classifications := []models.TrialClassification{
		{TrialID: "task-1-0", Classification: models.ClassificationGoodSuccess, Reward: &reward},
		{TrialID: "task-1-1", Classification: models.ClassificationBadFailure},
	}

	payload, err := json.Marshal(classifications)
	require.NoError(t, err)

	var decoded []models.TrialClassification
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Len(t, decoded, 2)
	require.Equal(t, "task-1-0", decoded[0].TrialID)
	require.Equal(t, models.ClassificationGoodSuccess, decoded[0].Classification)
	require.NotNil(t, decoded[0].Reward)
	require.Equal(t, 1, *decoded[0].Reward)
}

func TestResultMarshalsExpectedShape(t *testing.T) {
	result := Result{
		IsGood:            true,
		Confidence:        80,
		PrimaryIssue:      "none",
		Recommendations:   []string{"keep going"},
		TaskProblemCount:  0,
		AgentProblemCount: 0,
		SuccessCount:      3,
		HarnessErrorCount: 0,
	}
	payload, err := json.Marshal(result)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"is_good":true`)
	require.Contains(t, string(payload), `"success_count":3`)
}
