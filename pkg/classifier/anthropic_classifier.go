package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/evalpipe/evalpipe/pkg/config"
	"github.com/sony/gobreaker"
)

// AnthropicClassifier classifies a trial outcome with a single Anthropic
// Messages call, wrapped in a circuit breaker so a flapping upstream does not
// let every in-flight analysis job pile up against it (teacher dependency
// from jordigilh-kubernaut's go.mod; no client code survived the retrieval,
// so the call is built directly against the SDK's public Messages API).
type AnthropicClassifier struct {
	client  anthropic.Client
	model   anthropic.Model
	breaker *gobreaker.CircuitBreaker
}

// NewAnthropicClassifier constructs an AnthropicClassifier from AnthropicConfig.
func NewAnthropicClassifier(cfg config.AnthropicConfig) *AnthropicClassifier {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "anthropic-classifier",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerMaxFailures)
		},
	})
	return &AnthropicClassifier{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   anthropic.Model(cfg.ClassifierModel),
		breaker: breaker,
	}
}

const classifierSystemPrompt = `You classify a single sandboxed agent trial's outcome. ` +
	`Read the task description and the trial's trajectory/result files and respond with ` +
	`strict JSON: {"classification": one of GOOD_SUCCESS|GOOD_FAILURE|BAD_SUCCESS|BAD_FAILURE|HARNESS_ERROR, ` +
	`"subtype": string, "evidence": string, "root_cause": string, "recommendation": string, "reward": 0|1|null}.`

// Classify reads the task/trial directories, sends their contents to the
// model, and parses the structured verdict out of the response text.
func (c *AnthropicClassifier) Classify(ctx context.Context, taskDir, trialDir string) (Result, error) {
	prompt, err := buildClassificationPrompt(taskDir, trialDir)
	if err != nil {
		return Result{}, fmt.Errorf("build classification prompt: %w", err)
	}

	var msg *anthropic.Message
	retry := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err = backoff.Retry(func() error {
		reply, err := c.breaker.Execute(func() (interface{}, error) {
			return c.client.Messages.New(ctx, anthropic.MessageNewParams{
				Model:     c.model,
				MaxTokens: 1024,
				System: []anthropic.TextBlockParam{
					{Text: classifierSystemPrompt},
				},
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
				},
			})
		})
		if err != nil {
			if err == gobreaker.ErrOpenState {
				return backoff.Permanent(err)
			}
			return err
		}
		msg = reply.(*anthropic.Message)
		return nil
	}, retry)
	if err != nil {
		return Result{}, fmt.Errorf("classifier call: %w", err)
	}

	text := concatText(msg)

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return Result{}, fmt.Errorf("parse classifier response: %w", err)
	}
	return result, nil
}

func buildClassificationPrompt(taskDir, trialDir string) (string, error) {
	taskDesc, err := readIfExists(filepath.Join(taskDir, "task.md"))
	if err != nil {
		return "", err
	}
	result, err := readIfExists(filepath.Join(trialDir, "result.json"))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TASK:\n%s\n\nTRIAL RESULT:\n%s", taskDesc, result), nil
}

func readIfExists(path string) (string, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func concatText(msg *anthropic.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}
