package verdict

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/evalpipe/evalpipe/pkg/config"
	"github.com/evalpipe/evalpipe/pkg/models"
	"github.com/sony/gobreaker"
)

// AnthropicSynthesizer synthesizes a task-level verdict from its trials'
// classifications with a single Anthropic Messages call, guarded by the same
// circuit-breaker pattern as AnthropicClassifier.
type AnthropicSynthesizer struct {
	client  anthropic.Client
	model   anthropic.Model
	breaker *gobreaker.CircuitBreaker
}

// NewAnthropicSynthesizer constructs an AnthropicSynthesizer from AnthropicConfig.
func NewAnthropicSynthesizer(cfg config.AnthropicConfig) *AnthropicSynthesizer {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "anthropic-verdict",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerMaxFailures)
		},
	})
	return &AnthropicSynthesizer{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   anthropic.Model(cfg.VerdictModel),
		breaker: breaker,
	}
}

const verdictSystemPrompt = `You synthesize a task-level verdict from a list of per-trial classifications. ` +
	`Respond with strict JSON: {"is_good": bool, "confidence": 0-100, "primary_issue": string, ` +
	`"recommendations": [string], "task_problem_count": int, "agent_problem_count": int, ` +
	`"success_count": int, "harness_error_count": int}.`

// Synthesize sends the classification list to the model and parses the
// structured verdict out of the response text.
func (s *AnthropicSynthesizer) Synthesize(ctx context.Context, classifications []models.TrialClassification) (Result, error) {
	payload, err := json.Marshal(classifications)
	if err != nil {
		return Result{}, fmt.Errorf("marshal classifications: %w", err)
	}

	var msg *anthropic.Message
	retry := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err = backoff.Retry(func() error {
		reply, err := s.breaker.Execute(func() (interface{}, error) {
			return s.client.Messages.New(ctx, anthropic.MessageNewParams{
				Model:     s.model,
				MaxTokens: 1024,
				System: []anthropic.TextBlockParam{
					{Text: verdictSystemPrompt},
				},
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(string(payload))),
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
		return Result{}, fmt.Errorf("verdict call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return Result{}, fmt.Errorf("parse verdict response: %w", err)
	}
	return result, nil
}
