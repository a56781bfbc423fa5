package config

// AnthropicConfig configures the anthropic-sdk-go backed classifier and
// verdict synthesizer implementations.
type AnthropicConfig struct {
	APIKey         string `yaml:"api_key" env:"ANTHROPIC_API_KEY"`
	ClassifierModel string `yaml:"classifier_model" env:"ANTHROPIC_CLASSIFIER_MODEL"`
	VerdictModel    string `yaml:"verdict_model" env:"ANTHROPIC_VERDICT_MODEL"`

	// BreakerMaxFailures trips the gobreaker circuit after this many
	// consecutive failures.
	BreakerMaxFailures uint32 `yaml:"breaker_max_failures" env:"ANTHROPIC_BREAKER_MAX_FAILURES" validate:"min=1"`
}

// DefaultAnthropicConfig returns conservative defaults.
func DefaultAnthropicConfig() *AnthropicConfig {
	return &AnthropicConfig{
		ClassifierModel:    "claude-sonnet-4-5-20250929",
		VerdictModel:       "claude-sonnet-4-5-20250929",
		BreakerMaxFailures: 5,
	}
}
