package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueConfigLimitFor(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.DefaultConcurrencyLimit = 5
	cfg.ConcurrencyLimits = map[string]int{"claude/opus-4": 2}

	assert.Equal(t, 2, cfg.LimitFor("claude/opus-4"))
	assert.Equal(t, 5, cfg.LimitFor("gemini/flash-2"))
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.URL = "postgres://localhost:5432/evalpipe"
	assert.NoError(t, Validate(cfg))
}

func TestDefaultConfigRequiresDatabaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.URL = ""
	assert.Error(t, Validate(cfg))
}
