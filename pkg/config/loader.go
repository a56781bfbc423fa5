package config

import (
	"log/slog"
	"os"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load builds a Config by starting from DefaultConfig, layering a YAML file
// (if path is non-empty and exists), then environment-variable overrides,
// then validating the result.
//
// Missing configPath is not an error: a deployment may run entirely off
// environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				slog.Warn("config file not found, using defaults and environment", "path", configPath)
			} else {
				return nil, NewLoadError(configPath, err)
			}
		} else {
			data = ExpandEnv(data)
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, NewLoadError(configPath, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, NewLoadError("environment", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate runs struct-tag validation over the whole config tree.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return NewValidationError("config", "root", "", err)
	}
	return nil
}
