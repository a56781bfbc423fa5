package config

// Config is the top-level configuration for both cmd/dispatcher and
// cmd/worker. Both binaries load the same file; each only reads the
// sections it needs.
type Config struct {
	Database   DatabaseConfig  `yaml:"database"`
	Storage    StorageConfig   `yaml:"storage"`
	Queue      QueueConfig     `yaml:"queue"`
	Anthropic  AnthropicConfig `yaml:"anthropic"`
	Sandbox    SandboxConfig   `yaml:"sandbox"`
}

// SandboxConfig configures the process-based sandbox runner.
type SandboxConfig struct {
	// Command is the executable invoked for each trial; Args may reference
	// {task_dir}, {agent}, {model}, {environment} placeholders.
	Command string   `yaml:"command" env:"SANDBOX_COMMAND"`
	Args    []string `yaml:"args"`

	// WorkDir is the parent directory under which per-trial job directories
	// are created.
	WorkDir string `yaml:"work_dir" env:"SANDBOX_WORK_DIR"`
}

// DefaultConfig returns a fully-populated default configuration. Callers
// layer a YAML file and environment overrides on top via Load.
func DefaultConfig() *Config {
	return &Config{
		Database:  *DefaultDatabaseConfig(),
		Storage:   *DefaultStorageConfig(),
		Queue:     *DefaultQueueConfig(),
		Anthropic: *DefaultAnthropicConfig(),
		Sandbox: SandboxConfig{
			WorkDir: "./data/jobs",
		},
	}
}
