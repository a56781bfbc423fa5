package config

// StorageConfig describes the object-store backend consumed by
// pkg/objectstore. Credentials are resolved by the AWS SDK's default chain
// (env, shared config, IRSA) when AccessKeyID/SecretAccessKey are empty.
type StorageConfig struct {
	// Enabled is the worker's local default for whether artifacts should be
	// uploaded. Per design note 9, a task materialized from object storage
	// uploads its trial artifacts regardless of this flag.
	Enabled bool `yaml:"enabled" env:"STORAGE_ENABLED"`

	Bucket          string `yaml:"bucket" env:"STORAGE_BUCKET"`
	Region          string `yaml:"region" env:"STORAGE_REGION"`
	Endpoint        string `yaml:"endpoint" env:"STORAGE_ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"STORAGE_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"STORAGE_SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `yaml:"use_path_style" env:"STORAGE_USE_PATH_STYLE"`

	// LocalDir backs a filesystem-based Store implementation used in tests
	// and single-node deployments instead of S3.
	LocalDir string `yaml:"local_dir" env:"STORAGE_LOCAL_DIR"`
}

// DefaultStorageConfig returns a disabled, local-filesystem-backed default.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Enabled:  false,
		LocalDir: "./data/artifacts",
	}
}
