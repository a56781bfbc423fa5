package config

// DatabaseConfig holds the Postgres connection settings the core reads.
type DatabaseConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL" validate:"required"`

	// MaxOpenConns and MaxIdleConns are kept small deliberately: spec §5
	// mandates min 1, max 4 async connections per worker and disabling
	// prepared-statement caching for transaction-pooled Postgres.
	MaxOpenConns int `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS" validate:"min=1"`
	MaxIdleConns int `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS" validate:"min=0"`

	// DisablePreparedStatements avoids server-side prepare, required when
	// connecting through a transaction-mode pooler (pgbouncer et al.).
	DisablePreparedStatements bool `yaml:"disable_prepared_statements" env:"DATABASE_DISABLE_PREPARED_STATEMENTS"`
}

// DefaultDatabaseConfig returns worker-sized pool defaults.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		MaxOpenConns:              4,
		MaxIdleConns:              1,
		DisablePreparedStatements: true,
	}
}
