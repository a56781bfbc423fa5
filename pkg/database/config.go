package database

import (
	"fmt"
	"time"

	"github.com/evalpipe/evalpipe/pkg/config"
)

// FromAppConfig adapts the loaded application configuration's database
// section into the connection settings NewClient expects.
func FromAppConfig(cfg config.DatabaseConfig) Config {
	return Config{
		URL:                       cfg.URL,
		MaxOpenConns:              cfg.MaxOpenConns,
		MaxIdleConns:              cfg.MaxIdleConns,
		ConnMaxLifetime:           time.Hour,
		ConnMaxIdleTime:           15 * time.Minute,
		DisablePreparedStatements: cfg.DisablePreparedStatements,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max idle conns (%d) cannot exceed max open conns (%d)",
			c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("max open conns must be at least 1")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("max idle conns cannot be negative")
	}
	return nil
}
