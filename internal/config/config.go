// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the server binary needs.
type Config struct {
	Addr            string        `env:"COINSTORE_ADDR" envDefault:":8080"`
	DatabaseDSN     string        `env:"COINSTORE_DATABASE_DSN,required"`
	SweepInterval   time.Duration `env:"COINSTORE_SWEEP_INTERVAL" envDefault:"10m"`
	ShutdownTimeout time.Duration `env:"COINSTORE_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	Dev             bool          `env:"COINSTORE_DEV" envDefault:"false"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}
