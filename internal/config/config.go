// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrParsingConfig = errors.New("failed to parse configuration")

// Config is the host-level configuration for the splitpage CLI and collector.
// Page-level behavior comes from the settings file, not from here.
type Config struct {
	DBPath       string `env:"SPLITPAGE_DB_PATH" envDefault:"./splitpage.db"`
	SettingsPath string `env:"SPLITPAGE_SETTINGS" envDefault:"./settings.json"`
	Port         int    `env:"SPLITPAGE_PORT" envDefault:"8080"`
	Debug        bool   `env:"SPLITPAGE_DEBUG"`
	RedisURL     string `env:"SPLITPAGE_REDIS_URL"`
	CollectorURL string `env:"SPLITPAGE_COLLECTOR_URL"`
}

// Load reads an optional .env file (missing files are ignored) and parses the environment.
func Load(envFiles ...string) (Config, error) {
	// the .env file might not exist and that's ok
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("%w: invalid port %d", ErrParsingConfig, cfg.Port)
	}
	return cfg, nil
}
