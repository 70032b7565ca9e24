// Package config loads process settings from the environment and the
// operator policy file.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/logging"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "BUILDGATE_"

// Config is the process configuration read from BUILDGATE_* variables.
type Config struct {
	DBPath        string `env:"DB" envDefault:"buildgate.db"`
	PolicyPath    string `env:"POLICY"`
	TraceCapacity int    `env:"TRACE_CAPACITY" envDefault:"256"`
	MetricsAddr   string `env:"METRICS_ADDR"`

	Log logging.Options
}

// ParseEnv reads Config from the process environment.
func ParseEnv() (Config, error) {
	return parse(env.Options{Prefix: EnvPrefix})
}

// ParseEnvFrom reads Config from vars instead of the process environment.
func ParseEnvFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: EnvPrefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.TraceCapacity < 1 {
		return Config{}, fmt.Errorf("parse env: %sTRACE_CAPACITY must be positive, got %d", EnvPrefix, cfg.TraceCapacity)
	}
	return cfg, nil
}
