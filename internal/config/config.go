// Package config loads runtime configuration for the nanobook binary from
// a YAML file (default: nanobook.yaml) with NANOBOOK_* environment
// overrides and in-code defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Keys map directly to the YAML
// structure; unknown keys are ignored.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Replay  ReplayConfig  `mapstructure:"replay"`
	Sweep   SweepConfig   `mapstructure:"sweep"`
}

// LoggingConfig selects zerolog level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // trace|debug|info|warn|error
	Format string `mapstructure:"format"` // console|json
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"` // e.g. ":9090"
}

// ReplayConfig drives the ITCH replay mode.
type ReplayConfig struct {
	File  string `mapstructure:"file"`
	Depth int    `mapstructure:"depth"` // levels to print after replay
}

// SweepConfig drives the parallel sweep mode.
type SweepConfig struct {
	PricesCSV      string  `mapstructure:"prices_csv"`
	Params         int     `mapstructure:"params"`
	InitialCash    float64 `mapstructure:"initial_cash"` // cents
	PeriodsPerYear float64 `mapstructure:"periods_per_year"`
	RiskFree       float64 `mapstructure:"risk_free"`
}

// Load reads the config file at path (empty means search the working
// directory for nanobook.yaml) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("replay.depth", 5)
	v.SetDefault("sweep.params", 8)
	v.SetDefault("sweep.initial_cash", 100_000_00)
	v.SetDefault("sweep.periods_per_year", 252)
	v.SetDefault("sweep.risk_free", 0)

	v.SetEnvPrefix("NANOBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("nanobook")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// A missing default config file is fine; defaults apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
