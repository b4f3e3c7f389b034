// Package common provides shared utilities for strata
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for strata
type Config struct {
	Environment string           `toml:"environment"`
	Simulation  SimulationConfig `toml:"simulation"`
	Report      ReportConfig     `toml:"report"`
	Logging     LoggingConfig    `toml:"logging"`
}

// SimulationConfig holds default simulation assumptions. Per-run flags
// override these; they exist so operators can pin house assumptions in
// one place.
type SimulationConfig struct {
	HorizonPeriods          int     `toml:"horizon_periods"`
	CPR                     float64 `toml:"cpr"`      // annualized constant prepayment rate
	CDR                     float64 `toml:"cdr"`      // annualized constant default rate
	Severity                float64 `toml:"severity"` // loss given default, fraction of defaulted balance
	ApplyWaterfallToActuals bool    `toml:"apply_waterfall_to_actuals"`
}

// ReportConfig holds report output configuration
type ReportConfig struct {
	OutputDir string `toml:"output_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Simulation: SimulationConfig{
			HorizonPeriods:          60,
			CPR:                     0.06,
			CDR:                     0.01,
			Severity:                0.35,
			ApplyWaterfallToActuals: true,
		},
		Report: ReportConfig{
			OutputDir: "reports",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("STRATA_ENV"); env != "" {
		config.Environment = env
	}

	if level := os.Getenv("STRATA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if horizon := os.Getenv("STRATA_HORIZON"); horizon != "" {
		if h, err := strconv.Atoi(horizon); err == nil && h > 0 {
			config.Simulation.HorizonPeriods = h
		}
	}

	if dir := os.Getenv("STRATA_REPORT_DIR"); dir != "" {
		config.Report.OutputDir = dir
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
