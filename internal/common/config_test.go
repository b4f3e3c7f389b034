package common

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	if config.Environment != "development" {
		t.Errorf("environment = %s, want development", config.Environment)
	}
	if config.Simulation.HorizonPeriods != 60 {
		t.Errorf("horizon = %d, want 60", config.Simulation.HorizonPeriods)
	}
	if config.Simulation.CPR != 0.06 || config.Simulation.CDR != 0.01 || config.Simulation.Severity != 0.35 {
		t.Errorf("default assumptions = %+v", config.Simulation)
	}
	if !config.Simulation.ApplyWaterfallToActuals {
		t.Error("apply_waterfall_to_actuals should default to true")
	}
	if config.Report.OutputDir != "reports" {
		t.Errorf("report dir = %s, want reports", config.Report.OutputDir)
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.toml")
	content := `
environment = "production"

[simulation]
horizon_periods = 120
cpr = 0.08

[report]
output_dir = "/var/reports"

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}

	if config.Environment != "production" {
		t.Errorf("environment = %s", config.Environment)
	}
	if !config.IsProduction() {
		t.Error("IsProduction() = false for production")
	}
	if config.Simulation.HorizonPeriods != 120 {
		t.Errorf("horizon = %d, want 120", config.Simulation.HorizonPeriods)
	}
	if config.Simulation.CPR != 0.08 {
		t.Errorf("cpr = %f, want 0.08", config.Simulation.CPR)
	}
	// Unset fields keep their defaults
	if config.Simulation.CDR != 0.01 {
		t.Errorf("cdr = %f, want default 0.01", config.Simulation.CDR)
	}
	if config.Report.OutputDir != "/var/reports" {
		t.Errorf("report dir = %s", config.Report.OutputDir)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("log level = %s", config.Logging.Level)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	config, err := LoadConfig("/nonexistent/strata.toml")
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if config.Simulation.HorizonPeriods != 60 {
		t.Errorf("horizon = %d, want default 60", config.Simulation.HorizonPeriods)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("STRATA_ENV", "staging")
	t.Setenv("STRATA_LOG_LEVEL", "warn")
	t.Setenv("STRATA_HORIZON", "24")
	t.Setenv("STRATA_REPORT_DIR", "/tmp/out")

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}

	if config.Environment != "staging" {
		t.Errorf("environment = %s, want staging", config.Environment)
	}
	if config.Logging.Level != "warn" {
		t.Errorf("log level = %s, want warn", config.Logging.Level)
	}
	if config.Simulation.HorizonPeriods != 24 {
		t.Errorf("horizon = %d, want 24", config.Simulation.HorizonPeriods)
	}
	if config.Report.OutputDir != "/tmp/out" {
		t.Errorf("report dir = %s, want /tmp/out", config.Report.OutputDir)
	}
}

func TestLoadConfig_InvalidHorizonEnvIgnored(t *testing.T) {
	t.Setenv("STRATA_HORIZON", "not-a-number")

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if config.Simulation.HorizonPeriods != 60 {
		t.Errorf("horizon = %d, want default 60", config.Simulation.HorizonPeriods)
	}
}
