package main

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ScenarioPath != "configs/network_scenario.json" {
		t.Fatalf("scenario = %q, want default", cfg.ScenarioPath)
	}
	if cfg.Duration != 86400 || cfg.Step != 300 {
		t.Fatalf("duration/step = %d/%d, want 86400/300", cfg.Duration, cfg.Step)
	}
	if cfg.MetricsAddr != ":9090" || cfg.TelemetryPath != "/ws" {
		t.Fatalf("addr/path = %q/%q, want :9090 and /ws", cfg.MetricsAddr, cfg.TelemetryPath)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	in := `
scenario: nets/plant.json
rules: nets/plant.rules
start_time: "2026-08-23T00:00:00Z"
duration_s: 3600
step_s: 60
metrics_addr: ":8080"
log_level: debug
`
	cfg, err := LoadConfig(strings.NewReader(in))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ScenarioPath != "nets/plant.json" || cfg.RulesPath != "nets/plant.rules" {
		t.Fatalf("paths = %q/%q", cfg.ScenarioPath, cfg.RulesPath)
	}
	if cfg.Duration != 3600 || cfg.Step != 60 {
		t.Fatalf("duration/step = %d/%d, want 3600/60", cfg.Duration, cfg.Step)
	}
	if cfg.MetricsAddr != ":8080" || cfg.LogLevel != "debug" {
		t.Fatalf("addr/level = %q/%q", cfg.MetricsAddr, cfg.LogLevel)
	}
	// Fields the file did not set keep their defaults.
	if cfg.TelemetryPath != "/ws" {
		t.Fatalf("telemetry path = %q, want default /ws", cfg.TelemetryPath)
	}

	start, err := cfg.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Fatalf("start = %v, want %v", start, want)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	if _, err := LoadConfig(strings.NewReader("durationn_s: 3600\n")); err == nil {
		t.Fatalf("misspelled key must be rejected")
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	if _, err := LoadConfig(strings.NewReader("duration_s: 0\n")); err == nil {
		t.Fatalf("zero duration must be rejected")
	}
	if _, err := LoadConfig(strings.NewReader("step_s: -5\n")); err == nil {
		t.Fatalf("negative step must be rejected")
	}
}

func TestStartRejectsMalformedTime(t *testing.T) {
	cfg := defaultConfig()
	cfg.StartTime = "yesterday"
	if _, err := cfg.Start(); err == nil {
		t.Fatalf("malformed start_time must be rejected")
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	if _, err := LoadConfigFile("definitely/not/here.yaml"); err == nil {
		t.Fatalf("missing file must be reported")
	}
	cfg, err := LoadConfigFile("")
	if err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if cfg.Step != 300 {
		t.Fatalf("empty path must yield defaults, step = %d", cfg.Step)
	}
}
