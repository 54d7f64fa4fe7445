package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration for the simulator binary.
// Command-line flags override whatever the file sets.
type Config struct {
	ScenarioPath string `yaml:"scenario"`
	RulesPath    string `yaml:"rules"`

	StartTime string `yaml:"start_time"` // RFC 3339; defaults to now
	Duration  int64  `yaml:"duration_s"`
	Step      int64  `yaml:"step_s"`

	MetricsAddr   string `yaml:"metrics_addr"`
	TelemetryPath string `yaml:"telemetry_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func defaultConfig() Config {
	return Config{
		ScenarioPath:  "configs/network_scenario.json",
		Duration:      24 * 3600,
		Step:          300,
		MetricsAddr:   ":9090",
		TelemetryPath: "/ws",
	}
}

// LoadConfig reads YAML from r over the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := defaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Duration <= 0 {
		return Config{}, fmt.Errorf("config: duration_s must be positive, got %d", cfg.Duration)
	}
	if cfg.Step <= 0 {
		return Config{}, fmt.Errorf("config: step_s must be positive, got %d", cfg.Step)
	}
	return cfg, nil
}

// LoadConfigFile reads an optional config file; an empty path yields
// the defaults.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

// Start parses the configured start time, defaulting to the current
// wall clock.
func (c Config) Start() (time.Time, error) {
	if c.StartTime == "" {
		return time.Now(), nil
	}
	ts, err := time.Parse(time.RFC3339, c.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: bad start_time %q: %w", c.StartTime, err)
	}
	return ts, nil
}
