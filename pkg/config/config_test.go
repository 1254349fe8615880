package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration is invalid: %v", err)
	}

	if cfg.Recognition.BaseThreshold != 0.60 {
		t.Errorf("unexpected base threshold %f", cfg.Recognition.BaseThreshold)
	}
	if cfg.Recognition.MaxRetries != 2 {
		t.Errorf("unexpected max retries %d", cfg.Recognition.MaxRetries)
	}
	if cfg.Embedding.Dimensions != 128 {
		t.Errorf("unexpected dimensions %d", cfg.Embedding.Dimensions)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("unexpected backend %s", cfg.Storage.Backend)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facetrack.yaml")
	content := `
recognition:
  base_threshold: 0.55
  max_retries: 4
attendance:
  reentry_window_hours: 8
storage:
  backend: postgres
  postgres_dsn: postgres://localhost/facetrack
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded configuration invalid: %v", err)
	}

	if cfg.Recognition.BaseThreshold != 0.55 {
		t.Errorf("override lost: base threshold %f", cfg.Recognition.BaseThreshold)
	}
	if cfg.Recognition.MaxRetries != 4 {
		t.Errorf("override lost: max retries %d", cfg.Recognition.MaxRetries)
	}
	if cfg.Attendance.ReentryWindowHours != 8 {
		t.Errorf("override lost: window %f", cfg.Attendance.ReentryWindowHours)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Errorf("override lost: backend %s", cfg.Storage.Backend)
	}
	// Untouched sections keep their defaults.
	if cfg.Recognition.HighThreshold != 0.72 {
		t.Errorf("default lost: high threshold %f", cfg.Recognition.HighThreshold)
	}
	if cfg.Server.Port != 8440 {
		t.Errorf("default lost: port %d", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	// Defaults still come back so callers can decide to proceed.
	if cfg == nil || cfg.Recognition.BaseThreshold != 0.60 {
		t.Error("defaults not returned alongside the error")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ThresholdAboveOne", func(c *Config) { c.Recognition.BaseThreshold = 1.5 }},
		{"NegativeMargin", func(c *Config) { c.Recognition.BaseMargin = -0.1 }},
		{"HighBelowBase", func(c *Config) { c.Recognition.HighThreshold = 0.5 }},
		{"NegativeRetries", func(c *Config) { c.Recognition.MaxRetries = -1 }},
		{"ZeroWindow", func(c *Config) { c.Attendance.ReentryWindowHours = 0 }},
		{"ZeroDimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"UnknownBackend", func(c *Config) { c.Storage.Backend = "redis" }},
		{"PostgresWithoutDSN", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"BadPort", func(c *Config) { c.Server.Port = 0 }},
		{"ZeroScanInterval", func(c *Config) { c.Scan.IntervalSeconds = 0 }},
		{"BadLogLevel", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	if got := ExpandPath("~/data"); got != filepath.Join(home, "data") {
		t.Errorf("tilde not expanded: %s", got)
	}

	t.Setenv("FACETRACK_TEST_DIR", "/srv/facetrack")
	if got := ExpandPath("$FACETRACK_TEST_DIR/data"); got != "/srv/facetrack/data" {
		t.Errorf("env var not expanded: %s", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Extractor.ModelPath = filepath.Join(dir, "models")
	cfg.Logging.File = filepath.Join(dir, "logs", "facetrack.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories failed: %v", err)
	}

	for _, p := range []string{cfg.Storage.DataDir, cfg.Extractor.ModelPath, filepath.Join(dir, "logs")} {
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created", p)
		}
	}
}
