// Package config provides configuration management for FaceTrack.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all FaceTrack configuration.
type Config struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Extractor   ExtractorConfig   `yaml:"extractor"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
	Scan        ScanConfig        `yaml:"scan"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// RecognitionConfig holds the matching threshold policy. Every value is
// deployment-tunable; the decision engine hard-codes none of them.
type RecognitionConfig struct {
	BaseThreshold  float64 `yaml:"base_threshold"`
	HighThreshold  float64 `yaml:"high_threshold"`
	BaseMargin     float64 `yaml:"base_margin"`
	HighMargin     float64 `yaml:"high_margin"`
	MaxRetries     int     `yaml:"max_retries"`
	RetryBackoffMs int     `yaml:"retry_backoff_ms"`
}

// AttendanceConfig holds the entry/exit state machine settings.
type AttendanceConfig struct {
	ReentryWindowHours float64 `yaml:"reentry_window_hours"`
}

// EmbeddingConfig holds the embedding quality gates.
type EmbeddingConfig struct {
	Dimensions   int     `yaml:"dimensions"`
	MinMagnitude float64 `yaml:"min_magnitude"`
}

// ExtractorConfig holds extractor model settings.
type ExtractorConfig struct {
	ModelPath string `yaml:"model_path"`
}

// StorageConfig holds persistence settings. Backend selects "file" or
// "postgres".
type StorageConfig struct {
	Backend           string `yaml:"backend"`
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
	PostgresDSN       string `yaml:"postgres_dsn"`
	StoreRetries      int    `yaml:"store_retries"`
	StoreBackoffMs    int    `yaml:"store_backoff_ms"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ScanConfig holds auto-scan loop settings.
type ScanConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Recognition: RecognitionConfig{
			BaseThreshold:  0.60,
			HighThreshold:  0.72,
			BaseMargin:     0.05,
			HighMargin:     0.10,
			MaxRetries:     2,
			RetryBackoffMs: 800,
		},
		Attendance: AttendanceConfig{
			ReentryWindowHours: 4,
		},
		Embedding: EmbeddingConfig{
			Dimensions:   128,
			MinMagnitude: 0.1,
		},
		Extractor: ExtractorConfig{
			ModelPath: filepath.Join(homeDir, ".local/share/facetrack/models"),
		},
		Storage: StorageConfig{
			Backend:           "file",
			DataDir:           filepath.Join(homeDir, ".local/share/facetrack"),
			EncryptionEnabled: true,
			StoreRetries:      2,
			StoreBackoffMs:    500,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8440,
		},
		Scan: ScanConfig{
			IntervalSeconds: 3,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, ".local/share/facetrack/facetrack.log"),
		},
	}
}

// Load loads configuration from the specified file on top of defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facetrack/facetrack.yaml"); err == nil {
		return Load("/etc/facetrack/facetrack.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facetrack/facetrack.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	rec := c.Recognition
	for name, v := range map[string]float64{
		"base_threshold": rec.BaseThreshold,
		"high_threshold": rec.HighThreshold,
		"base_margin":    rec.BaseMargin,
		"high_margin":    rec.HighMargin,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, v)
		}
	}
	if rec.HighThreshold < rec.BaseThreshold {
		return fmt.Errorf("high_threshold (%f) must not be below base_threshold (%f)",
			rec.HighThreshold, rec.BaseThreshold)
	}
	if rec.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", rec.MaxRetries)
	}
	if rec.RetryBackoffMs < 0 {
		return fmt.Errorf("retry_backoff_ms must not be negative, got %d", rec.RetryBackoffMs)
	}

	if c.Attendance.ReentryWindowHours <= 0 {
		return fmt.Errorf("reentry_window_hours must be positive, got %f", c.Attendance.ReentryWindowHours)
	}

	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.MinMagnitude < 0 {
		return fmt.Errorf("min_magnitude must not be negative, got %f", c.Embedding.MinMagnitude)
	}

	switch c.Storage.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("invalid storage backend: %s (must be file or postgres)", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("postgres backend requires postgres_dsn")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Scan.IntervalSeconds <= 0 {
		return fmt.Errorf("scan interval_seconds must be positive, got %d", c.Scan.IntervalSeconds)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Extractor.ModelPath = ExpandPath(c.Extractor.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates the directories storage and logging need.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := os.MkdirAll(c.Extractor.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		logDir := filepath.Dir(c.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}
