// Package config provides configuration loading for trilat.
//
// Configuration is assembled from hardcoded defaults, an optional YAML or TOML
// file (chosen by extension) and TRILAT_-prefixed environment variables, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the complete trilat configuration.
type Config struct {
	Storage     StorageConfig     `koanf:"storage"`
	Solver      SolverConfig      `koanf:"solver"`
	Calculation CalculationConfig `koanf:"calculation"`
	Autosave    AutosaveConfig    `koanf:"autosave"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// StorageConfig holds local project store configuration.
type StorageConfig struct {
	Dir          string `koanf:"dir"`
	MaxProjects  int    `koanf:"max_projects"`
	MaxSizeBytes int64  `koanf:"max_size_bytes"`
}

// SolverConfig holds Solver Service client configuration.
type SolverConfig struct {
	BaseURL    string   `koanf:"base_url"`
	Timeout    Duration `koanf:"timeout"`
	RateLimit  float64  `koanf:"rate_limit"` // requests per second
	Burst      int      `koanf:"burst"`
	MaxRetries int      `koanf:"max_retries"`
}

// CalculationConfig holds live calculation settings.
type CalculationConfig struct {
	Auto                bool     `koanf:"auto"`
	Debounce            Duration `koanf:"debounce"`
	ConfidenceThreshold float64  `koanf:"confidence_threshold"`
}

// AutosaveConfig holds working project autosave settings.
type AutosaveConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Interval Duration `koanf:"interval"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the subset of logging settings exposed to users.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // grpc or http/protobuf
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name"`
	SamplingRate   float64  `koanf:"sampling_rate"`
	MetricsEnabled bool     `koanf:"metrics_enabled"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Default project store limits.
const (
	DefaultMaxProjects  = 50
	DefaultMaxSizeBytes = 5 * 1024 * 1024
)

// Default returns a configuration populated with defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Dir:          "~/.config/trilat/data",
			MaxProjects:  DefaultMaxProjects,
			MaxSizeBytes: DefaultMaxSizeBytes,
		},
		Solver: SolverConfig{
			BaseURL:    "http://localhost:5000",
			Timeout:    Duration(10 * time.Second),
			RateLimit:  10,
			Burst:      5,
			MaxRetries: 2,
		},
		Calculation: CalculationConfig{
			Auto:                true,
			Debounce:            Duration(500 * time.Millisecond),
			ConfidenceThreshold: 50,
		},
		Autosave: AutosaveConfig{
			Enabled:  true,
			Interval: Duration(30 * time.Second),
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			ServiceName:    "trilat",
			SamplingRate:   1.0,
			MetricsEnabled: true,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Storage.Dir == "" {
		return errors.New("storage dir is required")
	}
	if c.Storage.MaxProjects < 1 {
		return fmt.Errorf("invalid storage max_projects: %d (must be >= 1)", c.Storage.MaxProjects)
	}
	if c.Storage.MaxSizeBytes < 1024 {
		return fmt.Errorf("invalid storage max_size_bytes: %d (must be >= 1024)", c.Storage.MaxSizeBytes)
	}

	if c.Solver.BaseURL == "" {
		return errors.New("solver base_url is required")
	}
	if c.Solver.Timeout.Duration() <= 0 {
		return errors.New("solver timeout must be positive")
	}
	if c.Solver.RateLimit <= 0 {
		return errors.New("solver rate_limit must be positive")
	}
	if c.Solver.Burst < 1 {
		return errors.New("solver burst must be >= 1")
	}
	if c.Solver.MaxRetries < 0 {
		return errors.New("solver max_retries cannot be negative")
	}

	if c.Calculation.Debounce.Duration() <= 0 {
		return errors.New("calculation debounce must be positive")
	}
	if c.Calculation.ConfidenceThreshold <= 0 || c.Calculation.ConfidenceThreshold > 100 {
		return fmt.Errorf("invalid confidence_threshold: %v (must be above 0 and at most 100)", c.Calculation.ConfidenceThreshold)
	}

	if c.Autosave.Enabled && c.Autosave.Interval.Duration() <= 0 {
		return errors.New("autosave interval must be positive when autosave is enabled")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		return fmt.Errorf("telemetry protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol)
	}

	return nil
}

// StorageDir returns the storage directory with a leading ~ expanded.
func (c *Config) StorageDir() (string, error) {
	return ExpandHome(c.Storage.Dir)
}

// ExpandHome expands a leading "~/" to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
