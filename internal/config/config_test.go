package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 50, cfg.Storage.MaxProjects)
	assert.Equal(t, int64(5*1024*1024), cfg.Storage.MaxSizeBytes)
	assert.Equal(t, 500*time.Millisecond, cfg.Calculation.Debounce.Duration())
	assert.Equal(t, 50.0, cfg.Calculation.ConfidenceThreshold)
	assert.True(t, cfg.Calculation.Auto)
	assert.True(t, cfg.Autosave.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Autosave.Interval.Duration())
	assert.False(t, cfg.Telemetry.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty storage dir",
			mutate:  func(c *Config) { c.Storage.Dir = "" },
			wantErr: "storage dir is required",
		},
		{
			name:    "zero max projects",
			mutate:  func(c *Config) { c.Storage.MaxProjects = 0 },
			wantErr: "max_projects",
		},
		{
			name:    "tiny size ceiling",
			mutate:  func(c *Config) { c.Storage.MaxSizeBytes = 10 },
			wantErr: "max_size_bytes",
		},
		{
			name:    "missing solver url",
			mutate:  func(c *Config) { c.Solver.BaseURL = "" },
			wantErr: "base_url",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Solver.MaxRetries = -1 },
			wantErr: "max_retries",
		},
		{
			name:    "threshold above 100",
			mutate:  func(c *Config) { c.Calculation.ConfidenceThreshold = 101 },
			wantErr: "confidence_threshold",
		},
		{
			name:    "threshold zero",
			mutate:  func(c *Config) { c.Calculation.ConfidenceThreshold = 0 },
			wantErr: "confidence_threshold",
		},
		{
			name:   "threshold 100",
			mutate: func(c *Config) { c.Calculation.ConfidenceThreshold = 100 },
		},
		{
			name:    "autosave without interval",
			mutate:  func(c *Config) { c.Autosave.Interval = 0 },
			wantErr: "autosave interval",
		},
		{
			name:   "autosave disabled without interval",
			mutate: func(c *Config) { c.Autosave.Enabled = false; c.Autosave.Interval = 0 },
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging format",
		},
		{
			name:    "unknown telemetry protocol",
			mutate:  func(c *Config) { c.Telemetry.Protocol = "udp" },
			wantErr: "telemetry protocol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandHome("~/.config/trilat/data")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "trilat", "data"), got)

	got, err = ExpandHome("/var/lib/trilat")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/trilat", got)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("750ms")))
	assert.Equal(t, 750*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration(2 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2s", string(text))
}
