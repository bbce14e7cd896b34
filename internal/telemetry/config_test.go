package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/trilat/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "trilat", cfg.ServiceName)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	require.NoError(t, cfg.Validate())
}

func TestFromAppConfig(t *testing.T) {
	app := config.Default().Telemetry
	app.Enabled = true
	app.Protocol = ProtocolHTTP
	app.ExportInterval = config.Duration(time.Minute)

	cfg := FromAppConfig(app, "1.2.3")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, time.Minute, cfg.ExportInterval)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "disabled skips checks", mutate: func(c *Config) { c.Enabled = false; c.Endpoint = "" }},
		{name: "enabled defaults", mutate: func(c *Config) {}},
		{name: "missing endpoint", mutate: func(c *Config) { c.Endpoint = "" }, wantErr: "endpoint is required"},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service_name"},
		{name: "bad protocol", mutate: func(c *Config) { c.Protocol = "udp" }, wantErr: "unsupported protocol"},
		{
			name:    "insecure remote",
			mutate:  func(c *Config) { c.Endpoint = "collector.example.com:4317" },
			wantErr: "local endpoints",
		},
		{name: "secure remote", mutate: func(c *Config) { c.Endpoint = "collector.example.com:4317"; c.Insecure = false }},
		{name: "sampling above one", mutate: func(c *Config) { c.SamplingRate = 1.5 }, wantErr: "sampling rate"},
		{name: "zero export interval", mutate: func(c *Config) { c.ExportInterval = 0 }, wantErr: "export interval"},
		{
			name:   "zero export interval without metrics",
			mutate: func(c *Config) { c.ExportInterval = 0; c.MetricsEnabled = false },
		},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: "shutdown timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
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

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"127.0.0.1:4317", true},
		{"127.1.2.3:4318", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"http://localhost:4318", true},
		{"10.0.0.5:4317", false},
		{"otel.example.com:4317", false},
	}
	for _, tt := range tests {
		cfg := &Config{Endpoint: tt.endpoint}
		assert.Equal(t, tt.want, cfg.isLocalEndpoint(), tt.endpoint)
	}
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("otel:4318"))
}
