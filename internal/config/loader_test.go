package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns its config directory.
func setupTestHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "trilat")
	require.NoError(t, os.MkdirAll(configDir, 0700))
	return configDir
}

func TestLoad_EnvOverrides(t *testing.T) {
	setupTestHome(t)
	t.Setenv("TRILAT_SOLVER_BASE_URL", "http://solver.internal:8000")
	t.Setenv("TRILAT_STORAGE_MAX_PROJECTS", "10")
	t.Setenv("TRILAT_CALCULATION_DEBOUNCE", "250ms")
	t.Setenv("TRILAT_AUTOSAVE_ENABLED", "false")
	t.Setenv("TRILAT_CALCULATION_AUTO", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://solver.internal:8000", cfg.Solver.BaseURL)
	assert.Equal(t, 10, cfg.Storage.MaxProjects)
	assert.Equal(t, 250*time.Millisecond, cfg.Calculation.Debounce.Duration())
	assert.False(t, cfg.Autosave.Enabled)
	assert.False(t, cfg.Calculation.Auto)
	// untouched keys keep defaults
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoad_RejectsZeroConfidenceThreshold(t *testing.T) {
	setupTestHome(t)
	t.Setenv("TRILAT_CALCULATION_CONFIDENCE_THRESHOLD", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence_threshold")
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	configDir := setupTestHome(t)
	configPath := filepath.Join(configDir, "config.yaml")

	yamlContent := `storage:
  dir: /tmp/trilat-test
  max_projects: 5
solver:
  base_url: http://127.0.0.1:5001
  timeout: 3s
calculation:
  confidence_threshold: 70
server:
  port: 9300
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0600))

	cfg, err := LoadWithFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/trilat-test", cfg.Storage.Dir)
	assert.Equal(t, 5, cfg.Storage.MaxProjects)
	assert.Equal(t, "http://127.0.0.1:5001", cfg.Solver.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Solver.Timeout.Duration())
	assert.Equal(t, 70.0, cfg.Calculation.ConfidenceThreshold)
	assert.Equal(t, 9300, cfg.Server.Port)
	assert.Equal(t, int64(DefaultMaxSizeBytes), cfg.Storage.MaxSizeBytes)
}

func TestLoadWithFile_EnvBeatsFile(t *testing.T) {
	configDir := setupTestHome(t)
	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 9300\n"), 0600))
	t.Setenv("TRILAT_SERVER_PORT", "9400")

	cfg, err := LoadWithFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, 9400, cfg.Server.Port)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	configDir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(configDir, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Solver.BaseURL, cfg.Solver.BaseURL)
}

func TestLoadWithFile_Rejections(t *testing.T) {
	t.Run("insecure permissions", func(t *testing.T) {
		configDir := setupTestHome(t)
		configPath := filepath.Join(configDir, "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 9300\n"), 0644))
		require.NoError(t, os.Chmod(configPath, 0644))

		_, err := LoadWithFile(configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure config file permissions")
	})

	t.Run("outside allowed directories", func(t *testing.T) {
		setupTestHome(t)
		outside := filepath.Join(t.TempDir(), "config.yaml")

		_, err := LoadWithFile(outside)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config path validation failed")
	})

	t.Run("invalid values", func(t *testing.T) {
		configDir := setupTestHome(t)
		configPath := filepath.Join(configDir, "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  format: xml\n"), 0600))

		_, err := LoadWithFile(configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config validation failed")
	})
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "solver.base_url", envKey("TRILAT_SOLVER_BASE_URL"))
	assert.Equal(t, "storage.max_size_bytes", envKey("TRILAT_STORAGE_MAX_SIZE_BYTES"))
	assert.Equal(t, "debug", envKey("TRILAT_DEBUG"))
}

func TestLoadWithFile_TOML(t *testing.T) {
	configDir := setupTestHome(t)
	configPath := filepath.Join(configDir, "config.toml")

	content := `[storage]
dir = "/tmp/trilat-toml"
max_projects = 7

[solver]
base_url = "http://127.0.0.1:5002"
timeout = "4s"

[calculation]
confidence_threshold = 65.5
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := LoadWithFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/trilat-toml", cfg.Storage.Dir)
	assert.Equal(t, 7, cfg.Storage.MaxProjects)
	assert.Equal(t, "http://127.0.0.1:5002", cfg.Solver.BaseURL)
	assert.Equal(t, 4*time.Second, cfg.Solver.Timeout.Duration())
	assert.Equal(t, 65.5, cfg.Calculation.ConfidenceThreshold)
}

func TestLoadWithFile_InvalidTOML(t *testing.T) {
	configDir := setupTestHome(t)
	configPath := filepath.Join(configDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[storage\ndir = "), 0600))

	_, err := LoadWithFile(configPath)
	assert.Error(t, err)
}

func TestTOMLParser_RoundTrip(t *testing.T) {
	p := TOMLParser()
	out, err := p.Marshal(map[string]interface{}{"server": map[string]interface{}{"port": 9300}})
	require.NoError(t, err)

	m, err := p.Unmarshal(out)
	require.NoError(t, err)
	server, ok := m["server"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, int64(9300), server["port"])
}
