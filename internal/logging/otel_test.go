package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
)

func TestNewDualCore_LocalOnly(t *testing.T) {
	cfg := NewDefaultConfig()

	core, err := newDualCore(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, core)
}

func TestNewDualCore_OTELWithoutProviderFallsBackToLocal(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.OTEL = true

	core, err := newDualCore(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, core)
}

func TestNewDualCore_OTELOnly(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	logger, err := NewLogger(cfg, noop.NewLoggerProvider())
	require.NoError(t, err)

	logger.Info(context.Background(), "exported")
	assert.NoError(t, logger.Sync())
}

func TestNewDualCore_NoOutputs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	_, err := newDualCore(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one output")
}

func TestLocalWriter(t *testing.T) {
	assert.Nil(t, localWriter(OutputConfig{}))
	assert.NotNil(t, localWriter(OutputConfig{Stdout: true}))
	assert.NotNil(t, localWriter(OutputConfig{Stderr: true}))
}
