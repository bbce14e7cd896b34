package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/trilat/internal/calculation"
	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/solver"
	"github.com/fyrsmithlabs/trilat/internal/workspace"
)

func newTestMetrics() (*Metrics, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return NewMetrics(mp.Meter(instrumentationName), nil), reader
}

// sumOf totals an int64 sum metric, optionally restricted to datapoints
// carrying attribute key=value.
func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) (int64, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				if key != "" {
					if v, ok := dp.Attributes.Value(attribute.Key(key)); !ok || v.AsString() != value {
						continue
					}
				}
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}

func TestMetrics_RecordInvocation(t *testing.T) {
	m, reader := newTestMetrics()
	ctx := context.Background()

	m.RecordInvocation(ctx, "point_add", 100*time.Millisecond, nil)
	m.RecordInvocation(ctx, "point_add", 50*time.Millisecond, fmt.Errorf("save: %w", project.ErrStorageQuotaExceeded))

	invocations, ok := sumOf(t, reader, "trilat.mcp.tool.invocations_total", "tool", "point_add")
	require.True(t, ok)
	assert.Equal(t, int64(2), invocations)

	limitErrors, ok := sumOf(t, reader, "trilat.mcp.tool.errors_total", "reason", "limit_exceeded")
	require.True(t, ok)
	assert.Equal(t, int64(1), limitErrors)
}

func TestMetrics_ActiveRequests(t *testing.T) {
	m, reader := newTestMetrics()
	ctx := context.Background()

	m.IncrementActive(ctx, "position_calculate")
	m.IncrementActive(ctx, "position_calculate")
	m.DecrementActive(ctx, "position_calculate")

	active, ok := sumOf(t, reader, "trilat.mcp.tool.active_requests", "", "")
	require.True(t, ok)
	assert.Equal(t, int64(1), active)
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"missing project", fmt.Errorf("get: %w", project.ErrProjectNotFound), "not_found"},
		{"missing point", workspace.ErrPointNotFound, "not_found"},
		{"no active project", errNoActiveProject, "not_found"},
		{"project limit", project.ErrProjectLimitExceeded, "limit_exceeded"},
		{"point limit", workspace.ErrMaxPointsReached, "limit_exceeded"},
		{"bad point", fmt.Errorf("%w: distance", workspace.ErrInvalidPoint), "validation_error"},
		{"bad sort key", project.ErrInvalidSortKey, "validation_error"},
		{"too few points", calculation.ErrNotEnoughPoints, "not_enough_points"},
		{"solver failure", &solver.ServiceError{StatusCode: 500, Message: "boom"}, "solver_error"},
		{"timeout", context.DeadlineExceeded, "timeout"},
		{"generic error", errors.New("something went wrong"), "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, categorizeError(tt.err))
		})
	}
}
