package solver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/trilat/internal/config"
	"github.com/fyrsmithlabs/trilat/internal/telemetry"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:     srv.URL + "/",
		RateLimit:   1000,
		Burst:       100,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var threePoints = []Point{
	{Lat: 52.52, Lng: 13.40, Distance: 1000},
	{Lat: 52.53, Lng: 13.41, Distance: 1200},
	{Lat: 52.51, Lng: 13.42, Distance: 900},
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "  "})
	require.Error(t, err)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.Default().Solver, nil)
	assert.Equal(t, "http://localhost:5000", cfg.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestClient_Compute(t *testing.T) {
	var got pointsRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, pathCompute, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{
			"lat": 52.5201, "lng": 13.4049, "accuracy": 35.5, "confidence": 87.2,
			"method": "multilateration", "point_count": 3,
			"statistics": map[string]any{"mean_error": 12.3},
		})
	}))

	res, err := c.Compute(context.Background(), threePoints)
	require.NoError(t, err)
	assert.Len(t, got.Points, 3)
	assert.Equal(t, 1000.0, got.Points[0].Distance)
	assert.InDelta(t, 52.5201, res.Lat, 1e-9)
	assert.Equal(t, "multilateration", res.Method)
	assert.Equal(t, 3, res.PointCount)
	assert.JSONEq(t, `{"mean_error":12.3}`, string(res.Statistics))
}

func TestClient_Preview(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]any
		ready      bool
		confidence float64
	}{
		{
			name: "ready",
			body: map[string]any{"ready": true, "preview": map[string]any{
				"lat": 52.5, "lng": 13.4, "accuracy": 80, "confidence": 72, "point_count": 3,
			}},
			ready:      true,
			confidence: 72,
		},
		{
			name:  "needs more points",
			body:  map[string]any{"ready": false, "points_needed": 1, "message": "need more"},
			ready: false,
		},
		{
			name:  "solver reported error",
			body:  map[string]any{"ready": false, "error": "degenerate geometry"},
			ready: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, pathPreview, r.URL.Path)
				writeJSON(w, http.StatusOK, tt.body)
			}))
			p, err := c.Preview(context.Background(), threePoints)
			require.NoError(t, err)
			assert.Equal(t, tt.ready, p.Ready)
			assert.Equal(t, tt.confidence, p.Confidence())
		})
	}
}

func TestClient_Validate(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathValidate, r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"valid": true, "point_count": 3, "recommended_count": 4,
			"warnings":    []string{"points are nearly collinear"},
			"suggestions": []string{"add a point to the north"},
		})
	}))

	v, err := c.Validate(context.Background(), threePoints)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, 4, v.RecommendedCount)
	assert.Equal(t, []string{"points are nearly collinear"}, v.Warnings)
}

func TestClient_Health(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, pathHealth, r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": "1.0.0"})
	}))

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
}

func TestClient_ServiceErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least 3 points required"})
	}))

	_, err := c.Compute(context.Background(), threePoints[:2])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrService)

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, "at least 3 points required", se.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"lat": 1, "lng": 2, "confidence": 60, "point_count": 3})
	}))

	res, err := c.Compute(context.Background(), threePoints)
	require.NoError(t, err)
	assert.Equal(t, 60.0, res.Confidence)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.Compute(context.Background(), threePoints)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.ErrorIs(t, err, ErrService)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_MalformedResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))

	_, err := c.Compute(context.Background(), threePoints)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse response")
	assert.NotErrorIs(t, err, ErrService)
}

func TestClient_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Compute(ctx, threePoints)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad", errorMessage([]byte(`{"error":"bad"}`), "fallback"))
	assert.Equal(t, "plain text", errorMessage([]byte("plain text\n"), "fallback"))
	assert.Equal(t, "fallback", errorMessage(nil, "fallback"))
}

func TestClient_TracesCalls(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not enough points"})
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, Tracer: tt.Tracer("test"), BaseBackoff: time.Millisecond})
	require.NoError(t, err)

	_, err = c.Compute(context.Background(), threePoints[:1])
	require.Error(t, err)

	tt.AssertSpanExists(t, "solver.compute")
	tt.AssertSpanAttribute(t, "solver.compute", "solver.point_count", int64(1))
	tt.AssertSpanAttribute(t, "solver.compute", "http.route", pathCompute)
	span := tt.SpanByName("solver.compute")
	require.NotNil(t, span)
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Status().Description, "not enough points")
}
