package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/trilat/internal/config"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultRateLimit   = 10.0
	defaultBurst       = 5
	defaultMaxRetries  = 2
	defaultBaseBackoff = 200 * time.Millisecond
	maxResponseBytes   = 1 << 20

	instrumentationName = "github.com/fyrsmithlabs/trilat/internal/solver"
)

// Endpoint paths.
const (
	pathValidate = "/api/points/validate"
	pathPreview  = "/api/triangulate/preview"
	pathCompute  = "/api/triangulate"
	pathHealth   = "/api/health"
)

// Config configures a Client. Zero values take defaults.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RateLimit   float64 // requests per second
	Burst       int
	MaxRetries  int
	BaseBackoff time.Duration
	Logger      *zap.Logger
	Tracer      trace.Tracer
	HTTPClient  *http.Client
}

// ConfigFrom builds a client Config from application configuration.
func ConfigFrom(c config.SolverConfig, logger *zap.Logger) Config {
	return Config{
		BaseURL:    c.BaseURL,
		Timeout:    c.Timeout.Duration(),
		RateLimit:  c.RateLimit,
		Burst:      c.Burst,
		MaxRetries: c.MaxRetries,
		Logger:     logger,
	}
}

// Client calls the Solver Service over HTTP with client-side rate limiting
// and retries with exponential backoff for transient failures.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	logger      *zap.Logger
	tracer      trace.Tracer
	metrics     *Metrics
}

var _ Service = (*Client)(nil)

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("solver base URL required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = defaultMaxRetries
	}
	backoff := cfg.BaseBackoff
	if backoff <= 0 {
		backoff = defaultBaseBackoff
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}

	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Limit(limit), burst),
		maxRetries:  retries,
		baseBackoff: backoff,
		logger:      logger,
		tracer:      tracer,
		metrics:     NewMetrics(),
	}, nil
}

type pointsRequest struct {
	Points []Point `json:"points"`
}

// Validate asks the service for geometry warnings and suggestions.
func (c *Client) Validate(ctx context.Context, points []Point) (*Validation, error) {
	var out Validation
	if err := c.call(ctx, "solver.validate", http.MethodPost, pathValidate, pointsRequest{Points: points}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preview requests a cheap provisional estimate.
func (c *Client) Preview(ctx context.Context, points []Point) (*Preview, error) {
	var out Preview
	if err := c.call(ctx, "solver.preview", http.MethodPost, pathPreview, pointsRequest{Points: points}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compute requests a confirmed position.
func (c *Client) Compute(ctx context.Context, points []Point) (*Result, error) {
	var out Result
	if err := c.call(ctx, "solver.compute", http.MethodPost, pathCompute, pointsRequest{Points: points}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health reports whether the service is up.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.call(ctx, "solver.health", http.MethodGet, pathHealth, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call performs one logical request with rate limiting and retries, traced
// as a single span.
func (c *Client) call(ctx context.Context, span, method, path string, body, out any) (err error) {
	ctx, sp := c.tracer.Start(ctx, span, trace.WithSpanKind(trace.SpanKindClient))
	sp.SetAttributes(attribute.String("http.route", path))
	if req, ok := body.(pointsRequest); ok {
		sp.SetAttributes(attribute.Int("solver.point_count", len(req.Points)))
	}
	defer func() {
		if err != nil {
			sp.RecordError(err)
			sp.SetStatus(codes.Error, err.Error())
		}
		sp.End()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			sp.SetAttributes(attribute.Int("solver.attempts", attempt+1))
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			c.logger.Debug("retrying solver request",
				zap.String("path", path), zap.Int("attempt", attempt), zap.Error(lastErr))
		}

		err := c.do(ctx, method, path, payload, out)
		if err == nil {
			c.metrics.observe(path, "ok", time.Since(start))
			return nil
		}
		lastErr = err
		if !isRetryableError(err) {
			c.metrics.observe(path, outcome(err), time.Since(start))
			return err
		}
	}

	c.metrics.observe(path, "error", time.Since(start))
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// do performs a single HTTP round trip.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &retryableError{err: fmt.Errorf("solver request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &retryableError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &retryableError{err: &ServiceError{StatusCode: resp.StatusCode, Message: "rate limited"}}
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return &retryableError{err: &ServiceError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}}
	case resp.StatusCode >= 400:
		return &ServiceError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} from a failure body.
func errorMessage(body []byte, fallback string) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		return text
	}
	return fallback
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError checks if an error should be retried.
func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

func outcome(err error) string {
	if errors.Is(err, ErrService) {
		return "service_error"
	}
	return "error"
}
