// Package http provides the trilat HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/logging"
	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/solver"
	"github.com/fyrsmithlabs/trilat/internal/transfer"
)

const instrumentationName = "github.com/fyrsmithlabs/trilat/internal/http"

// HealthChecker reports the health of the Solver Service.
type HealthChecker interface {
	Health(ctx context.Context) (*solver.Health, error)
}

// Deps are the components served by the API.
type Deps struct {
	Store   *project.Store
	Gateway *transfer.Gateway
	Solver  HealthChecker // optional
	Version string
	Meter   metric.Meter // optional, defaults to the global meter
	Tracer  trace.Tracer // optional, defaults to the global tracer
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for trilat.
type Server struct {
	echo    *echo.Echo
	store   *project.Store
	gateway *transfer.Gateway
	solver  HealthChecker
	version string
	logger  *logging.Logger
	config  *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if deps.Gateway == nil {
		return nil, errors.New("gateway cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9191}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(tracing(tracer))
	e.Use(requestLogger(logger))
	e.Use(NewHTTPMetrics(deps.Meter, logger.Underlying()).MetricsMiddleware())

	s := &Server{
		echo:    e,
		store:   deps.Store,
		gateway: deps.Gateway,
		solver:  deps.Solver,
		version: deps.Version,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.GET("/projects", s.handleListProjects)
	v1.POST("/projects", s.handleCreateProject)
	v1.GET("/projects/:id", s.handleGetProject)
	v1.PATCH("/projects/:id", s.handleUpdateProject)
	v1.DELETE("/projects/:id", s.handleDeleteProject)
	v1.POST("/projects/:id/duplicate", s.handleDuplicateProject)

	v1.GET("/active", s.handleGetActive)
	v1.PUT("/active", s.handleSetActive)

	v1.GET("/export", s.handleExport)
	v1.POST("/import", s.handleImport)
	v1.POST("/import/validate", s.handleValidateImport)

	v1.GET("/stats", s.handleStats)
	v1.GET("/settings", s.handleGetSettings)
	v1.PATCH("/settings", s.handleUpdateSettings)
	v1.DELETE("/data", s.handleClear)
}

// tracing starts a server span per request.
func tracing(tracer trace.Tracer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx, span := tracer.Start(req.Context(), req.Method+" "+c.Path(),
				trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			status := responseStatus(c, err)
			span.SetAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", c.Path()),
				attribute.Int("http.status_code", status),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			return err
		}
	}
}

// requestLogger logs one line per request with correlation fields.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			if id := c.Param("id"); id != "" {
				ctx = logging.WithProjectID(ctx, id)
			}
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
