// Trilatd serves the trilat project store over HTTP.
//
// Configuration is read from ~/.config/trilat/config.yaml (or --config) and
// TRILAT_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	trilatd
//
//	# Configure via environment
//	TRILAT_SERVER_PORT=9292 TRILAT_SOLVER_BASE_URL=http://solver:5000 trilatd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/config"
	httpserver "github.com/fyrsmithlabs/trilat/internal/http"
	"github.com/fyrsmithlabs/trilat/internal/logging"
	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/solver"
	"github.com/fyrsmithlabs/trilat/internal/storage"
	"github.com/fyrsmithlabs/trilat/internal/telemetry"
	"github.com/fyrsmithlabs/trilat/internal/transfer"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/trilat/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  trilatd           Start the trilat daemon\n")
			fmt.Fprintf(os.Stderr, "  trilatd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("trilatd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the daemon and blocks until ctx is cancelled:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Opens the file-backed project store
//  4. Creates the import/export gateway and the solver client
//  5. Serves the HTTP API and shuts it down on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging, false)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), zl.Named("telemetry"))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger.Info(ctx, "starting trilatd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("telemetry", tel.IsEnabled()))

	store, err := openStore(ctx, cfg, zl)
	if err != nil {
		return err
	}

	gateway, err := transfer.NewGateway(store, transfer.Options{Logger: zl.Named("transfer")})
	if err != nil {
		return fmt.Errorf("failed to create transfer gateway: %w", err)
	}

	client, err := solver.NewClient(solver.ConfigFrom(cfg.Solver, zl.Named("solver")))
	if err != nil {
		return fmt.Errorf("failed to create solver client: %w", err)
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Store:   store,
		Gateway: gateway,
		Solver:  client,
		Version: version,
	}, logger, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

// openStore opens and initializes the project store under the configured
// storage directory.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*project.Store, error) {
	dir, err := cfg.StorageDir()
	if err != nil {
		return nil, err
	}
	backend, err := storage.NewFileBackend(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	store, err := project.NewStore(backend, project.Options{
		MaxProjects:       cfg.Storage.MaxProjects,
		MaxSizeBytes:      cfg.Storage.MaxSizeBytes,
		AutoSaveInterval:  cfg.Autosave.Interval.Duration(),
		DisableAutoSave:   !cfg.Autosave.Enabled,
		ManualCalculation: !cfg.Calculation.Auto,
		Logger:            logger.Named("project"),
		Metrics:           project.NewMetrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create project store: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize project store: %w", err)
	}

	logger.Info("project store ready", zap.String("dir", dir))
	return store, nil
}
