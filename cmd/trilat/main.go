// Package main implements the trilat CLI for managing projects, reference
// points and position calculations in the local project store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/trilat/internal/config"
	"github.com/fyrsmithlabs/trilat/internal/logging"
	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/storage"
	"github.com/fyrsmithlabs/trilat/internal/transfer"
)

// version information
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

// app holds the state shared by all commands. It is populated by setup
// before any command runs.
type app struct {
	configPath string
	verbose    bool
	jsonOut    bool

	cfg     *config.Config
	logger  *logging.Logger
	store   *project.Store
	gateway *transfer.Gateway
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "trilat",
		Short: "Manage trilateration projects",
		Long: `trilat manages trilateration projects: named collections of distance
observations from known locations, and the target position computed from them.

Commands work directly on the local project store (storage.dir in the config).`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/trilat/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level to stderr")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newProjectCmd(a),
		newPointCmd(a),
		newCalcCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newStatsCmd(a),
		newSettingsCmd(a),
		newClearCmd(a),
		newMCPCmd(a),
		newWatchCmd(a),
	)
	return root
}

// setup loads configuration and opens the project store.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.LoadWithFile(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	logCfg, err := logging.FromAppConfig(cfg.Logging, true)
	if err != nil {
		return err
	}
	logCfg.Format = "console"
	logCfg.Level = zapcore.WarnLevel
	if a.verbose {
		logCfg.Level = zapcore.DebugLevel
	}
	a.logger, err = logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := a.logger.Underlying()

	dir, err := cfg.StorageDir()
	if err != nil {
		return err
	}
	backend, err := storage.NewFileBackend(dir)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	a.store, err = project.NewStore(backend, project.Options{
		MaxProjects:       cfg.Storage.MaxProjects,
		MaxSizeBytes:      cfg.Storage.MaxSizeBytes,
		AutoSaveInterval:  cfg.Autosave.Interval.Duration(),
		DisableAutoSave:   !cfg.Autosave.Enabled,
		ManualCalculation: !cfg.Calculation.Auto,
		Logger:            zl.Named("project"),
	})
	if err != nil {
		return err
	}
	if err := a.store.Initialize(ctx); err != nil {
		return err
	}

	a.gateway, err = transfer.NewGateway(a.store, transfer.Options{Logger: zl.Named("transfer")})
	return err
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// resolveProject returns the project named by id, or the active project when
// id is empty.
func (a *app) resolveProject(ctx context.Context, id string) (*project.Project, error) {
	if id != "" {
		return a.store.GetProject(ctx, id)
	}
	p, err := a.store.GetActiveProject(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("no active project: pass --project or run 'trilat project use <id>'")
	}
	return p, nil
}
