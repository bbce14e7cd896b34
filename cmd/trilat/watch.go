package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/calculation"
	"github.com/fyrsmithlabs/trilat/internal/monitor"
	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/solver"
	"github.com/fyrsmithlabs/trilat/internal/workspace"
)

func newWatchCmd(a *app) *cobra.Command {
	var manual bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard for the active project",
		Long: `Show the active project's reference points and position in a terminal
dashboard that refreshes whenever the project store changes, for example
while points are added from another terminal or through the daemon.

Unless --manual is given, the dashboard runs the calculation pipeline:
previews are requested as points change and confident previews are
committed as the project's position.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			zl := a.logger.Underlying()

			settings, err := a.store.AppSettings(ctx)
			if err != nil {
				return err
			}
			ctrl := workspace.NewController(a.store, workspace.Options{Logger: zl.Named("workspace")})
			ctrl.ApplySettings(settings)
			defer func() {
				ctrl.Close()
				if err := ctrl.Save(context.Background()); err != nil && !errors.Is(err, workspace.ErrNoProject) {
					zl.Warn("failed to save project on exit", zap.Error(err))
				}
			}()

			var orch *calculation.Orchestrator
			if !manual {
				client, err := solver.NewClient(solver.ConfigFrom(a.cfg.Solver, zl.Named("solver")))
				if err != nil {
					return err
				}
				orch, err = calculation.New(calculation.Options{
					Service:   client,
					Debounce:  a.cfg.Calculation.Debounce.Duration(),
					Threshold: a.cfg.Calculation.ConfidenceThreshold,
					Logger:    zl.Named("calculation"),
				})
				if err != nil {
					return err
				}
				defer orch.Close()
				calculation.Bind(ctrl, orch, zl.Named("calculation"))
			}

			dir, err := a.cfg.StorageDir()
			if err != nil {
				return err
			}
			watcher, err := monitor.NewStoreWatcher(dir, monitor.WatchOptions{
				Keys:   []string{project.DocumentKey, project.SettingsKey},
				Logger: zl.Named("watch"),
			})
			if err != nil {
				return err
			}
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()

			model := monitor.NewModel(ctx, monitor.Options{
				Store:        a.store,
				Controller:   ctrl,
				Orchestrator: orch,
				Changes:      watcher.Changes(),
				Threshold:    a.cfg.Calculation.ConfidenceThreshold,
			})
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("dashboard failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&manual, "manual", false, "show points only, without contacting the solver")
	return cmd
}
