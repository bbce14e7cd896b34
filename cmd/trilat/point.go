package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/workspace"
)

// pointSession loads a project into a workspace controller, applies one
// edit and saves it.
type pointSession struct {
	a         *app
	projectID string
}

func (s *pointSession) run(ctx context.Context, edit func(ctrl *workspace.Controller) error) (*project.Project, error) {
	p, err := s.a.resolveProject(ctx, s.projectID)
	if err != nil {
		return nil, err
	}
	return workspace.Edit(ctx, s.a.store, p, s.a.logger.Underlying().Named("workspace"), edit)
}

// pointID maps a 1-based point number argument to the point's id.
func pointID(ctrl *workspace.Controller, arg string) (project.PointID, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return "", fmt.Errorf("point number must be an integer: %q", arg)
	}
	return ctrl.PointAt(n)
}

func parseFloats(args ...string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, arg := range args {
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", arg)
		}
		out[i] = f
	}
	return out, nil
}

func newPointCmd(a *app) *cobra.Command {
	s := &pointSession{a: a}
	cmd := &cobra.Command{
		Use:     "point",
		Aliases: []string{"points"},
		Short:   "Edit the reference points of a project",
		Long: `Edit the reference points of a project (default: the active project).

Points are addressed by their number as shown by 'trilat point list'.
Removing a point renumbers the remaining ones.`,
	}
	cmd.PersistentFlags().StringVarP(&s.projectID, "project", "p", "", "project id (default: active project)")

	report := func(cmd *cobra.Command, p *project.Project, msg string) error {
		if a.jsonOut {
			return printJSON(cmd.OutOrStdout(), p.Data.ReferencePoints)
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List reference points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.resolveProject(cmd.Context(), s.projectID)
			if err != nil {
				return err
			}
			points := p.Data.ReferencePoints
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), points)
			}
			if len(points) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("No reference points"))
				return nil
			}
			return printPoints(cmd.OutOrStdout(), points)
		},
	}

	var accuracy float64
	add := &cobra.Command{
		Use:   "add <lat> <lng> <distance>",
		Short: "Add a reference point (distance in meters)",
		Long: `Add a reference point: a known location and the measured distance from
it to the target, in meters.

Examples:
  trilat point add 52.5200 13.4050 850
  trilat point add 52.5163 13.3777 1200 --accuracy 25`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseFloats(args...)
			if err != nil {
				return err
			}
			var acc *float64
			if cmd.Flags().Changed("accuracy") {
				acc = &accuracy
			}
			var added project.ReferencePoint
			p, err := s.run(cmd.Context(), func(ctrl *workspace.Controller) error {
				var addErr error
				added, addErr = ctrl.AddPoint(v[0], v[1], v[2], acc)
				return addErr
			})
			if err != nil {
				return err
			}
			count := len(p.Data.ReferencePoints)
			msg := fmt.Sprintf("Added %s (%d points, %.0f%% of recommended)", added.Name, count, workspace.Progress(count))
			if count < workspace.MinPoints {
				msg += fmt.Sprintf("; %d more needed to calculate", workspace.MinPoints-count)
			}
			return report(cmd, p, msg)
		},
	}
	add.Flags().Float64Var(&accuracy, "accuracy", 0, "measurement accuracy in meters")

	move := &cobra.Command{
		Use:   "move <n> <lat> <lng>",
		Short: "Move a reference point",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseFloats(args[1:]...)
			if err != nil {
				return err
			}
			p, err := s.run(cmd.Context(), func(ctrl *workspace.Controller) error {
				id, err := pointID(ctrl, args[0])
				if err != nil {
					return err
				}
				return ctrl.MovePoint(id, v[0], v[1])
			})
			if err != nil {
				return err
			}
			return report(cmd, p, "Moved point "+args[0])
		},
	}

	distance := &cobra.Command{
		Use:   "distance <n> <meters>",
		Short: "Change the measured distance of a point",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseFloats(args[1])
			if err != nil {
				return err
			}
			p, err := s.run(cmd.Context(), func(ctrl *workspace.Controller) error {
				id, err := pointID(ctrl, args[0])
				if err != nil {
					return err
				}
				return ctrl.SetPointDistance(id, v[0])
			})
			if err != nil {
				return err
			}
			return report(cmd, p, "Updated distance of point "+args[0])
		},
	}

	var clearAccuracy bool
	accuracyCmd := &cobra.Command{
		Use:   "accuracy <n> [meters]",
		Short: "Change or clear the accuracy of a point",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var acc *float64
			switch {
			case clearAccuracy:
			case len(args) == 2:
				v, err := parseFloats(args[1])
				if err != nil {
					return err
				}
				acc = &v[0]
			default:
				return fmt.Errorf("give an accuracy in meters or --clear")
			}
			p, err := s.run(cmd.Context(), func(ctrl *workspace.Controller) error {
				id, err := pointID(ctrl, args[0])
				if err != nil {
					return err
				}
				return ctrl.SetPointAccuracy(id, acc)
			})
			if err != nil {
				return err
			}
			return report(cmd, p, "Updated accuracy of point "+args[0])
		},
	}
	accuracyCmd.Flags().BoolVar(&clearAccuracy, "clear", false, "remove the accuracy")

	remove := &cobra.Command{
		Use:     "remove <n>",
		Aliases: []string{"rm"},
		Short:   "Remove a reference point",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := s.run(cmd.Context(), func(ctrl *workspace.Controller) error {
				id, err := pointID(ctrl, args[0])
				if err != nil {
					return err
				}
				return ctrl.RemovePoint(id)
			})
			if err != nil {
				return err
			}
			return report(cmd, p, "Removed point "+args[0])
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all reference points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := s.run(cmd.Context(), func(ctrl *workspace.Controller) error {
				return ctrl.ClearPoints()
			})
			if err != nil {
				return err
			}
			return report(cmd, p, "Removed all points")
		},
	}

	cmd.AddCommand(list, add, move, distance, accuracyCmd, remove, clearCmd)
	return cmd
}
