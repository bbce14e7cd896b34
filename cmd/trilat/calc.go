package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/trilat/internal/calculation"
	"github.com/fyrsmithlabs/trilat/internal/solver"
	"github.com/fyrsmithlabs/trilat/internal/workspace"
)

func newCalcCmd(a *app) *cobra.Command {
	var projectID string
	var previewOnly bool

	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Calculate the target position from the reference points",
		Long: `Send the reference points of a project (default: the active project) to the
Solver Service and store the computed position in the project.

With --preview the points are only validated and previewed; nothing is saved.

Examples:
  trilat calc
  trilat calc --preview
  TRILAT_SOLVER_BASE_URL=http://solver:5000 trilat calc -p <id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			zl := a.logger.Underlying()

			p, err := a.resolveProject(ctx, projectID)
			if err != nil {
				return err
			}
			client, err := solver.NewClient(solver.ConfigFrom(a.cfg.Solver, zl.Named("solver")))
			if err != nil {
				return err
			}

			if previewOnly {
				in := calculation.InputFrom(workspace.Snapshot{Points: p.Data.ReferencePoints})
				return runPreview(cmd, a, client, in.Points)
			}

			var res *solver.Result
			_, err = workspace.Edit(ctx, a.store, p, zl.Named("workspace"), func(ctrl *workspace.Controller) error {
				var calcErr error
				res, calcErr = calculation.Run(ctx, ctrl, calculation.Options{
					Service:   client,
					Threshold: a.cfg.Calculation.ConfidenceThreshold,
					Logger:    zl.Named("calculation"),
				})
				if calcErr != nil {
					return fmt.Errorf("calculation failed: %w", calcErr)
				}
				return nil
			})
			if err != nil {
				return err
			}

			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project id (default: active project)")
	cmd.Flags().BoolVar(&previewOnly, "preview", false, "validate and preview without saving")
	return cmd
}

func runPreview(cmd *cobra.Command, a *app, client *solver.Client, points []solver.Point) error {
	ctx := cmd.Context()
	validation, err := client.Validate(ctx, points)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	preview, err := client.Preview(ctx, points)
	if err != nil {
		return fmt.Errorf("preview failed: %w", err)
	}

	if a.jsonOut {
		return printJSON(cmd.OutOrStdout(), struct {
			Validation *solver.Validation `json:"validation"`
			Preview    *solver.Preview    `json:"preview"`
		}{validation, preview})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, titleStyle.Render("Validation"))
	field(w, "Valid", validation.Valid)
	field(w, "Points", fmt.Sprintf("%d (recommended %d)", validation.PointCount, validation.RecommendedCount))
	for _, warning := range validation.Warnings {
		fmt.Fprintln(w, "  ! "+warning)
	}
	for _, s := range validation.Suggestions {
		fmt.Fprintln(w, dimStyle.Render("  - "+s))
	}

	fmt.Fprintln(w, titleStyle.Render("Preview"))
	if !preview.Ready || preview.Estimate == nil {
		msg := preview.Message
		if msg == "" {
			msg = fmt.Sprintf("%d more points needed", preview.PointsNeeded)
		}
		fmt.Fprintln(w, dimStyle.Render(msg))
		return nil
	}
	est := preview.Estimate
	field(w, "Position", fmt.Sprintf("%.6f, %.6f", est.Lat, est.Lng))
	field(w, "Accuracy", fmt.Sprintf("±%.1f m", est.Accuracy))
	field(w, "Confidence", fmt.Sprintf("%.1f%%", est.Confidence))
	return nil
}

func printResult(w io.Writer, res *solver.Result) {
	fmt.Fprintln(w, titleStyle.Render("Position"))
	field(w, "Position", fmt.Sprintf("%.6f, %.6f", res.Lat, res.Lng))
	field(w, "Accuracy", fmt.Sprintf("±%.1f m", res.Accuracy))
	field(w, "Confidence", fmt.Sprintf("%.1f%%", res.Confidence))
	field(w, "Method", res.Method)
	field(w, "Points", res.PointCount)
}
