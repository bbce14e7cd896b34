package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/trilat/internal/project"
)

func newProjectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects", "p"},
		Short:   "List, create and manage projects",
	}
	cmd.AddCommand(
		newProjectListCmd(a),
		newProjectShowCmd(a),
		newProjectCreateCmd(a),
		newProjectRenameCmd(a),
		newProjectDeleteCmd(a),
		newProjectDuplicateCmd(a),
		newProjectUseCmd(a),
	)
	return cmd
}

func newProjectListCmd(a *app) *cobra.Command {
	var opts project.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Long: `List projects, most recently updated first.

Examples:
  # Projects whose name or description mentions "harbor"
  trilat project list --search harbor

  # Alphabetical
  trilat project list --sort name`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("desc") && opts.SortBy == "" {
				opts.Descending = true
			}
			projects, err := a.store.ListProjects(ctx, opts)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), projects)
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("No projects"))
				return nil
			}
			active, err := a.store.GetActiveProject(ctx)
			if err != nil {
				return err
			}
			activeID := ""
			if active != nil {
				activeID = active.ID
			}
			return printProjectTable(cmd.OutOrStdout(), projects, activeID)
		},
	}
	cmd.Flags().StringVarP(&opts.Search, "search", "s", "", "filter by name or description")
	cmd.Flags().StringVar(&opts.SortBy, "sort", "", "sort key: updatedAt, createdAt or name")
	cmd.Flags().BoolVar(&opts.Descending, "desc", false, "reverse the sort order")
	return cmd
}

func newProjectShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a project (default: the active project)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.resolveProject(cmd.Context(), argOrEmpty(args))
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), p)
			}
			return printProject(cmd.OutOrStdout(), p)
		},
	}
}

func newProjectCreateCmd(a *app) *cobra.Command {
	var description string
	var noActivate bool
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a project and make it active",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.store.CreateProject(ctx, project.Spec{
				Name:        argOrEmpty(args),
				Description: description,
			})
			if err != nil {
				return err
			}
			if !noActivate {
				if err := a.store.SetActiveProject(ctx, p.ID); err != nil {
					return err
				}
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", p.Name, p.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "project description")
	cmd.Flags().BoolVar(&noActivate, "no-activate", false, "leave the active project unchanged")
	return cmd
}

func newProjectRenameCmd(a *app) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := project.Update{Name: project.Set(args[1])}
			if cmd.Flags().Changed("description") {
				u.Description = project.Set(description)
			}
			p, err := a.store.UpdateProject(cmd.Context(), args[0], u)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", p.ID, p.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "also replace the description")
	return cmd
}

func newProjectDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a project",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := a.store.DeleteProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("%w: %s", project.ErrProjectNotFound, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newProjectDuplicateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "duplicate <id>",
		Aliases: []string{"dup"},
		Short:   "Copy a project under a new id",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.store.DuplicateProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", p.Name, p.ID)
			return nil
		},
	}
}

func newProjectUseCmd(a *app) *cobra.Command {
	var clearActive bool
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set the active project",
		Args: func(cmd *cobra.Command, args []string) error {
			if clearActive {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			id := argOrEmpty(args)
			if err := a.store.SetActiveProject(cmd.Context(), id); err != nil {
				return err
			}
			if id == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Cleared active project")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Active project is now %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearActive, "clear", false, "clear the active project")
	return cmd
}

func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
