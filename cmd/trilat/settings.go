package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/trilat/internal/project"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show storage usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			w := cmd.OutOrStdout()
			field(w, "Projects", fmt.Sprintf("%d/%d", stats.ProjectCount, stats.MaxProjects))
			field(w, "Used", fmt.Sprintf("%s of %s (%.2f%%)",
				formatBytes(stats.Size), formatBytes(stats.MaxSize), stats.Percentage))
			field(w, "Available", formatBytes(stats.Available))
			return nil
		},
	}
}

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change application settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show application settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := a.store.AppSettings(cmd.Context())
			if err != nil {
				return err
			}
			return printSettings(cmd, a, settings)
		},
	}

	var (
		theme       string
		autoSave    bool
		interval    int64
		maxProjects int
		mapCenter   string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Change application settings",
		Long: `Change application settings. Only the flags given are changed.

Examples:
  trilat settings set --theme dark
  trilat settings set --autosave=false
  trilat settings set --map-center 48.137,11.575`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var u project.AppSettingsUpdate
			flags := cmd.Flags()
			if flags.Changed("theme") {
				u.Theme = project.Set(theme)
			}
			if flags.Changed("autosave") {
				u.AutoSave = project.Set(autoSave)
			}
			if flags.Changed("autosave-interval") {
				u.AutoSaveInterval = project.Set(interval)
			}
			if flags.Changed("max-projects") {
				u.MaxProjects = project.Set(maxProjects)
			}
			if flags.Changed("map-center") {
				center, err := parseLatLng(mapCenter)
				if err != nil {
					return err
				}
				u.DefaultMapCenter = project.Set(center)
			}

			settings, err := a.store.UpdateAppSettings(cmd.Context(), u)
			if err != nil {
				return err
			}
			return printSettings(cmd, a, settings)
		},
	}
	set.Flags().StringVar(&theme, "theme", "", "UI theme")
	set.Flags().BoolVar(&autoSave, "autosave", true, "save working projects automatically")
	set.Flags().Int64Var(&interval, "autosave-interval", 0, "autosave interval in milliseconds")
	set.Flags().IntVar(&maxProjects, "max-projects", 0, "maximum number of projects")
	set.Flags().StringVar(&mapCenter, "map-center", "", "default map center as lat,lng")

	cmd.AddCommand(show, set)
	return cmd
}

func printSettings(cmd *cobra.Command, a *app, s project.AppSettings) error {
	if a.jsonOut {
		return printJSON(cmd.OutOrStdout(), s)
	}
	w := cmd.OutOrStdout()
	field(w, "Theme", s.Theme)
	field(w, "Autosave", s.AutoSave)
	field(w, "Interval", s.Interval())
	field(w, "Max projects", s.MaxProjects)
	field(w, "Map center", fmt.Sprintf("%.5f, %.5f", s.DefaultMapCenter.Lat(), s.DefaultMapCenter.Lng()))
	return nil
}

func parseLatLng(s string) (project.LatLng, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return project.LatLng{}, fmt.Errorf("expected lat,lng: %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return project.LatLng{}, fmt.Errorf("invalid latitude %q", parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return project.LatLng{}, fmt.Errorf("invalid longitude %q", parts[1])
	}
	return project.LatLng{lat, lng}, nil
}

func newClearCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all projects and settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				fmt.Fprint(cmd.OutOrStdout(), "Delete all projects and settings? [y/N] ")
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if reply := strings.ToLower(strings.TrimSpace(answer)); reply != "y" && reply != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}
			if err := a.store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared all data")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
