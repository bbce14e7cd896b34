package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/trilat/internal/project"
	"github.com/fyrsmithlabs/trilat/internal/workspace"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func field(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "%s %v\n", labelStyle.Render(fmt.Sprintf("%-12s", label+":")), value)
}

func printProjectTable(w io.Writer, projects []*project.Project, activeID string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tPOINTS\tUPDATED")
	for _, p := range projects {
		marker := ""
		if p.ID == activeID {
			marker = activeStyle.Render("*")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			marker, p.ID, p.Name, len(p.Data.ReferencePoints), p.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func printProject(w io.Writer, p *project.Project) error {
	fmt.Fprintln(w, titleStyle.Render(p.Name))
	field(w, "ID", p.ID)
	if p.Description != "" {
		field(w, "Description", p.Description)
	}
	field(w, "Created", p.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	field(w, "Updated", p.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	field(w, "Map center", fmt.Sprintf("%.5f, %.5f", p.Data.MapCenter.Lat(), p.Data.MapCenter.Lng()))
	field(w, "Auto calc", p.Data.Settings.AutoCalculate)

	count := len(p.Data.ReferencePoints)
	field(w, "Points", fmt.Sprintf("%d/%d (%.0f%%)", count, p.Data.Settings.MaxPoints, workspace.Progress(count)))
	if count > 0 {
		if err := printPoints(w, p.Data.ReferencePoints); err != nil {
			return err
		}
	}

	if pos := p.Data.CalculatedPosition; pos != nil {
		field(w, "Position", fmt.Sprintf("%.6f, %.6f", pos.Lat, pos.Lng))
		field(w, "Accuracy", fmt.Sprintf("±%.1f m", pos.Accuracy))
		field(w, "Confidence", fmt.Sprintf("%.1f%%", pos.Confidence))
		if pos.Method != "" {
			field(w, "Method", pos.Method)
		}
	} else {
		fmt.Fprintln(w, dimStyle.Render("No calculated position"))
	}
	return nil
}

func printPoints(w io.Writer, points []project.ReferencePoint) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tLAT\tLNG\tDISTANCE\tACCURACY\tMODIFIED")
	for i, p := range points {
		acc := "-"
		if p.Accuracy != nil {
			acc = fmt.Sprintf("%.1f", *p.Accuracy)
		}
		fmt.Fprintf(tw, "%d\t%s\t%.6f\t%.6f\t%.1f\t%s\t%s\n",
			i+1, p.Name, p.Lat, p.Lng, p.Distance, acc, modifiedFlags(p))
	}
	return tw.Flush()
}

func modifiedFlags(p project.ReferencePoint) string {
	var flags []string
	if p.IsDragModified {
		flags = append(flags, "moved")
	}
	if p.IsDistanceModified {
		flags = append(flags, "distance")
	}
	if p.IsAccuracyModified {
		flags = append(flags, "accuracy")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
