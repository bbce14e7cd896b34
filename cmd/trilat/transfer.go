package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/trilat/internal/transfer"
)

func newExportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export [id...]",
		Short: "Export projects to a JSON file",
		Long: `Export projects (default: all) to a portable JSON document.

Examples:
  # All projects to triangulation-projects-<timestamp>.json
  trilat export

  # Two projects to stdout
  trilat export -o - 3f2a... 9bc1...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.gateway.Export(cmd.Context(), args...)
			if err != nil {
				return err
			}
			data, err := transfer.Encode(doc)
			if err != nil {
				return err
			}

			if output == "-" {
				_, err := cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if output == "" {
				output = transfer.ExportFileName(time.Now())
			}
			if err := os.WriteFile(output, data, 0600); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d projects to %s\n", doc.TotalProjects, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var opts transfer.ImportOptions
	var validateOnly bool
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import projects from a JSON export",
		Long: `Import projects from a JSON export. Imported projects get new ids.
Projects whose name already exists are skipped unless --keep-existing=false
is given.

Examples:
  # Preview an import
  trilat import --validate backup.json

  # Import duplicates of existing names as well
  trilat import --keep-existing=false backup.json

  # Replace everything
  trilat import --overwrite backup.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			if validateOnly {
				preview, err := transfer.Validate(text)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return printJSON(cmd.OutOrStdout(), preview)
				}
				w := cmd.OutOrStdout()
				field(w, "Projects", preview.ProjectCount)
				if preview.Version != "" {
					field(w, "Version", preview.Version)
				}
				if preview.ExportedAt != nil {
					field(w, "Exported", preview.ExportedAt.Local().Format("2006-01-02 15:04:05"))
				}
				for _, name := range preview.Names {
					fmt.Fprintln(w, "  - "+name)
				}
				return nil
			}

			res, err := a.gateway.Import(cmd.Context(), text, opts)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d projects (%d skipped)\n", res.Imported, res.Total, res.Skipped)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "replace all existing projects")
	cmd.Flags().BoolVar(&opts.KeepExisting, "keep-existing", true, "skip projects whose name already exists")
	cmd.Flags().BoolVar(&validateOnly, "validate", false, "only check the file and list its projects")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return data, nil
}
