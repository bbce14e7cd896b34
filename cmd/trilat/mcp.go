package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/trilat/internal/mcp"
	"github.com/fyrsmithlabs/trilat/internal/solver"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve projects and calculations as MCP tools over stdio",
		Long: `Run an MCP server on stdin/stdout so that MCP clients can list and edit
projects, add reference points and calculate positions.

Logs are written to stderr. Register it with a client as:

  {"command": "trilat", "args": ["mcp"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			zl := a.logger.Underlying()
			client, err := solver.NewClient(solver.ConfigFrom(a.cfg.Solver, zl.Named("solver")))
			if err != nil {
				return err
			}
			srv, err := mcp.NewServer(&mcp.Config{
				Name:                "trilat",
				Version:             version,
				Logger:              zl.Named("mcp"),
				ConfidenceThreshold: a.cfg.Calculation.ConfidenceThreshold,
			}, a.store, client)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}
