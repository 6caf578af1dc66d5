package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/savaki/mlops-provisioner/cmd/mlops-provisioner/commands"
	"github.com/savaki/mlops-provisioner/internal/di"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "mlops-provisioner",
		Usage: "ML project repository provisioning toolkit",
		Description: `A unified CLI tool for provisioning GitHub repositories for ML projects.

This tool provides commands for:
  - Running the full provisioning workflow for a project
  - Checking a project's deployment status
  - Syncing the build repository from the public template
  - Provisioning the deploy repository
  - Dispatching the deploy workflow for an approved model
  - Inspecting the run ledger`,
		Commands: []*cli.Command{
			commands.RunCommand(&logger),
			commands.CheckStatusCommand(&logger),
			commands.SyncCommand(&logger),
			commands.DeployRepoCommand(&logger),
			commands.DispatchCommand(&logger),
			commands.RunsCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
