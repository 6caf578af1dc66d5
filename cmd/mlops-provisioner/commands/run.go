package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/savaki/mlops-provisioner/internal/di"
	"github.com/savaki/mlops-provisioner/internal/models"
	"github.com/savaki/mlops-provisioner/internal/orchestrator"
)

// envFlag is shared by every command: it selects the Parameter Store prefix
// and the DynamoDB table names.
func envFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "env",
		Aliases: []string{"e"},
		Usage:   "Environment name (dev, stg, or prd)",
		Value:   "dev",
		EnvVars: []string{"ENV"},
	}
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "config",
		Usage: "Path to a YAML configuration file (overrides Parameter Store)",
	}
}

// newContainer builds the DI container, optionally swapping the parameter
// store for a local YAML file.
func newContainer(c *cli.Context) (di.Container, error) {
	env := c.String("env")

	var opts []di.Option
	if path := c.String("config"); path != "" {
		opts = append(opts, di.WithConfigFile(path))
	}

	return di.New(env, opts...)
}

// RunCommand runs the complete provisioning workflow for a project in-process,
// without a Step Functions execution. Useful for local runs and recovery.
func RunCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the full provisioning workflow for a project",
		Description: `Waits for the project to finish deploying, syncs the build repository
from the public template, and provisions the deploy repository.

Examples:
  # Provision a project end to end
  mlops-provisioner run --env dev --domain-id dzd_abc --project-id p-123

  # Use an explicit build repository from the project's git settings
  mlops-provisioner run --env dev --domain-id dzd_abc --project-id p-123 \
      --build-repo my-org/my-build-repo`,
		Flags: []cli.Flag{
			envFlag(),
			configFlag(),
			&cli.StringFlag{
				Name:     "domain-id",
				Usage:    "DataZone domain identifier",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "project-id",
				Usage:    "DataZone project identifier",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "profile-id",
				Usage: "Project profile identifier",
			},
			&cli.StringFlag{
				Name:  "build-repo",
				Usage: "Build repository (owner/name), defaults to the derived name",
			},
		},
		Action: func(c *cli.Context) error {
			container, err := newContainer(c)
			if err != nil {
				return fmt.Errorf("failed to build container: %w", err)
			}

			orch := di.MustGet[*orchestrator.Orchestrator](container)
			result := orch.Run(c.Context, models.ProjectCreatedEvent{
				DomainID:  c.String("domain-id"),
				ProjectID: c.String("project-id"),
				ProfileID: c.String("profile-id"),
				BuildRepo: c.String("build-repo"),
			})

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return err
			}

			if result.Status == models.WorkflowFailed {
				return fmt.Errorf("provisioning run %s failed", result.RunID)
			}
			return nil
		},
	}
}
