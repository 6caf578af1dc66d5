package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/savaki/mlops-provisioner/internal/di"
	"github.com/savaki/mlops-provisioner/internal/models"
	"github.com/savaki/mlops-provisioner/internal/provision"
)

// CheckStatusCommand polls a project's deployment status once.
func CheckStatusCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "check-status",
		Usage: "Check whether a project has finished deploying",
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
		},
		Action: func(c *cli.Context) error {
			container, err := newContainer(c)
			if err != nil {
				return fmt.Errorf("failed to build container: %w", err)
			}

			checker := di.MustGet[*provision.ProjectStatusChecker](container)
			result, err := checker.Check(c.Context, models.ProjectContext{
				DomainID:  c.String("domain-id"),
				ProjectID: c.String("project-id"),
			}, c.String("profile-id"))
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}
}
