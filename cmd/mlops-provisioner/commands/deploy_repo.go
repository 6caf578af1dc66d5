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

// DeployRepoCommand provisions the deploy repository for a project.
func DeployRepoCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "deploy-repo",
		Usage: "Provision the project's deploy repository from the template",
		Flags: []cli.Flag{
			envFlag(),
			configFlag(),
			&cli.StringFlag{
				Name:     "context",
				Usage:    "JSON project context from check-status",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			var pctx models.ProjectContext
			if err := json.Unmarshal([]byte(c.String("context")), &pctx); err != nil {
				return fmt.Errorf("failed to parse context: %w", err)
			}
			if pctx.DomainID == "" || pctx.ProjectID == "" {
				return fmt.Errorf("context must carry domain and project identifiers")
			}

			container, err := newContainer(c)
			if err != nil {
				return fmt.Errorf("failed to build container: %w", err)
			}

			step := di.MustGet[*provision.DeployRepoStep](container)
			outcome := step.Run(c.Context, pctx, nil)

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(outcome); err != nil {
				return err
			}

			if !outcome.Succeeded() {
				return fmt.Errorf("deploy repository provisioning failed")
			}
			return nil
		},
	}
}
