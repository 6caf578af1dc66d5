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

// SyncCommand syncs the build repository for a project.
func SyncCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync the model build template into the project's build repository",
		Description: `Resolves the project's storage path, writes the workflow secrets, and
mirrors the model_build template subtree into the build repository.

The project context is taken from a prior check-status run:

  mlops-provisioner check-status --env dev --domain-id dzd_abc --project-id p-123 > ctx.json
  mlops-provisioner sync --env dev --context "$(jq -c .Context ctx.json)"`,
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

			step := di.MustGet[*provision.SyncStep](container)
			pctx, outcome := step.Run(c.Context, pctx, nil)

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(struct {
				Context models.ProjectContext `json:"context"`
				Outcome models.StepOutcome    `json:"outcome"`
			}{pctx, outcome}); err != nil {
				return err
			}

			if !outcome.Succeeded() {
				return fmt.Errorf("sync failed")
			}
			return nil
		},
	}
}
