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

// DispatchCommand triggers the deploy workflow for an approved model package.
func DispatchCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "dispatch",
		Usage: "Dispatch the deploy workflow for an approved model package",
		Description: `Resolves the project's deploy repository from the model package group
name and triggers its deploy workflow, exactly as the approval event path does.

Examples:
  mlops-provisioner dispatch --env dev --model-package-group p-123-models \
      --model-package-arn arn:aws:sagemaker:us-east-1:111122223333:model-package/p-123-models/3`,
		Flags: []cli.Flag{
			envFlag(),
			configFlag(),
			&cli.StringFlag{
				Name:     "model-package-group",
				Usage:    "Model package group name ({project}-models)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "model-package-name",
				Usage: "Model package name",
			},
			&cli.StringFlag{
				Name:  "model-package-arn",
				Usage: "Model package ARN",
			},
		},
		Action: func(c *cli.Context) error {
			container, err := newContainer(c)
			if err != nil {
				return fmt.Errorf("failed to build container: %w", err)
			}

			handler := di.MustGet[*orchestrator.ApprovalHandler](container)
			result := handler.Handle(c.Context, models.ModelApprovalEvent{
				ModelPackageGroupName: c.String("model-package-group"),
				ModelPackageName:      c.String("model-package-name"),
				ModelPackageArn:       c.String("model-package-arn"),
				ApprovalStatus:        models.ApprovalStatusApproved,
			})

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return err
			}

			if result.Status == models.WorkflowFailed {
				return fmt.Errorf("dispatch failed")
			}
			return nil
		},
	}
}
