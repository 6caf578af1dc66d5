package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/savaki/mlops-provisioner/internal/dao/rundao"
	"github.com/savaki/mlops-provisioner/internal/di"
	"github.com/savaki/mlops-provisioner/internal/models"
	"github.com/savaki/mlops-provisioner/internal/orchestrator"
	"github.com/savaki/mlops-provisioner/internal/provision"
)

type Handler struct {
	deploy *provision.DeployRepoStep
	runs   *rundao.DAO
}

// DeployRepoInput carries the shared execution payload, the project context
// assembled upstream, and any actions completed by a previous attempt.
type DeployRepoInput struct {
	*orchestrator.StepFunctionInput
	Context          models.ProjectContext `json:"context"`
	CompletedActions []string              `json:"completed_actions,omitempty"`
}

// DeployRepoResult is the step output the state machine branches on.
type DeployRepoResult struct {
	Outcome models.StepOutcome `json:"outcome"`
}

func NewHandler(env string) (*Handler, error) {
	container, err := di.New(env)
	if err != nil {
		return nil, fmt.Errorf("failed to build container: %w", err)
	}

	return &Handler{
		deploy: di.MustGet[*provision.DeployRepoStep](container),
		runs:   di.MustGet[*rundao.DAO](container),
	}, nil
}

func (h *Handler) HandleCreateDeployRepository(ctx context.Context, input *DeployRepoInput) (*DeployRepoResult, error) {
	logger := zerolog.Ctx(ctx)

	pctx := input.Context
	if pctx.ProjectID == "" {
		pctx = models.ProjectContext{
			DomainID:  input.DomainID,
			ProjectID: input.ProjectID,
		}
	}

	outcome := h.deploy.Run(ctx, pctx, input.CompletedActions)

	if input.SK != "" {
		pk := rundao.NewPK(pctx.DomainID, pctx.ProjectID)
		if outcome.Succeeded() {
			if err := h.runs.Complete(ctx, pk, input.SK, outcome.CompletedActions); err != nil {
				logger.Warn().Err(err).Msg("Failed to record run completion")
			}
		} else if outcome.Error != nil {
			msg := fmt.Sprintf("step=%s kind=%s: %s", outcome.Error.Step, outcome.Error.Kind, outcome.Error.Message)
			if err := h.runs.Fail(ctx, pk, input.SK, msg, outcome.CompletedActions); err != nil {
				logger.Warn().Err(err).Msg("Failed to record run failure")
			}
		}
	}

	logger.Info().
		Str("project_id", pctx.ProjectID).
		Str("status", string(outcome.Status)).
		Msg("Deploy repository provisioning finished")

	return &DeployRepoResult{Outcome: outcome}, nil
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "create-deploy-repository").Logger()

	env := os.Getenv("ENV")
	if env == "" {
		env = "dev"
	}

	handler, err := NewHandler(env)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create handler")
		os.Exit(1)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		wrappedHandler := func(ctx context.Context, input *DeployRepoInput) (*DeployRepoResult, error) {
			ctx = logger.WithContext(ctx)
			return handler.HandleCreateDeployRepository(ctx, input)
		}
		lambda.Start(wrappedHandler)
		return
	}

	app := &cli.App{
		Name:  "create-deploy-repository",
		Usage: "Provision the project's deploy repository from the template",
		Flags: []cli.Flag{
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
				Name:  "context",
				Usage: "JSON project context from a prior status check",
			},
		},
		Action: func(c *cli.Context) error {
			input := &DeployRepoInput{
				StepFunctionInput: &orchestrator.StepFunctionInput{
					DomainID:  c.String("domain-id"),
					ProjectID: c.String("project-id"),
				},
			}
			if raw := c.String("context"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &input.Context); err != nil {
					return fmt.Errorf("failed to parse context: %w", err)
				}
			}

			ctx := logger.WithContext(context.Background())
			result, err := handler.HandleCreateDeployRepository(ctx, input)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
