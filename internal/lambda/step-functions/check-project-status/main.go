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
	checker *provision.ProjectStatusChecker
	runs    *rundao.DAO
}

// StatusResult is the step output consumed by the state machine's choice
// state: PENDING loops back through a wait state, READY proceeds, FAILED
// terminates the execution.
type StatusResult struct {
	State   string                `json:"state"`
	Reason  string                `json:"reason,omitempty"`
	Context models.ProjectContext `json:"context"`
}

func NewHandler(env string) (*Handler, error) {
	container, err := di.New(env)
	if err != nil {
		return nil, fmt.Errorf("failed to build container: %w", err)
	}

	return &Handler{
		checker: di.MustGet[*provision.ProjectStatusChecker](container),
		runs:    di.MustGet[*rundao.DAO](container),
	}, nil
}

func (h *Handler) HandleCheckProjectStatus(ctx context.Context, input *orchestrator.StepFunctionInput) (*StatusResult, error) {
	logger := zerolog.Ctx(ctx)

	pctx := models.ProjectContext{
		DomainID:  input.DomainID,
		ProjectID: input.ProjectID,
		BuildRepo: input.BuildRepo,
	}

	result, err := h.checker.Check(ctx, pctx, input.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("failed to check project status: %w", err)
	}

	logger.Info().
		Str("project_id", input.ProjectID).
		Str("state", string(result.State)).
		Str("reason", result.Reason).
		Msg("Project status checked")

	if input.SK != "" {
		pk := rundao.NewPK(input.DomainID, input.ProjectID)
		if err := h.runs.UpdateState(ctx, pk, input.SK, string(orchestrator.StateCheckingStatus), nil); err != nil {
			logger.Warn().Err(err).Msg("Failed to record run state")
		}
	}

	return &StatusResult{
		State:   string(result.State),
		Reason:  result.Reason,
		Context: result.Context,
	}, nil
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "check-project-status").Logger()

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
		wrappedHandler := func(ctx context.Context, input *orchestrator.StepFunctionInput) (*StatusResult, error) {
			ctx = logger.WithContext(ctx)
			return handler.HandleCheckProjectStatus(ctx, input)
		}
		lambda.Start(wrappedHandler)
		return
	}

	app := &cli.App{
		Name:  "check-project-status",
		Usage: "Check whether a project has finished deploying",
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
				Name:  "profile-id",
				Usage: "Project profile identifier",
			},
		},
		Action: func(c *cli.Context) error {
			input := &orchestrator.StepFunctionInput{
				DomainID:  c.String("domain-id"),
				ProjectID: c.String("project-id"),
				ProfileID: c.String("profile-id"),
			}

			ctx := logger.WithContext(context.Background())
			result, err := handler.HandleCheckProjectStatus(ctx, input)
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
