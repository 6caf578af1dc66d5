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
	sync *provision.SyncStep
	runs *rundao.DAO
}

// SyncInput carries the shared execution payload, the context assembled by
// the status check, and any actions completed by a previous attempt of this
// step.
type SyncInput struct {
	*orchestrator.StepFunctionInput
	Context          models.ProjectContext `json:"context"`
	CompletedActions []string              `json:"completed_actions,omitempty"`
}

// SyncResult is the step output: the possibly-extended project context plus
// the step outcome the state machine branches on.
type SyncResult struct {
	Context models.ProjectContext `json:"context"`
	Outcome models.StepOutcome    `json:"outcome"`
}

func NewHandler(env string) (*Handler, error) {
	container, err := di.New(env)
	if err != nil {
		return nil, fmt.Errorf("failed to build container: %w", err)
	}

	return &Handler{
		sync: di.MustGet[*provision.SyncStep](container),
		runs: di.MustGet[*rundao.DAO](container),
	}, nil
}

func (h *Handler) HandleSyncRepositories(ctx context.Context, input *SyncInput) (*SyncResult, error) {
	logger := zerolog.Ctx(ctx)

	pctx := input.Context
	if pctx.ProjectID == "" {
		pctx = models.ProjectContext{
			DomainID:  input.DomainID,
			ProjectID: input.ProjectID,
			BuildRepo: input.BuildRepo,
		}
	}

	pctx, outcome := h.sync.Run(ctx, pctx, input.CompletedActions)

	if input.SK != "" {
		pk := rundao.NewPK(pctx.DomainID, pctx.ProjectID)
		if outcome.Succeeded() {
			if err := h.runs.UpdateState(ctx, pk, input.SK, string(orchestrator.StateSyncingBuildRepo), outcome.CompletedActions); err != nil {
				logger.Warn().Err(err).Msg("Failed to record run state")
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
		Int("actions", len(outcome.CompletedActions)).
		Msg("Build repository sync finished")

	return &SyncResult{Context: pctx, Outcome: outcome}, nil
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "sync-repositories").Logger()

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
		wrappedHandler := func(ctx context.Context, input *SyncInput) (*SyncResult, error) {
			ctx = logger.WithContext(ctx)
			return handler.HandleSyncRepositories(ctx, input)
		}
		lambda.Start(wrappedHandler)
		return
	}

	app := &cli.App{
		Name:  "sync-repositories",
		Usage: "Sync the model build template into the project's build repository",
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
				Name:  "build-repo",
				Usage: "Build repository (owner/name), defaults to the derived name",
			},
			&cli.StringFlag{
				Name:  "context",
				Usage: "JSON project context from a prior status check",
			},
		},
		Action: func(c *cli.Context) error {
			input := &SyncInput{
				StepFunctionInput: &orchestrator.StepFunctionInput{
					DomainID:  c.String("domain-id"),
					ProjectID: c.String("project-id"),
					BuildRepo: c.String("build-repo"),
				},
			}
			if raw := c.String("context"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &input.Context); err != nil {
					return fmt.Errorf("failed to parse context: %w", err)
				}
			}

			ctx := logger.WithContext(context.Background())
			result, err := handler.HandleSyncRepositories(ctx, input)
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
