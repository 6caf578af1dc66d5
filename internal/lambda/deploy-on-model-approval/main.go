package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/urfave/cli/v2"

	"github.com/savaki/mlops-provisioner/internal/di"
	"github.com/savaki/mlops-provisioner/internal/models"
	"github.com/savaki/mlops-provisioner/internal/orchestrator"
)

type Handler struct {
	approval *orchestrator.ApprovalHandler
}

func NewHandler(env string) (*Handler, error) {
	container, err := di.New(env)
	if err != nil {
		return nil, fmt.Errorf("failed to build container: %w", err)
	}

	return &Handler{
		approval: di.MustGet[*orchestrator.ApprovalHandler](container),
	}, nil
}

// parseApprovalDetail maps the SageMaker model package state change event
// onto the normalized approval event.
func parseApprovalDetail(detail json.RawMessage) (models.ModelApprovalEvent, error) {
	var raw struct {
		ModelPackageGroupName string `json:"ModelPackageGroupName"`
		ModelPackageName      string `json:"ModelPackageName"`
		ModelPackageArn       string `json:"ModelPackageArn"`
		ModelApprovalStatus   string `json:"ModelApprovalStatus"`
	}
	if err := json.Unmarshal(detail, &raw); err != nil {
		return models.ModelApprovalEvent{}, fmt.Errorf("failed to parse event detail: %w", err)
	}
	if raw.ModelPackageGroupName == "" {
		return models.ModelApprovalEvent{}, fmt.Errorf("event detail missing ModelPackageGroupName")
	}

	return models.ModelApprovalEvent{
		ModelPackageGroupName: raw.ModelPackageGroupName,
		ModelPackageName:      raw.ModelPackageName,
		ModelPackageArn:       raw.ModelPackageArn,
		ApprovalStatus:        raw.ModelApprovalStatus,
	}, nil
}

// HandleEvent dispatches the deploy workflow for an approved model package.
// A failed dispatch returns an error so the event is retried.
func (h *Handler) HandleEvent(ctx context.Context, raw events.CloudWatchEvent) error {
	event, err := parseApprovalDetail(raw.Detail)
	if err != nil {
		return err
	}

	result := h.approval.Handle(ctx, event)
	if result.Status == models.WorkflowFailed {
		return fmt.Errorf("deploy dispatch failed at %s: %s", result.Error.Step, result.Error.Message)
	}
	return nil
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "deploy-on-model-approval").Logger()

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
		wrappedHandler := func(ctx context.Context, event events.CloudWatchEvent) error {
			ctx = logger.WithContext(ctx)
			return handler.HandleEvent(ctx, event)
		}
		lambda.Start(wrappedHandler)
		return
	}

	app := &cli.App{
		Name:  "deploy-on-model-approval",
		Usage: "Dispatch the deploy workflow for an approved model package",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "model-package-group",
				Usage:    "Model package group name",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "model-package-arn",
				Usage: "Model package ARN",
			},
			&cli.StringFlag{
				Name:  "approval-status",
				Usage: "Model approval status",
				Value: models.ApprovalStatusApproved,
			},
		},
		Action: func(c *cli.Context) error {
			detail, err := json.Marshal(map[string]string{
				"ModelPackageGroupName": c.String("model-package-group"),
				"ModelPackageArn":       c.String("model-package-arn"),
				"ModelApprovalStatus":   c.String("approval-status"),
			})
			if err != nil {
				return err
			}

			ctx := logger.WithContext(context.Background())
			return handler.HandleEvent(ctx, events.CloudWatchEvent{Detail: detail})
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
