package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"

	"github.com/savaki/mlops-provisioner/internal/dao/rundao"
	"github.com/savaki/mlops-provisioner/internal/di"
	"github.com/savaki/mlops-provisioner/internal/models"
	"github.com/savaki/mlops-provisioner/internal/orchestrator"
)

type Handler struct {
	starter *orchestrator.Starter
	runs    *rundao.DAO
}

func NewHandler(env string) (*Handler, error) {
	container, err := di.New(env)
	if err != nil {
		return nil, fmt.Errorf("failed to build container: %w", err)
	}

	return &Handler{
		starter: di.MustGet[*orchestrator.Starter](container),
		runs:    di.MustGet[*rundao.DAO](container),
	}, nil
}

// parseProjectCreatedDetail extracts the project identifiers from the event
// detail. The catalog emits identifiers either at the top level or nested
// under metadata, depending on the event version.
func parseProjectCreatedDetail(detail json.RawMessage) (models.ProjectCreatedEvent, error) {
	var event models.ProjectCreatedEvent
	if err := json.Unmarshal(detail, &event); err != nil {
		return models.ProjectCreatedEvent{}, fmt.Errorf("failed to parse event detail: %w", err)
	}

	if event.DomainID == "" || event.ProjectID == "" {
		var nested struct {
			Metadata struct {
				Domain string `json:"domain"`
				ID     string `json:"id"`
			} `json:"metadata"`
			Data struct {
				ProjectProfileID string `json:"projectProfileId"`
			} `json:"data"`
		}
		if err := json.Unmarshal(detail, &nested); err == nil {
			if event.DomainID == "" {
				event.DomainID = nested.Metadata.Domain
			}
			if event.ProjectID == "" {
				event.ProjectID = nested.Metadata.ID
			}
			if event.ProfileID == "" {
				event.ProfileID = nested.Data.ProjectProfileID
			}
		}
	}

	if event.DomainID == "" || event.ProjectID == "" {
		return models.ProjectCreatedEvent{}, fmt.Errorf("event detail missing domain or project identifier")
	}
	return event, nil
}

// HandleEvent creates the run ledger entry and launches the provisioning
// state machine for the new project.
func (h *Handler) HandleEvent(ctx context.Context, raw events.CloudWatchEvent) error {
	logger := zerolog.Ctx(ctx)

	event, err := parseProjectCreatedDetail(raw.Detail)
	if err != nil {
		return err
	}

	sk := ksuid.New().String()

	logger.Info().
		Str("domain_id", event.DomainID).
		Str("project_id", event.ProjectID).
		Str("sk", sk).
		Msg("Project created, launching provisioning")

	_, err = h.runs.Create(ctx, rundao.CreateInput{
		DomainID:  event.DomainID,
		ProjectID: event.ProjectID,
		SK:        sk,
		Trigger:   orchestrator.TriggerProjectCreated,
	})
	if err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}

	executionArn, err := h.starter.StartExecution(ctx, orchestrator.StepFunctionInput{
		DomainID:  event.DomainID,
		ProjectID: event.ProjectID,
		ProfileID: event.ProfileID,
		BuildRepo: event.BuildRepo,
		SK:        sk,
		Trigger:   orchestrator.TriggerProjectCreated,
	})
	if err != nil {
		return err
	}

	logger.Info().Str("execution_arn", executionArn).Msg("Provisioning execution started")
	return nil
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "project-created").Logger()

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
		Name:  "project-created",
		Usage: "Launch the provisioning state machine for a project",
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
			detail, err := json.Marshal(models.ProjectCreatedEvent{
				DomainID:  c.String("domain-id"),
				ProjectID: c.String("project-id"),
				ProfileID: c.String("profile-id"),
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
