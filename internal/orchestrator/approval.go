package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/savaki/mlops-provisioner/internal/dao/rundao"
	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
	"github.com/savaki/mlops-provisioner/internal/models"
	"github.com/savaki/mlops-provisioner/internal/services"
)

// WorkflowDispatcher triggers a repository workflow run.
// *services.GitHubService satisfies it.
type WorkflowDispatcher interface {
	DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string, inputs map[string]string) error
}

// DomainLookup resolves which governance domain owns a project.
// *services.DataZoneService satisfies it.
type DomainLookup interface {
	FindDomainForProject(ctx context.Context, projectID string) (string, error)
}

// ApprovalHandler reacts to model package approvals by dispatching the deploy
// workflow in the project's deploy repository. Its state path is short:
// resolve the deploy repository name, then invoke the workflow.
type ApprovalHandler struct {
	domains    DomainLookup
	dispatcher WorkflowDispatcher
	runs       RunStore // optional
	cfg        *services.Config
}

// NewApprovalHandler creates a new ApprovalHandler instance. runs may be nil.
func NewApprovalHandler(domains DomainLookup, dispatcher WorkflowDispatcher, runs RunStore, cfg *services.Config) *ApprovalHandler {
	return &ApprovalHandler{
		domains:    domains,
		dispatcher: dispatcher,
		runs:       runs,
		cfg:        cfg,
	}
}

// Handle processes one model package state change. Anything other than an
// approval is acknowledged and ignored.
func (h *ApprovalHandler) Handle(ctx context.Context, event models.ModelApprovalEvent) models.WorkflowResult {
	runID := ksuid.New().String()

	logger := zerolog.Ctx(ctx).With().
		Str("run_id", runID).
		Str("model_package_group", event.ModelPackageGroupName).
		Str("approval_status", event.ApprovalStatus).
		Logger()
	ctx = logger.WithContext(ctx)

	if !event.Approved() {
		logger.Info().Msg("Ignoring model package state change, not an approval")
		return models.WorkflowResult{
			RunID:            runID,
			Status:           models.WorkflowCompleted,
			CompletedActions: []string{"skipped:not-approved"},
		}
	}

	projectID := event.DerivedProjectID()
	if projectID == "" {
		return h.fail(ctx, runID, "", "ResolveDeployRepoName", apperrors.KindInternal,
			"cannot derive project from model package group name")
	}

	domainID, err := h.domains.FindDomainForProject(ctx, projectID)
	if err != nil {
		return h.fail(ctx, runID, projectID, "ResolveDeployRepoName", apperrors.KindOf(err),
			fmt.Sprintf("failed to resolve domain for project %s: %v", projectID, err))
	}

	if h.runs != nil {
		_, err := h.runs.Create(ctx, rundao.CreateInput{
			DomainID:  domainID,
			ProjectID: projectID,
			SK:        runID,
			Trigger:   TriggerModelApproval,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create run ledger entry")
		}
	}

	repoName := models.DeployRepoName(projectID, domainID)
	inputs := map[string]string{
		"model_name":               event.ModelPackageName,
		"model_package_group_name": event.ModelPackageGroupName,
		"model_package_arn":        event.ModelPackageArn,
		"project_id":               projectID,
		"domain_id":                domainID,
	}

	err = h.dispatcher.DispatchWorkflow(ctx, h.cfg.PrivateOrg, repoName, h.cfg.DeployWorkflowFile, h.cfg.DefaultBranch, inputs)
	if err != nil {
		result := h.fail(ctx, runID, projectID, "InvokeDeployWorkflow", apperrors.KindOf(err),
			fmt.Sprintf("failed to dispatch %s on %s/%s: %v", h.cfg.DeployWorkflowFile, h.cfg.PrivateOrg, repoName, err))
		if h.runs != nil {
			msg := fmt.Sprintf("step=%s kind=%s: %s", result.Error.Step, result.Error.Kind, result.Error.Message)
			if err := h.runs.Fail(ctx, rundao.NewPK(domainID, projectID), runID, msg, nil); err != nil {
				logger.Error().Err(err).Msg("Failed to record run failure")
			}
		}
		return result
	}

	actions := []string{fmt.Sprintf("dispatch:%s/%s:%s", h.cfg.PrivateOrg, repoName, h.cfg.DeployWorkflowFile)}
	if h.runs != nil {
		if err := h.runs.Complete(ctx, rundao.NewPK(domainID, projectID), runID, actions); err != nil {
			logger.Error().Err(err).Msg("Failed to record run completion")
		}
	}

	logger.Info().Str("repo", repoName).Msg("Dispatched deploy workflow")
	return models.WorkflowResult{
		RunID:            runID,
		Status:           models.WorkflowCompleted,
		CompletedActions: actions,
	}
}

func (h *ApprovalHandler) fail(ctx context.Context, runID, projectID, step string, kind apperrors.Kind, message string) models.WorkflowResult {
	zerolog.Ctx(ctx).Error().
		Str("step", step).
		Str("kind", string(kind)).
		Str("project_id", projectID).
		Msg(message)

	return models.WorkflowResult{
		RunID:  runID,
		Status: models.WorkflowFailed,
		Error: &models.ErrorDetail{
			Step:    step,
			Kind:    string(kind),
			Message: message,
		},
	}
}
