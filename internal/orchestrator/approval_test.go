package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
	"github.com/savaki/mlops-provisioner/internal/models"
	"github.com/savaki/mlops-provisioner/internal/services"
)

type fakeDomainLookup struct {
	domainID string
	err      error
}

func (f *fakeDomainLookup) FindDomainForProject(ctx context.Context, projectID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.domainID, nil
}

type fakeDispatcher struct {
	err        error
	dispatched []dispatchCall
}

type dispatchCall struct {
	owner, repo, workflow, ref string
	inputs                     map[string]string
}

func (f *fakeDispatcher) DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string, inputs map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, dispatchCall{owner: owner, repo: repo, workflow: workflowFile, ref: ref, inputs: inputs})
	return nil
}

func approvalConfig() *services.Config {
	return &services.Config{
		PrivateOrg:         "acme",
		DefaultBranch:      "main",
		DeployWorkflowFile: "deploy_model_pipeline.yml",
	}
}

func approvalEvent() models.ModelApprovalEvent {
	return models.ModelApprovalEvent{
		ModelPackageGroupName: "p-123-models",
		ModelPackageName:      "p-123-models/3",
		ModelPackageArn:       "arn:aws:sagemaker:us-east-1:111122223333:model-package/p-123-models/3",
		ApprovalStatus:        models.ApprovalStatusApproved,
	}
}

func TestHandleApproval_DispatchesDeployWorkflow(t *testing.T) {
	domains := &fakeDomainLookup{domainID: "dzd_x"}
	dispatcher := &fakeDispatcher{}
	runs := &fakeRunStore{}

	h := NewApprovalHandler(domains, dispatcher, runs, approvalConfig())
	result := h.Handle(context.Background(), approvalEvent())

	require.Equal(t, models.WorkflowCompleted, result.Status)
	require.Len(t, dispatcher.dispatched, 1)

	call := dispatcher.dispatched[0]
	assert.Equal(t, "acme", call.owner)
	assert.Equal(t, "p-123-dzd_x-deploy-repo", call.repo, "repo name derived from package group and domain")
	assert.Equal(t, "deploy_model_pipeline.yml", call.workflow)
	assert.Equal(t, "main", call.ref)
	assert.Equal(t, "p-123", call.inputs["project_id"])
	assert.Equal(t, "dzd_x", call.inputs["domain_id"])
	assert.Equal(t, "p-123-models", call.inputs["model_package_group_name"])

	assert.True(t, runs.completed)
	require.Len(t, runs.created, 1)
	assert.Equal(t, TriggerModelApproval, runs.created[0].Trigger)
}

func TestHandleApproval_IgnoresNonApproved(t *testing.T) {
	domains := &fakeDomainLookup{domainID: "dzd_x"}
	dispatcher := &fakeDispatcher{}

	event := approvalEvent()
	event.ApprovalStatus = "Rejected"

	h := NewApprovalHandler(domains, dispatcher, nil, approvalConfig())
	result := h.Handle(context.Background(), event)

	require.Equal(t, models.WorkflowCompleted, result.Status)
	assert.Empty(t, dispatcher.dispatched, "non-approvals must not trigger deploys")
	assert.Contains(t, result.CompletedActions, "skipped:not-approved")
}

func TestHandleApproval_FailsWhenDomainUnresolved(t *testing.T) {
	domains := &fakeDomainLookup{err: apperrors.New(apperrors.KindNotFound, apperrors.ErrDomainNotFound)}
	dispatcher := &fakeDispatcher{}

	h := NewApprovalHandler(domains, dispatcher, nil, approvalConfig())
	result := h.Handle(context.Background(), approvalEvent())

	require.Equal(t, models.WorkflowFailed, result.Status)
	assert.Equal(t, "ResolveDeployRepoName", result.Error.Step)
	assert.Equal(t, string(apperrors.KindNotFound), result.Error.Kind)
	assert.Empty(t, dispatcher.dispatched)
}

func TestHandleApproval_DispatchFailureReported(t *testing.T) {
	domains := &fakeDomainLookup{domainID: "dzd_x"}
	dispatcher := &fakeDispatcher{err: apperrors.New(apperrors.KindNotFound, assert.AnError)}
	runs := &fakeRunStore{}

	h := NewApprovalHandler(domains, dispatcher, runs, approvalConfig())
	result := h.Handle(context.Background(), approvalEvent())

	require.Equal(t, models.WorkflowFailed, result.Status)
	assert.Equal(t, "InvokeDeployWorkflow", result.Error.Step)
	assert.Contains(t, runs.failedMsg, "step=InvokeDeployWorkflow")
}

func TestHandleApproval_DerivesProjectFromGroupName(t *testing.T) {
	event := models.ModelApprovalEvent{
		ModelPackageGroupName: "my-project-models",
		ApprovalStatus:        models.ApprovalStatusApproved,
	}
	assert.Equal(t, "my-project", event.DerivedProjectID())
}
