package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
	"github.com/savaki/mlops-provisioner/internal/models"
	"github.com/savaki/mlops-provisioner/internal/services"
)

func fullContext() models.ProjectContext {
	return models.ProjectContext{
		DomainID:        "dzd_x",
		ProjectID:       "p-123",
		ProjectName:     "demo",
		ProfileName:     "Regression",
		Region:          "us-east-1",
		AccountID:       "111122223333",
		S3Path:          "s3://bucket/projects/p-123",
		PipelineRoleArn: "arn:aws:iam::111122223333:role/pipeline",
		DomainArn:       "arn:aws:sagemaker:us-east-1:111122223333:domain/d-abc",
		DomainUnitID:    "du-1",
		DeployAccountID: "999900001111",
	}
}

func stepConfig() *services.Config {
	return &services.Config{
		TemplateOrg:    "templates-org",
		TemplateRepo:   "mlops-templates",
		TemplateFolder: "templates",
		TemplateBranch: "main",
		PrivateOrg:     "acme",
		DefaultBranch:  "main",
		OIDCRoleArn:    "arn:aws:iam::111122223333:role/oidc",
		GlueDatabase:   "glue_db",
		GlueTable:      "abalone",
	}
}

func TestBuildRepoSecrets_RequiredAndOptionalKeys(t *testing.T) {
	set := BuildRepoSecrets(fullContext(), stepConfig())

	names := set.Names()
	assert.Contains(t, names, "SAGEMAKER_DOMAIN_ARN")
	assert.Contains(t, names, "SAGEMAKER_PIPELINE_ROLE_ARN")
	assert.Contains(t, names, "OIDC_ROLE_GITHUB_WORKFLOW")
	assert.Contains(t, names, "ARTIFACT_BUCKET")
	assert.Contains(t, names, "MODEL_PACKAGE_GROUP_NAME")
	assert.Empty(t, set.MissingRequired())

	for _, entry := range set.Entries() {
		switch entry.Name {
		case "ARTIFACT_BUCKET":
			assert.Equal(t, "bucket", entry.Value)
		case "MODEL_PACKAGE_GROUP_NAME":
			assert.Equal(t, "p-123-models", entry.Value)
		case "SAGEMAKER_SPACE_ARN":
			assert.False(t, entry.Required)
		}
	}
}

func TestDeployRepoSecrets_RequiresRegion(t *testing.T) {
	pctx := fullContext()
	pctx.Region = ""
	set := DeployRepoSecrets(pctx, stepConfig())

	assert.Contains(t, set.MissingRequired(), "REGION")
}

func TestTemplateSubpath(t *testing.T) {
	cfg := stepConfig()
	assert.Equal(t, "templates/regression/model_build", templateSubpath(cfg, "Regression", "model_build"))
	assert.Equal(t, "templates/time-series/model_deploy", templateSubpath(cfg, "Time Series", "model_deploy"))

	cfg.TemplateFolder = ""
	assert.Equal(t, "regression/model_build", templateSubpath(cfg, "Regression", "model_build"))
}

func newSyncStep(host *fakeRepoHost, tags *fakeTagIndex, cfg *services.Config) *SyncStep {
	retry := fastRetry()
	resolver := NewLocationResolver(tags, &fakeIdentity{accountID: "111122223333"}, nil, "us-east-1", retry)
	return NewSyncStep(resolver, NewSecretProvisioner(host, retry), NewRepositoryMirror(host, retry), nil, cfg)
}

func TestSyncStep_EndToEnd(t *testing.T) {
	host := newFakeRepoHost()
	host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_build/pipeline.py", []byte("pipeline"))
	tags := &fakeTagIndex{match: &services.DomainMatch{DomainID: "d-abc", S3Path: "s3://bucket/projects/p-123"}}

	step := newSyncStep(host, tags, stepConfig())
	pctx, outcome := step.Run(context.Background(), fullContext(), nil)

	require.Equal(t, models.StepSucceeded, outcome.Status)
	assert.Equal(t, "s3://bucket/projects/p-123", pctx.S3Path)
	assert.True(t, host.repos["acme/p-123-build-repo"], "build repo created under the derived name")
	assert.Contains(t, host.secretsWritten, "acme/p-123-build-repo:SAGEMAKER_PROJECT_ID")
	assert.Contains(t, outcome.CompletedActions, "copy:pipeline.py")
	assert.Contains(t, outcome.CompletedActions, "push")
}

func TestSyncStep_HonorsEventRepoName(t *testing.T) {
	host := newFakeRepoHost()
	host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_build/pipeline.py", []byte("pipeline"))
	tags := &fakeTagIndex{match: &services.DomainMatch{DomainID: "d-abc", S3Path: "s3://bucket/p"}}

	pctx := fullContext()
	pctx.BuildRepo = "other-org/custom-build"

	step := newSyncStep(host, tags, stepConfig())
	_, outcome := step.Run(context.Background(), pctx, nil)

	require.Equal(t, models.StepSucceeded, outcome.Status)
	assert.True(t, host.repos["other-org/custom-build"])
	assert.False(t, host.repos["acme/p-123-build-repo"])
}

func TestSyncStep_SecretFailureStopsBeforeMirror(t *testing.T) {
	host := newFakeRepoHost()
	host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_build/pipeline.py", []byte("pipeline"))
	host.secretErr["SAGEMAKER_DOMAIN_ARN"] = apperrors.New(apperrors.KindAuthFailure, assert.AnError)
	tags := &fakeTagIndex{match: &services.DomainMatch{DomainID: "d-abc", S3Path: "s3://bucket/p"}}

	step := newSyncStep(host, tags, stepConfig())
	_, outcome := step.Run(context.Background(), fullContext(), nil)

	require.Equal(t, models.StepFailed, outcome.Status)
	assert.Equal(t, "SyncRepository", outcome.Error.Step)
	assert.Equal(t, "SAGEMAKER_DOMAIN_ARN", outcome.Error.SecretKey)
	assert.Empty(t, host.commits, "no template content may land before secrets are in place")
}

// TestProvisioningFlow_FreshContextCompletes wires the real checker and both
// steps together, seeded the way a triggering event seeds the context: with
// identifiers only. Everything the steps need must come out of the checker.
func TestProvisioningFlow_FreshContextCompletes(t *testing.T) {
	host := newFakeRepoHost()
	host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_build/pipeline.py", []byte("pipeline"))
	host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_deploy/endpoint.py", []byte("endpoint"))

	projects := &fakeProjectAPI{
		project: &services.ProjectDetails{Name: "demo", DomainUnitID: "du-1", DeploymentStatus: "SUCCESSFUL"},
		profile: &services.ProfileDetails{Name: "Regression"},
	}
	domains := readyDomains()

	retry := fastRetry()
	identity := &fakeIdentity{accountID: "111122223333"}
	checker := NewProjectStatusChecker(projects, domains, identity, "us-east-1", retry)
	resolver := NewLocationResolver(&domains.fakeTagIndex, identity, nil, "us-east-1", retry)
	secrets := NewSecretProvisioner(host, retry)
	mirror := NewRepositoryMirror(host, retry)
	sync := NewSyncStep(resolver, secrets, mirror, nil, stepConfig())
	deploy := NewDeployRepoStep(secrets, mirror, stepConfig())

	result, err := checker.Check(context.Background(), models.ProjectContext{DomainID: "dzd_x", ProjectID: "p-123"}, "profile-1")
	require.NoError(t, err)
	require.Equal(t, CheckReady, result.State)

	pctx, outcome := sync.Run(context.Background(), result.Context, nil)
	require.Equal(t, models.StepSucceeded, outcome.Status, "sync: %+v", outcome.Error)

	outcome = deploy.Run(context.Background(), pctx, nil)
	require.Equal(t, models.StepSucceeded, outcome.Status, "deploy: %+v", outcome.Error)

	assert.Contains(t, host.secretsWritten, "acme/p-123-build-repo:REGION")
	assert.Contains(t, host.secretsWritten, "acme/p-123-dzd_x-deploy-repo:REGION")
	assert.Contains(t, host.secretsWritten, "acme/p-123-dzd_x-deploy-repo:ARTIFACT_BUCKET")
	assert.Equal(t, "us-east-1", host.secretValues["REGION"])
}

func TestDeployRepoStep_EndToEnd(t *testing.T) {
	host := newFakeRepoHost()
	host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_deploy/endpoint.py", []byte("endpoint"))

	retry := fastRetry()
	step := NewDeployRepoStep(NewSecretProvisioner(host, retry), NewRepositoryMirror(host, retry), stepConfig())
	outcome := step.Run(context.Background(), fullContext(), nil)

	require.Equal(t, models.StepSucceeded, outcome.Status)
	assert.True(t, host.repos["acme/p-123-dzd_x-deploy-repo"], "deploy repo name includes the domain for uniqueness")
	assert.Contains(t, host.secretsWritten, "acme/p-123-dzd_x-deploy-repo:REGION")
	assert.Contains(t, host.secretsWritten, "acme/p-123-dzd_x-deploy-repo:DEPLOY_ACCOUNT")
	assert.Contains(t, outcome.CompletedActions, "copy:endpoint.py")
}
