package provision

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
	"github.com/savaki/mlops-provisioner/internal/models"
	"github.com/savaki/mlops-provisioner/internal/services"
)

// BuildRepoSecrets assembles the secret set wired into the build repository's
// workflow environment. Required entries fail the step when empty; optional
// entries are skipped when empty.
func BuildRepoSecrets(pctx models.ProjectContext, cfg *services.Config) models.SecretSet {
	var set models.SecretSet
	set.Add("SAGEMAKER_DOMAIN_ARN", pctx.DomainArn)
	set.Add("SAGEMAKER_PIPELINE_ROLE_ARN", pctx.PipelineRoleArn)
	set.Add("OIDC_ROLE_GITHUB_WORKFLOW", cfg.OIDCRoleArn)
	set.Add("SAGEMAKER_PROJECT_NAME", pctx.ProjectName)
	set.Add("SAGEMAKER_PROJECT_ID", pctx.ProjectID)
	set.Add("AMAZON_DATAZONE_DOMAIN", pctx.DomainID)
	set.Add("ARTIFACT_BUCKET", pctx.ArtifactBucket())
	set.Add("MODEL_PACKAGE_GROUP_NAME", pctx.ModelPackageGroupName())
	set.AddOptional("SAGEMAKER_SPACE_ARN", pctx.SpaceArn)
	set.AddOptional("AMAZON_DATAZONE_SCOPENAME", pctx.DomainUnitID)
	set.AddOptional("AMAZON_DATAZONE_PROJECT", pctx.ProjectID)
	set.AddOptional("REGION", pctx.Region)
	set.AddOptional("GLUE_DATABASE", cfg.GlueDatabase)
	set.AddOptional("GLUE_TABLE", cfg.GlueTable)
	return set
}

// DeployRepoSecrets is the build set plus deployment targeting. REGION is
// required here: the deploy workflow cannot guess which region to deploy to.
func DeployRepoSecrets(pctx models.ProjectContext, cfg *services.Config) models.SecretSet {
	set := BuildRepoSecrets(pctx, cfg)
	set.Add("REGION", pctx.Region)
	set.AddOptional("DEPLOY_ACCOUNT", pctx.DeployAccountID)
	return set
}

// templateSubpath selects the per-profile subtree within the template repo,
// e.g. "templates/regression/model_build". The profile name is lowercased to
// match the template repository's folder layout.
func templateSubpath(cfg *services.Config, profileName, component string) string {
	profile := strings.ToLower(strings.ReplaceAll(profileName, " ", "-"))
	return path.Join(cfg.TemplateFolder, profile, component)
}

// SyncStep provisions the build repository: resolve the storage path, extend
// the pipeline role's bucket access, write the workflow secrets, and mirror
// the model_build template subtree into the repo.
type SyncStep struct {
	resolver *LocationResolver
	secrets  *SecretProvisioner
	mirror   *RepositoryMirror
	policies RolePolicyUpdater
	cfg      *services.Config
}

// NewSyncStep constructs a sync step
func NewSyncStep(resolver *LocationResolver, secrets *SecretProvisioner, mirror *RepositoryMirror, policies RolePolicyUpdater, cfg *services.Config) *SyncStep {
	return &SyncStep{
		resolver: resolver,
		secrets:  secrets,
		mirror:   mirror,
		policies: policies,
		cfg:      cfg,
	}
}

// Run executes the step. completed carries action names from a prior partial
// attempt so the secret writes resume instead of repeating.
func (s *SyncStep) Run(ctx context.Context, pctx models.ProjectContext, completed []string) (models.ProjectContext, models.StepOutcome) {
	logger := zerolog.Ctx(ctx)

	s3Path, _, err := s.resolver.Resolve(ctx, pctx)
	if err != nil {
		return pctx, failedOutcome("SyncRepository", err, "failed to resolve storage path", nil)
	}
	pctx = pctx.WithS3Path(s3Path)

	if s.policies != nil && pctx.PipelineRoleArn != "" {
		err = s.policies.UpsertArtifactBucketPolicy(ctx, pctx.PipelineRoleArn, pctx.S3Path, pctx.AccountID, pctx.Region)
		if err != nil {
			// access may already exist through the role's managed policies
			logger.Warn().Err(err).Msg("Failed to extend pipeline role bucket policy")
		}
	}

	repo := s.buildRepoDescriptor(pctx)
	outcome := s.secrets.Provision(ctx, repo, BuildRepoSecrets(pctx, s.cfg), completed)
	if outcome.Status != models.StepSucceeded {
		outcome.Error.Step = "SyncRepository"
		return pctx, outcome
	}
	actions := outcome.CompletedActions

	mirrored := s.mirror.Mirror(ctx, MirrorInput{
		Template: models.TemplateRef{
			Organization: s.cfg.TemplateOrg,
			RepoName:     s.cfg.TemplateRepo,
			Ref:          s.cfg.TemplateBranch,
		},
		Subpath:       templateSubpath(s.cfg, pctx.ProfileName, "model_build"),
		Target:        repo,
		CommitMessage: fmt.Sprintf("Sync model build template for %s", pctx.ProjectName),
	})
	mirrored.CompletedActions = append(actions, mirrored.CompletedActions...)
	if mirrored.Error != nil {
		mirrored.Error.Step = "SyncRepository"
	}
	return pctx, mirrored
}

// buildRepoDescriptor honors the repository named in the triggering event
// when present, falling back to the derived name.
func (s *SyncStep) buildRepoDescriptor(pctx models.ProjectContext) models.RepositoryDescriptor {
	org, name := s.cfg.PrivateOrg, models.BuildRepoName(pctx.ProjectID)
	if pctx.BuildRepo != "" {
		if owner, repo, ok := strings.Cut(pctx.BuildRepo, "/"); ok {
			org, name = owner, repo
		} else {
			name = pctx.BuildRepo
		}
	}
	return models.RepositoryDescriptor{
		Organization:  org,
		RepoName:      name,
		DefaultBranch: s.cfg.DefaultBranch,
	}
}

// DeployRepoStep provisions the deploy repository: create it if absent, write
// the deploy secret set, and mirror the model_deploy template subtree.
type DeployRepoStep struct {
	secrets *SecretProvisioner
	mirror  *RepositoryMirror
	cfg     *services.Config
}

// NewDeployRepoStep constructs a deploy-repo step
func NewDeployRepoStep(secrets *SecretProvisioner, mirror *RepositoryMirror, cfg *services.Config) *DeployRepoStep {
	return &DeployRepoStep{secrets: secrets, mirror: mirror, cfg: cfg}
}

// Run executes the step. completed carries action names from a prior partial
// attempt.
func (s *DeployRepoStep) Run(ctx context.Context, pctx models.ProjectContext, completed []string) models.StepOutcome {
	repo := models.RepositoryDescriptor{
		Organization:  s.cfg.PrivateOrg,
		RepoName:      models.DeployRepoName(pctx.ProjectID, pctx.DomainID),
		DefaultBranch: s.cfg.DefaultBranch,
	}

	mirrored := s.mirror.Mirror(ctx, MirrorInput{
		Template: models.TemplateRef{
			Organization: s.cfg.TemplateOrg,
			RepoName:     s.cfg.TemplateRepo,
			Ref:          s.cfg.TemplateBranch,
		},
		Subpath:       templateSubpath(s.cfg, pctx.ProfileName, "model_deploy"),
		Target:        repo,
		CommitMessage: fmt.Sprintf("Provision model deploy template for %s", pctx.ProjectName),
	})
	if mirrored.Status != models.StepSucceeded {
		mirrored.Error.Step = "CreateDeployRepository"
		return mirrored
	}
	actions := mirrored.CompletedActions

	outcome := s.secrets.Provision(ctx, repo, DeployRepoSecrets(pctx, s.cfg), completed)
	outcome.CompletedActions = append(actions, outcome.CompletedActions...)
	if outcome.Error != nil {
		outcome.Error.Step = "CreateDeployRepository"
	}
	return outcome
}

func failedOutcome(step string, err error, message string, actions []string) models.StepOutcome {
	return models.StepOutcome{
		Status:           models.StepFailed,
		CompletedActions: actions,
		Error: &models.ErrorDetail{
			Step:    step,
			Kind:    string(apperrors.KindOf(err)),
			Message: fmt.Sprintf("%s: %v", message, err),
		},
	}
}
