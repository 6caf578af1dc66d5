package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
	"github.com/savaki/mlops-provisioner/internal/models"
)

// CheckState is the tri-state result of a status poll.
type CheckState string

const (
	CheckReady   CheckState = "READY"   // project deployed, domain and space available
	CheckPending CheckState = "PENDING" // still provisioning, poll again
	CheckFailed  CheckState = "FAILED"  // terminal, do not retry
)

// CheckResult carries the poll verdict plus everything discovered about the
// project while checking, so downstream steps don't repeat the lookups.
type CheckResult struct {
	State   CheckState
	Reason  string
	Context models.ProjectContext
}

// ProjectStatusChecker polls the governance catalog for a project's
// deployment status and, once the project is live, assembles the full
// project context used by the sync and deploy steps.
type ProjectStatusChecker struct {
	projects ProjectAPI
	domains  DomainAPI
	identity Identity
	region   string
	retry    RetryPolicy
}

// NewProjectStatusChecker constructs a checker
func NewProjectStatusChecker(projects ProjectAPI, domains DomainAPI, identity Identity, region string, retry RetryPolicy) *ProjectStatusChecker {
	return &ProjectStatusChecker{projects: projects, domains: domains, identity: identity, region: region, retry: retry}
}

// Check polls once. CheckPending means call again later; CheckFailed is
// terminal. On CheckReady the returned context carries the project name,
// profile, domain ARN, space ARN, and the account and region the downstream
// steps write into the workflow secrets.
func (c *ProjectStatusChecker) Check(ctx context.Context, pctx models.ProjectContext, profileID string) (*CheckResult, error) {
	logger := zerolog.Ctx(ctx)

	var project *projectSnapshot
	err := c.retry.Do(ctx, "get-project", func() error {
		details, err := c.projects.GetProject(ctx, pctx.DomainID, pctx.ProjectID)
		if err != nil {
			return err
		}
		project = &projectSnapshot{
			name:         details.Name,
			domainUnitID: details.DomainUnitID,
			status:       details.DeploymentStatus,
		}
		return nil
	})
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return &CheckResult{
				State:  CheckFailed,
				Reason: fmt.Sprintf("project %s not found in domain %s", pctx.ProjectID, pctx.DomainID),
			}, nil
		}
		return nil, err
	}

	logger.Info().
		Str("project_id", pctx.ProjectID).
		Str("status", project.status).
		Msg("Polled project deployment status")

	switch {
	case project.status == "SUCCESSFUL":
		// fall through to domain discovery
	case strings.HasPrefix(project.status, "FAILED"):
		return &CheckResult{
			State:  CheckFailed,
			Reason: fmt.Sprintf("project deployment ended in %s", project.status),
		}, nil
	default:
		// PENDING, IN_PROGRESS, or anything the catalog adds later
		return &CheckResult{
			State:  CheckPending,
			Reason: fmt.Sprintf("project deployment status is %s", project.status),
		}, nil
	}

	pctx.ProjectName = project.name
	pctx.DomainUnitID = project.domainUnitID
	if pctx.Region == "" {
		pctx.Region = c.region
	}
	if pctx.AccountID == "" {
		err := c.retry.Do(ctx, "get-account-id", func() error {
			accountID, err := c.identity.GetAWSAccountID(ctx)
			if err != nil {
				return err
			}
			pctx.AccountID = accountID
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if profileID != "" {
		profile, err := c.projects.GetProjectProfile(ctx, pctx.DomainID, profileID)
		if err != nil {
			// the profile name selects the template subtree, so this is fatal
			return nil, err
		}
		pctx.ProfileName = profile.Name
		pctx.DeployAccountID = profile.DeployAccount
	}

	return c.resolveDomain(ctx, pctx)
}

// resolveDomain finds the SageMaker domain tagged with the project and waits
// for its first space to come in service. A domain that hasn't appeared yet
// is treated as still-provisioning rather than missing.
func (c *ProjectStatusChecker) resolveDomain(ctx context.Context, pctx models.ProjectContext) (*CheckResult, error) {
	logger := zerolog.Ctx(ctx)

	match, err := c.domains.FindDomainByProjectTag(ctx, pctx.ProjectID)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return &CheckResult{
				State:   CheckPending,
				Reason:  "tagged SageMaker domain not created yet",
				Context: pctx,
			}, nil
		}
		return nil, err
	}

	pctx.SageMakerDomainID = match.DomainID
	if match.S3Path != "" {
		pctx = pctx.WithS3Path(match.S3Path)
	}

	details, err := c.domains.DescribeDomain(ctx, match.DomainID)
	if err != nil {
		return nil, err
	}
	pctx.DomainArn = details.DomainArn
	pctx.PipelineRoleArn = details.ExecutionRole

	space, err := c.domains.FirstSpace(ctx, match.DomainID)
	if err != nil {
		return nil, err
	}
	if space == nil || !space.InService {
		return &CheckResult{
			State:   CheckPending,
			Reason:  "SageMaker space not in service yet",
			Context: pctx,
		}, nil
	}
	pctx.SpaceArn = space.SpaceArn
	pctx.UserProfileArn = space.UserProfileArn

	logger.Info().
		Str("project_id", pctx.ProjectID).
		Str("sagemaker_domain_id", pctx.SageMakerDomainID).
		Msg("Project fully provisioned")

	return &CheckResult{State: CheckReady, Context: pctx}, nil
}

type projectSnapshot struct {
	name         string
	domainUnitID string
	status       string
}
