package models

import "fmt"

// ProjectContext carries everything later provisioning steps need about a
// project. It is built incrementally: DomainID/ProjectID come from the
// triggering event, S3Path from the location resolver, the rest from the
// project status check. Steps return copies via With*, never mutate in place.
type ProjectContext struct {
	DomainID          string `json:"domain_id"`
	ProjectID         string `json:"project_id"`
	ProjectName       string `json:"project_name,omitempty"`
	ProfileName       string `json:"profile_name,omitempty"`
	Region            string `json:"region,omitempty"`
	AccountID         string `json:"account_id,omitempty"`
	S3Path            string `json:"s3_path,omitempty"`
	PipelineRoleArn   string `json:"pipeline_role_arn,omitempty"`
	SageMakerDomainID string `json:"sagemaker_domain_id,omitempty"`
	DomainArn         string `json:"domain_arn,omitempty"`
	SpaceArn          string `json:"space_arn,omitempty"`
	UserProfileArn    string `json:"user_profile_arn,omitempty"`
	DomainUnitID      string `json:"domain_unit_id,omitempty"`
	DeployAccountID   string `json:"deploy_account_id,omitempty"`
	BuildRepo         string `json:"build_repo,omitempty"` // owner/name from event git parameters
}

// WithS3Path returns a copy with the resolved storage path set.
func (c ProjectContext) WithS3Path(path string) ProjectContext {
	c.S3Path = path
	return c
}

// ModelPackageGroupName returns the model package group registered for the
// project's pipelines.
func (c ProjectContext) ModelPackageGroupName() string {
	return fmt.Sprintf("%s-models", c.ProjectID)
}

// ArtifactBucket extracts the bucket name from the project's s3:// path.
func (c ProjectContext) ArtifactBucket() string {
	return BucketFromS3Path(c.S3Path)
}

// BucketFromS3Path extracts the bucket name from an s3://bucket/prefix path.
// Paths without the scheme are treated as starting with the bucket name.
func BucketFromS3Path(path string) string {
	s := path
	if len(s) >= 5 && s[:5] == "s3://" {
		s = s[5:]
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i]
		}
	}
	return s
}

// BuildRepoName derives the build repository name when the triggering event
// does not carry one explicitly.
func BuildRepoName(projectID string) string {
	return fmt.Sprintf("%s-build-repo", projectID)
}

// DeployRepoName derives the deploy repository name. It must be unique within
// the organization, so it includes both project and domain identifiers.
func DeployRepoName(projectID, domainID string) string {
	return fmt.Sprintf("%s-%s-deploy-repo", projectID, domainID)
}
