package provision

import (
	"context"

	"github.com/savaki/mlops-provisioner/internal/services"
)

// RepoHost is the source-control hosting surface the provisioner needs.
// *services.GitHubService satisfies it; tests supply fakes.
type RepoHost interface {
	EnsureRepository(ctx context.Context, org, name, description string) (bool, error)
	GetBranchHead(ctx context.Context, owner, repo, branch string) (*services.BranchHead, error)
	ListTree(ctx context.Context, owner, repo, ref string) ([]services.TreeEntry, error)
	GetBlob(ctx context.Context, owner, repo, sha string) ([]byte, error)
	CreateBlob(ctx context.Context, owner, repo string, content []byte) (string, error)
	CreateTree(ctx context.Context, owner, repo, baseTree string, entries []services.TreeSpec) (string, error)
	CreateCommit(ctx context.Context, owner, repo, message, treeSHA string, parents []string) (string, error)
	UpdateRef(ctx context.Context, owner, repo, branch, sha string) error
	CreateRef(ctx context.Context, owner, repo, branch, sha string) error
	CreateOrUpdateSecret(ctx context.Context, owner, repo, secretName, secretValue string) error
	DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string, inputs map[string]string) error
}

// TagIndex is the cloud tagging lookup used by the location resolver.
// *services.SageMakerService satisfies it.
type TagIndex interface {
	FindDomainByProjectTag(ctx context.Context, projectID string) (*services.DomainMatch, error)
}

// DomainAPI exposes SageMaker domain/space metadata to the status checker.
// *services.SageMakerService satisfies it.
type DomainAPI interface {
	TagIndex
	DescribeDomain(ctx context.Context, domainID string) (*services.DomainDetails, error)
	FirstSpace(ctx context.Context, domainID string) (*services.SpaceInfo, error)
}

// ProjectAPI exposes DataZone project metadata.
// *services.DataZoneService satisfies it.
type ProjectAPI interface {
	GetProject(ctx context.Context, domainID, projectID string) (*services.ProjectDetails, error)
	GetProjectProfile(ctx context.Context, domainID, profileID string) (*services.ProfileDetails, error)
	FindDomainForProject(ctx context.Context, projectID string) (string, error)
}

// Identity resolves the calling AWS account.
// *services.IAMService satisfies it.
type Identity interface {
	GetAWSAccountID(ctx context.Context) (string, error)
}

// RolePolicyUpdater grants the pipeline execution role access to the
// artifact bucket. *services.IAMService satisfies it.
type RolePolicyUpdater interface {
	Identity
	UpsertArtifactBucketPolicy(ctx context.Context, roleArn, bucketPath, accountID, region string) error
}

// BucketProber checks artifact bucket existence, warn-only.
// *services.S3Service satisfies it.
type BucketProber interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
}
