package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
	"github.com/savaki/mlops-provisioner/internal/models"
)

// fallbackPathTemplate builds the conventional studio bucket path from
// account, region, domain and project, in that order.
const fallbackPathTemplate = "s3://amazon-sagemaker-%s-%s/%s/%s"

// LocationResolver determines the object-storage path associated with a
// project, preferring the ProjectS3Path tag on the matching SageMaker domain
// and falling back to the deterministic default construction.
type LocationResolver struct {
	tags     TagIndex
	identity Identity
	prober   BucketProber // optional
	region   string
	retry    RetryPolicy
}

// NewLocationResolver constructs a resolver. prober may be nil to skip the
// bucket existence probe.
func NewLocationResolver(tags TagIndex, identity Identity, prober BucketProber, region string, retry RetryPolicy) *LocationResolver {
	return &LocationResolver{
		tags:     tags,
		identity: identity,
		prober:   prober,
		region:   region,
		retry:    retry,
	}
}

// Resolve returns the project's storage path and, when the tag lookup
// matched, the matching SageMaker domain. A missing tag or missing domain is
// not a failure: the deterministic fallback applies, logged at warning level
// because it usually signals a misconfigured environment.
func (r *LocationResolver) Resolve(ctx context.Context, pctx models.ProjectContext) (string, *DomainMatchResult, error) {
	logger := zerolog.Ctx(ctx)

	var match *DomainMatchResult
	err := r.retry.Do(ctx, "find-domain-by-project-tag", func() error {
		found, err := r.tags.FindDomainByProjectTag(ctx, pctx.ProjectID)
		if err != nil {
			return err
		}
		match = &DomainMatchResult{
			DomainID:  found.DomainID,
			DomainArn: found.DomainArn,
			S3Path:    found.S3Path,
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, apperrors.ErrDomainNotFound) && apperrors.KindOf(err) != apperrors.KindNotFound {
			// transient exhausted or auth failure: fatal
			return "", nil, err
		}
		logger.Warn().
			Str("project_id", pctx.ProjectID).
			Msg("No SageMaker domain tagged with project, using fallback storage path")
	}

	path := ""
	if match != nil {
		path = match.S3Path
	}

	if path == "" {
		fallback, err := r.fallbackPath(ctx, pctx)
		if err != nil {
			return "", match, err
		}
		logger.Warn().
			Str("project_id", pctx.ProjectID).
			Str("s3_path", fallback).
			Msg("ProjectStoragePath tag not found, using deterministic fallback path")
		path = fallback
	} else {
		logger.Info().
			Str("project_id", pctx.ProjectID).
			Str("s3_path", path).
			Msg("Resolved storage path from domain tags")
	}

	r.probeBucket(ctx, path)
	return path, match, nil
}

func (r *LocationResolver) fallbackPath(ctx context.Context, pctx models.ProjectContext) (string, error) {
	accountID := pctx.AccountID
	if accountID == "" {
		resolved, err := r.identity.GetAWSAccountID(ctx)
		if err != nil {
			return "", err
		}
		accountID = resolved
	}

	region := pctx.Region
	if region == "" {
		region = r.region
	}

	return fmt.Sprintf(fallbackPathTemplate, accountID, region, pctx.DomainID, pctx.ProjectID), nil
}

func (r *LocationResolver) probeBucket(ctx context.Context, path string) {
	if r.prober == nil {
		return
	}
	logger := zerolog.Ctx(ctx)

	bucket := models.BucketFromS3Path(path)
	exists, err := r.prober.BucketExists(ctx, bucket)
	if err != nil {
		logger.Warn().Err(err).Str("bucket", bucket).Msg("Failed to probe artifact bucket")
		return
	}
	if !exists {
		logger.Warn().Str("bucket", bucket).Msg("Artifact bucket does not exist yet")
	}
}

// DomainMatchResult is the tag-index hit carried forward to later steps.
type DomainMatchResult struct {
	DomainID  string
	DomainArn string
	S3Path    string
}
