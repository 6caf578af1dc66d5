package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
)

// Tag keys stamped onto SageMaker domains by the studio provisioning flow.
const (
	TagProjectID     = "AmazonDataZoneProject"
	TagProjectS3Path = "ProjectS3Path"
)

type SageMakerService struct {
	client *sagemaker.Client
}

// NewSageMakerService creates a SageMaker wrapper
func NewSageMakerService(client *sagemaker.Client) *SageMakerService {
	return &SageMakerService{client: client}
}

// DomainMatch is the result of a tag-index lookup.
type DomainMatch struct {
	DomainID  string
	DomainArn string
	S3Path    string // empty when the ProjectS3Path tag is absent
}

// FindDomainByProjectTag scans SageMaker domains for one tagged with the
// given project identifier and reads its ProjectS3Path tag if present.
// Returns a NotFound error when no domain carries the tag.
func (s *SageMakerService) FindDomainByProjectTag(ctx context.Context, projectID string) (*DomainMatch, error) {
	paginator := sagemaker.NewListDomainsPaginator(s.client, &sagemaker.ListDomainsInput{})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, apperrors.New(apperrors.ClassifyAWS(err), fmt.Errorf("failed to list domains: %w", err))
		}

		for i := range page.Domains {
			domain := &page.Domains[i]
			match, err := s.matchDomainTags(ctx, domain, projectID)
			if err != nil {
				return nil, err
			}
			if match != nil {
				return match, nil
			}
		}
	}

	return nil, apperrors.New(apperrors.KindNotFound,
		fmt.Errorf("%w: %s", apperrors.ErrDomainNotFound, projectID))
}

func (s *SageMakerService) matchDomainTags(ctx context.Context, domain *types.DomainDetails, projectID string) (*DomainMatch, error) {
	tags, err := s.client.ListTags(ctx, &sagemaker.ListTagsInput{
		ResourceArn: domain.DomainArn,
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ClassifyAWS(err),
			fmt.Errorf("failed to list tags for domain %s: %w", aws.ToString(domain.DomainId), err))
	}

	matched := false
	s3Path := ""
	for _, tag := range tags.Tags {
		switch aws.ToString(tag.Key) {
		case TagProjectID:
			if aws.ToString(tag.Value) == projectID {
				matched = true
			}
		case TagProjectS3Path:
			s3Path = aws.ToString(tag.Value)
		}
	}

	if !matched {
		return nil, nil
	}

	return &DomainMatch{
		DomainID:  aws.ToString(domain.DomainId),
		DomainArn: aws.ToString(domain.DomainArn),
		S3Path:    s3Path,
	}, nil
}

// DomainDetails holds the subset of DescribeDomain the provisioner uses.
type DomainDetails struct {
	DomainArn     string
	ExecutionRole string
}

// DescribeDomain returns the domain ARN and default space execution role.
func (s *SageMakerService) DescribeDomain(ctx context.Context, domainID string) (*DomainDetails, error) {
	result, err := s.client.DescribeDomain(ctx, &sagemaker.DescribeDomainInput{
		DomainId: aws.String(domainID),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ClassifyAWS(err), fmt.Errorf("failed to describe domain %s: %w", domainID, err))
	}

	details := &DomainDetails{
		DomainArn: aws.ToString(result.DomainArn),
	}
	if result.DefaultSpaceSettings != nil {
		details.ExecutionRole = aws.ToString(result.DefaultSpaceSettings.ExecutionRole)
	}
	return details, nil
}

// SpaceInfo describes the first space of a domain.
type SpaceInfo struct {
	SpaceArn       string
	InService      bool
	UserProfileArn string
}

// FirstSpace returns details for the first space in the domain, or nil when
// the domain has no spaces yet. A space that exists but is not InService is
// reported with InService=false so callers can wait for it.
func (s *SageMakerService) FirstSpace(ctx context.Context, domainID string) (*SpaceInfo, error) {
	spaces, err := s.client.ListSpaces(ctx, &sagemaker.ListSpacesInput{
		DomainIdEquals: aws.String(domainID),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ClassifyAWS(err), fmt.Errorf("failed to list spaces for domain %s: %w", domainID, err))
	}

	if len(spaces.Spaces) == 0 {
		return nil, nil
	}

	spaceName := aws.ToString(spaces.Spaces[0].SpaceName)
	space, err := s.client.DescribeSpace(ctx, &sagemaker.DescribeSpaceInput{
		DomainId:  aws.String(domainID),
		SpaceName: aws.String(spaceName),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ClassifyAWS(err), fmt.Errorf("failed to describe space %s: %w", spaceName, err))
	}

	info := &SpaceInfo{
		SpaceArn:  aws.ToString(space.SpaceArn),
		InService: space.Status == types.SpaceStatusInService,
	}

	if info.InService && space.OwnershipSettings != nil {
		owner := aws.ToString(space.OwnershipSettings.OwnerUserProfileName)
		if owner != "" {
			profile, err := s.client.DescribeUserProfile(ctx, &sagemaker.DescribeUserProfileInput{
				DomainId:        aws.String(domainID),
				UserProfileName: aws.String(owner),
			})
			if err == nil {
				info.UserProfileArn = aws.ToString(profile.UserProfileArn)
			}
			// user profile lookup is best effort; the ARN is an optional secret
		}
	}

	return info, nil
}
