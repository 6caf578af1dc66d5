package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/datazone"
	dztypes "github.com/aws/aws-sdk-go-v2/service/datazone/types"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
)

type DataZoneService struct {
	client *datazone.Client
}

// NewDataZoneService creates a DataZone wrapper
func NewDataZoneService(client *datazone.Client) *DataZoneService {
	return &DataZoneService{client: client}
}

// ProjectDetails is the subset of GetProject the provisioner uses.
type ProjectDetails struct {
	Name             string
	DomainUnitID     string
	DeploymentStatus string // overall environment deployment status, e.g. IN_PROGRESS, SUCCESSFUL
}

// GetProject returns project metadata and its overall deployment status.
func (s *DataZoneService) GetProject(ctx context.Context, domainID, projectID string) (*ProjectDetails, error) {
	result, err := s.client.GetProject(ctx, &datazone.GetProjectInput{
		DomainIdentifier: aws.String(domainID),
		Identifier:       aws.String(projectID),
	})
	if err != nil {
		kind := apperrors.ClassifyAWS(err)
		if kind == apperrors.KindNotFound {
			return nil, apperrors.New(apperrors.KindNotFound,
				fmt.Errorf("%w: %s/%s", apperrors.ErrProjectNotFound, domainID, projectID))
		}
		return nil, apperrors.New(kind, fmt.Errorf("failed to get project %s: %w", projectID, err))
	}

	details := &ProjectDetails{
		Name: aws.ToString(result.Name),
	}
	if result.DomainUnitId != nil {
		details.DomainUnitID = aws.ToString(result.DomainUnitId)
	}
	if result.EnvironmentDeploymentDetails != nil {
		details.DeploymentStatus = string(result.EnvironmentDeploymentDetails.OverallDeploymentStatus)
	}
	return details, nil
}

// ProfileDetails is the subset of GetProjectProfile the provisioner uses.
type ProfileDetails struct {
	Name          string
	DeployAccount string
}

// GetProjectProfile returns the profile name and the AWS account of its first
// environment configuration, which is where deployments land.
func (s *DataZoneService) GetProjectProfile(ctx context.Context, domainID, profileID string) (*ProfileDetails, error) {
	result, err := s.client.GetProjectProfile(ctx, &datazone.GetProjectProfileInput{
		DomainIdentifier: aws.String(domainID),
		Identifier:       aws.String(profileID),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ClassifyAWS(err),
			fmt.Errorf("failed to get project profile %s: %w", profileID, err))
	}

	details := &ProfileDetails{
		Name: aws.ToString(result.Name),
	}
	if len(result.EnvironmentConfigurations) > 0 {
		cfg := result.EnvironmentConfigurations[0]
		if acct, ok := cfg.AwsAccount.(*dztypes.AwsAccountMemberAwsAccountId); ok {
			details.DeployAccount = acct.Value
		}
	}
	return details, nil
}

// FindDomainForProject locates the domain that owns a project by scanning all
// domains. Used on the model-approval path, where the event carries only the
// model package group name.
func (s *DataZoneService) FindDomainForProject(ctx context.Context, projectID string) (string, error) {
	domains := datazone.NewListDomainsPaginator(s.client, &datazone.ListDomainsInput{})

	for domains.HasMorePages() {
		page, err := domains.NextPage(ctx)
		if err != nil {
			return "", apperrors.New(apperrors.ClassifyAWS(err), fmt.Errorf("failed to list domains: %w", err))
		}

		for _, domain := range page.Items {
			domainID := aws.ToString(domain.Id)
			found, err := s.projectExists(ctx, domainID, projectID)
			if err != nil {
				return "", err
			}
			if found {
				return domainID, nil
			}
		}
	}

	return "", apperrors.New(apperrors.KindNotFound,
		fmt.Errorf("%w: no domain owns project %s", apperrors.ErrProjectNotFound, projectID))
}

func (s *DataZoneService) projectExists(ctx context.Context, domainID, projectID string) (bool, error) {
	projects := datazone.NewListProjectsPaginator(s.client, &datazone.ListProjectsInput{
		DomainIdentifier: aws.String(domainID),
	})

	for projects.HasMorePages() {
		page, err := projects.NextPage(ctx)
		if err != nil {
			return false, apperrors.New(apperrors.ClassifyAWS(err),
				fmt.Errorf("failed to list projects in domain %s: %w", domainID, err))
		}
		for _, project := range page.Items {
			if aws.ToString(project.Id) == projectID {
				return true, nil
			}
		}
	}
	return false, nil
}
