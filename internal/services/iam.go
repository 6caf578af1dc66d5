package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
	"github.com/savaki/mlops-provisioner/internal/models"
)

const artifactBucketPolicyName = "SageMakerArtifactBucketAccess"

type IAMService struct {
	client    *iam.Client
	stsClient *sts.Client
}

// NewIAMService creates an IAM wrapper
func NewIAMService(client *iam.Client, stsClient *sts.Client) *IAMService {
	return &IAMService{client: client, stsClient: stsClient}
}

// GetAWSAccountID retrieves the AWS account ID of the caller.
func (s *IAMService) GetAWSAccountID(ctx context.Context) (string, error) {
	result, err := s.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", apperrors.New(apperrors.ClassifyAWS(err), fmt.Errorf("failed to get caller identity: %w", err))
	}

	if result.Account == nil {
		return "", fmt.Errorf("account ID is nil")
	}

	return *result.Account, nil
}

type policyStatement struct {
	Effect   string `json:"Effect"`
	Action   any    `json:"Action"`
	Resource any    `json:"Resource"`
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

// UpsertArtifactBucketPolicy attaches an inline policy to the pipeline
// execution role granting access to the project artifact bucket and the
// regional SageMaker default bucket. PutRolePolicy replaces the named policy,
// so repeated calls converge.
func (s *IAMService) UpsertArtifactBucketPolicy(ctx context.Context, roleArn, bucketPath, accountID, region string) error {
	if accountID == "" || region == "" {
		return fmt.Errorf("cannot build bucket policy without account and region (account=%q region=%q)", accountID, region)
	}

	parts := strings.Split(roleArn, "/")
	roleName := parts[len(parts)-1]

	bucketName := models.BucketFromS3Path(bucketPath)
	defaultBucket := fmt.Sprintf("sagemaker-%s-%s", region, accountID)

	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{
			{
				Effect: "Allow",
				Action: "s3:ListBucket",
				Resource: []string{
					fmt.Sprintf("arn:aws:s3:::%s", bucketName),
					fmt.Sprintf("arn:aws:s3:::%s", defaultBucket),
				},
			},
			{
				Effect: "Allow",
				Action: []string{"s3:GetObject", "s3:PutObject", "s3:DeleteObject"},
				Resource: []string{
					fmt.Sprintf("arn:aws:s3:::%s/*", bucketName),
					fmt.Sprintf("arn:aws:s3:::%s/*", defaultBucket),
				},
			},
		},
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal policy document: %w", err)
	}

	_, err = s.client.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(roleName),
		PolicyName:     aws.String(artifactBucketPolicyName),
		PolicyDocument: aws.String(string(docJSON)),
	})
	if err != nil {
		return apperrors.New(apperrors.ClassifyAWS(err),
			fmt.Errorf("failed to put role policy on %s: %w", roleName, err))
	}

	return nil
}
