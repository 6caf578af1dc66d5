package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
)

type SecretsManagerService struct {
	client *secretsmanager.Client
}

// NewSecretsManagerService creates a Secrets Manager wrapper
func NewSecretsManagerService(client *secretsmanager.Client) *SecretsManagerService {
	return &SecretsManagerService{client: client}
}

// gitHubTokenSecret is the JSON shape of the stored GitHub PAT:
// {"token": "ghp_..."}
type gitHubTokenSecret struct {
	Token string `json:"token"`
}

// GetSecret retrieves a raw secret value by path from AWS Secrets Manager
func (s *SecretsManagerService) GetSecret(ctx context.Context, secretPath string) (string, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretPath),
	})
	if err != nil {
		return "", apperrors.New(apperrors.ClassifyAWS(err), fmt.Errorf("failed to get secret %s: %w", secretPath, err))
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretPath)
	}

	return *result.SecretString, nil
}

// GetGitHubToken retrieves the long-lived GitHub access token used to
// authenticate all source-control hosting API calls.
func (s *SecretsManagerService) GetGitHubToken(ctx context.Context, secretPath string) (string, error) {
	raw, err := s.GetSecret(ctx, secretPath)
	if err != nil {
		return "", err
	}

	var secret gitHubTokenSecret
	if err := json.Unmarshal([]byte(raw), &secret); err != nil {
		return "", fmt.Errorf("failed to unmarshal GitHub token secret %s: %w", secretPath, err)
	}

	if secret.Token == "" {
		return "", fmt.Errorf("%w: %s", apperrors.ErrGitHubTokenEmpty, secretPath)
	}

	return secret.Token, nil
}
