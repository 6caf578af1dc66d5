package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/savaki/mlops-provisioner/internal/dao/lockdao"
	"github.com/savaki/mlops-provisioner/internal/dao/rundao"
	"github.com/savaki/mlops-provisioner/internal/orchestrator"
	"github.com/savaki/mlops-provisioner/internal/provision"
	"github.com/savaki/mlops-provisioner/internal/services"
)

// ProvideGitHubService fetches the hosting API token at startup and
// constructs the client. The token value stays inside the service.
func ProvideGitHubService(ctx context.Context, sm *services.SecretsManagerService, config *services.Config) (*services.GitHubService, error) {
	if config.GitHubTokenSecretName == "" {
		return nil, fmt.Errorf("github token secret name not configured")
	}

	token, err := sm.GetGitHubToken(ctx, config.GitHubTokenSecretName)
	if err != nil {
		return nil, fmt.Errorf("failed to load github token: %w", err)
	}

	return services.NewGitHubService(token), nil
}

func ProvideRetryPolicy() provision.RetryPolicy {
	return provision.DefaultRetryPolicy()
}

func ProvideLocationResolver(sm *services.SageMakerService, iamService *services.IAMService, s3Service *services.S3Service, awsConfig aws.Config, retry provision.RetryPolicy) *provision.LocationResolver {
	return provision.NewLocationResolver(sm, iamService, s3Service, awsConfig.Region, retry)
}

func ProvideSecretProvisioner(github *services.GitHubService, retry provision.RetryPolicy) *provision.SecretProvisioner {
	return provision.NewSecretProvisioner(github, retry)
}

func ProvideRepositoryMirror(github *services.GitHubService, retry provision.RetryPolicy) *provision.RepositoryMirror {
	return provision.NewRepositoryMirror(github, retry)
}

func ProvideStatusChecker(dz *services.DataZoneService, sm *services.SageMakerService, iamService *services.IAMService, awsConfig aws.Config, retry provision.RetryPolicy) *provision.ProjectStatusChecker {
	return provision.NewProjectStatusChecker(dz, sm, iamService, awsConfig.Region, retry)
}

func ProvideSyncStep(resolver *provision.LocationResolver, secrets *provision.SecretProvisioner, mirror *provision.RepositoryMirror, iamService *services.IAMService, config *services.Config) *provision.SyncStep {
	return provision.NewSyncStep(resolver, secrets, mirror, iamService, config)
}

func ProvideDeployRepoStep(secrets *provision.SecretProvisioner, mirror *provision.RepositoryMirror, config *services.Config) *provision.DeployRepoStep {
	return provision.NewDeployRepoStep(secrets, mirror, config)
}

func ProvideOrchestrator(checker *provision.ProjectStatusChecker, sync *provision.SyncStep, deploy *provision.DeployRepoStep, runs *rundao.DAO, locks *lockdao.DAO, config *services.Config) *orchestrator.Orchestrator {
	// the per-project lock is opt-in
	var lockStore orchestrator.LockStore
	if config.EnableRunLock {
		lockStore = locks
	}
	return orchestrator.New(checker, sync, deploy, runs, lockStore, orchestrator.DefaultOptions())
}

func ProvideApprovalHandler(dz *services.DataZoneService, github *services.GitHubService, runs *rundao.DAO, config *services.Config) *orchestrator.ApprovalHandler {
	return orchestrator.NewApprovalHandler(dz, github, runs, config)
}

func ProvideStarter(sfnClient *sfn.Client, runs *rundao.DAO, config *services.Config) (*orchestrator.Starter, error) {
	if config.StateMachineArn == "" {
		return nil, fmt.Errorf("STATE_MACHINE_ARN required")
	}
	return orchestrator.NewStarter(sfnClient, config.StateMachineArn, runs), nil
}
