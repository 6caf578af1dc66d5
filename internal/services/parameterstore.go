package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Config holds all application configuration values. Components receive it
// explicitly at construction; nothing reads ambient globals.
type Config struct {
	// Template repository (public, organized by profile name)
	TemplateOrg    string
	TemplateRepo   string
	TemplateFolder string // optional folder within the template repo holding the per-profile trees
	TemplateBranch string

	// Private organization hosting the build/deploy repositories
	PrivateOrg    string
	DefaultBranch string

	// GitHub access
	GitHubTokenSecretName string
	OIDCRoleArn           string
	DeployWorkflowFile    string

	// Orchestration
	StateMachineArn string
	EnableRunLock   bool

	// Defaults for derived/optional secrets
	GlueDatabase string
	GlueTable    string
}

// ParameterStore defines the interface for accessing configuration parameters
type ParameterStore interface {
	// GetParameter retrieves a single parameter by name
	GetParameter(ctx context.Context, name string) (string, error)

	// GetConfig loads all application configuration
	GetConfig(ctx context.Context) (*Config, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store
type SSMParameterStore struct {
	client *ssm.Client
	env    string
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client *ssm.Client, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
		cache:  make(map[string]string),
	}
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

// GetConfig loads all application configuration from Parameter Store
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	path := fmt.Sprintf("/%s/mlops-provisioner", s.env)

	// Use GetParametersByPath for efficient batch retrieval
	result, err := s.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
		Path:           &path,
		Recursive:      boolPtr(true),
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
	}

	params := make(map[string]string)
	for _, param := range result.Parameters {
		if param.Name != nil && param.Value != nil {
			params[*param.Name] = *param.Value
		}
	}

	s.mu.Lock()
	for k, v := range params {
		s.cache[k] = v
	}
	s.mu.Unlock()

	get := func(name string) string {
		return params[fmt.Sprintf("/%s/mlops-provisioner/%s", s.env, name)]
	}

	config := &Config{
		TemplateOrg:           get("template-org"),
		TemplateRepo:          get("template-repo"),
		TemplateFolder:        get("template-folder"),
		TemplateBranch:        get("template-branch"),
		PrivateOrg:            get("private-org"),
		DefaultBranch:         get("default-branch"),
		GitHubTokenSecretName: get("github-token-secret-name"),
		OIDCRoleArn:           get("oidc-role-arn"),
		DeployWorkflowFile:    get("deploy-workflow-file"),
		StateMachineArn:       get("state-machine-arn"),
		EnableRunLock:         get("enable-run-lock") == "true",
		GlueDatabase:          get("glue-database"),
		GlueTable:             get("glue-table"),
	}

	applyDefaults(config)
	return config, nil
}

// EnvParameterStore implements ParameterStore using environment variables.
// This is the fallback for local development without AWS connection.
type EnvParameterStore struct {
	env string
}

// NewEnvParameterStore creates a new environment variable-backed parameter store
func NewEnvParameterStore(env string) *EnvParameterStore {
	return &EnvParameterStore{env: env}
}

// GetParameter retrieves a parameter from environment variables
func (e *EnvParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	return os.Getenv(name), nil
}

// GetConfig loads all application configuration from environment variables
func (e *EnvParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	enableLock, _ := strconv.ParseBool(os.Getenv("ENABLE_RUN_LOCK"))

	config := &Config{
		TemplateOrg:           os.Getenv("PUBLIC_TEMPLATES_ORG"),
		TemplateRepo:          os.Getenv("PUBLIC_TEMPLATES_REPO"),
		TemplateFolder:        os.Getenv("PUBLIC_TEMPLATES_FOLDER"),
		TemplateBranch:        os.Getenv("PUBLIC_TEMPLATES_BRANCH"),
		PrivateOrg:            os.Getenv("PRIVATE_GITHUB_ORGANIZATION"),
		DefaultBranch:         os.Getenv("PRIVATE_REPO_DEFAULT_BRANCH"),
		GitHubTokenSecretName: os.Getenv("GITHUB_TOKEN_SECRET_NAME"),
		OIDCRoleArn:           os.Getenv("OIDC_ROLE_GITHUB_WORKFLOW"),
		DeployWorkflowFile:    os.Getenv("DEPLOY_WORKFLOW_FILE"),
		StateMachineArn:       os.Getenv("STATE_MACHINE_ARN"),
		EnableRunLock:         enableLock,
		GlueDatabase:          os.Getenv("GLUE_DATABASE"),
		GlueTable:             os.Getenv("GLUE_TABLE"),
	}

	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.TemplateBranch == "" {
		config.TemplateBranch = "main"
	}
	if config.DefaultBranch == "" {
		config.DefaultBranch = "main"
	}
	if config.DeployWorkflowFile == "" {
		config.DeployWorkflowFile = "deploy_model_pipeline.yml"
	}
	if config.GlueDatabase == "" {
		config.GlueDatabase = "glue_db"
	}
	if config.GlueTable == "" {
		config.GlueTable = "abalone"
	}
}

func boolPtr(b bool) *bool {
	return &b
}
