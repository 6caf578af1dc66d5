package services

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with yaml tags for the local --config file.
type fileConfig struct {
	TemplateOrg           string `yaml:"template_org"`
	TemplateRepo          string `yaml:"template_repo"`
	TemplateFolder        string `yaml:"template_folder"`
	TemplateBranch        string `yaml:"template_branch"`
	PrivateOrg            string `yaml:"private_org"`
	DefaultBranch         string `yaml:"default_branch"`
	GitHubTokenSecretName string `yaml:"github_token_secret_name"`
	OIDCRoleArn           string `yaml:"oidc_role_arn"`
	DeployWorkflowFile    string `yaml:"deploy_workflow_file"`
	StateMachineArn       string `yaml:"state_machine_arn"`
	EnableRunLock         bool   `yaml:"enable_run_lock"`
	GlueDatabase          string `yaml:"glue_database"`
	GlueTable             string `yaml:"glue_table"`
}

// FileParameterStore implements ParameterStore from a local YAML file,
// used by the CLI for end-to-end runs outside of Lambda.
type FileParameterStore struct {
	path string
}

// NewFileParameterStore creates a parameter store backed by a YAML file
func NewFileParameterStore(path string) *FileParameterStore {
	return &FileParameterStore{path: path}
}

// GetParameter is unsupported for file-backed configuration
func (f *FileParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	return "", fmt.Errorf("file parameter store does not support single-parameter lookup (%s)", name)
}

// GetConfig loads configuration from the YAML file
func (f *FileParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", f.path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", f.path, err)
	}

	config := &Config{
		TemplateOrg:           fc.TemplateOrg,
		TemplateRepo:          fc.TemplateRepo,
		TemplateFolder:        fc.TemplateFolder,
		TemplateBranch:        fc.TemplateBranch,
		PrivateOrg:            fc.PrivateOrg,
		DefaultBranch:         fc.DefaultBranch,
		GitHubTokenSecretName: fc.GitHubTokenSecretName,
		OIDCRoleArn:           fc.OIDCRoleArn,
		DeployWorkflowFile:    fc.DeployWorkflowFile,
		StateMachineArn:       fc.StateMachineArn,
		EnableRunLock:         fc.EnableRunLock,
		GlueDatabase:          fc.GlueDatabase,
		GlueTable:             fc.GlueTable,
	}

	applyDefaults(config)
	return config, nil
}
