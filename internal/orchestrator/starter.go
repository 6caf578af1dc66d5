package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/savaki/mlops-provisioner/internal/dao/rundao"
)

// StepFunctionInput is the payload handed to the provisioning state machine.
type StepFunctionInput struct {
	DomainID  string `json:"domain_id"`
	ProjectID string `json:"project_id"`
	ProfileID string `json:"profile_id,omitempty"`
	BuildRepo string `json:"build_repo,omitempty"` // owner/name from the event's git parameters
	SK        string `json:"sk"`                   // KSUID - run ledger sort key
	Trigger   string `json:"trigger"`
}

// SFNClient is the Step Functions surface the starter needs.
type SFNClient interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// Starter launches the provisioning state machine for a project and records
// the execution on the run ledger.
type Starter struct {
	sfnClient       SFNClient
	stateMachineArn string
	runs            *rundao.DAO
}

// NewStarter creates a new Starter instance
func NewStarter(sfnClient SFNClient, stateMachineArn string, runs *rundao.DAO) *Starter {
	return &Starter{
		sfnClient:       sfnClient,
		stateMachineArn: stateMachineArn,
		runs:            runs,
	}
}

// StartExecution starts a state machine execution and atomically updates the
// run record to IN_PROGRESS with the execution ARN
func (s *Starter) StartExecution(ctx context.Context, input StepFunctionInput) (string, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to marshal step function input: %w", err)
	}

	// Execution names must be unique per state machine; the KSUID guarantees it
	executionName := fmt.Sprintf("%s-%s-%s", input.ProjectID, input.DomainID, input.SK)

	result, err := s.sfnClient.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.stateMachineArn),
		Name:            aws.String(executionName),
		Input:           aws.String(string(inputJSON)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start step function execution: %w", err)
	}

	executionArn := aws.ToString(result.ExecutionArn)

	pk := rundao.NewPK(input.DomainID, input.ProjectID)
	if err := s.runs.StartExecution(ctx, pk, input.SK, executionArn); err != nil {
		return "", fmt.Errorf("failed to update run status: %w", err)
	}

	return executionArn, nil
}
