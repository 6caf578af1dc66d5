package rundao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
)

// TableName derives the runs table name from the environment
func TableName(env string) string {
	return fmt.Sprintf("%s-mlops-provisioner-runs", env)
}

// PK represents a DynamoDB partition key in format {domain}/{project}
// Example: dzd_abc/proj-123
type PK string

// NewPK creates a new partition key from domain and project identifiers
func NewPK(domainID, projectID string) PK {
	return PK(fmt.Sprintf("%s/%s", domainID, projectID))
}

// ParsePK parses a partition key into its domain and project components
func ParsePK(pk PK) (domainID, projectID string, err error) {
	s := string(pk)
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid PK format: %s, expected {domain}/{project}", s)
	}
	return parts[0], parts[1], nil
}

// String returns the string representation of the partition key
func (pk PK) String() string {
	return string(pk)
}

// RunStatus represents the current status of a provisioning run
type RunStatus string

const (
	RunStatusPending    RunStatus = "PENDING"
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusFailed     RunStatus = "FAILED"
)

// Record represents one provisioning run. Only run state and completed
// action names are persisted; the project context itself never is.
type Record struct {
	PK               PK        `ddb:"hash" dynamodbav:"pk"`  // {domain}/{project}
	SK               string    `ddb:"range" dynamodbav:"sk"` // KSUID
	Trigger          string    `dynamodbav:"trigger,omitempty"` // project-created or model-approval
	Status           RunStatus `dynamodbav:"status,omitempty"`
	State            string    `dynamodbav:"state,omitempty"` // current orchestrator state
	CompletedActions []string  `dynamodbav:"completed_actions,omitempty"`
	ExecutionArn     *string   `dynamodbav:"execution_arn,omitempty"`
	ErrorMsg         *string   `dynamodbav:"error_msg,omitempty"`
	CreatedAt        int64     `dynamodbav:"created_at,omitempty"`
	FinishedAt       *int64    `dynamodbav:"finished_at,omitempty"`
	UpdatedAt        int64     `dynamodbav:"updated_at,omitempty"`
}

// CreateInput contains the fields needed to create a new run record
type CreateInput struct {
	DomainID  string
	ProjectID string
	SK        string // KSUID
	Trigger   string
}

// DAO provides data access operations for provisioning run records
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// Create creates a new run record with initial status PENDING
func (d *DAO) Create(ctx context.Context, input CreateInput) (Record, error) {
	now := time.Now().Unix()

	record := Record{
		PK:        NewPK(input.DomainID, input.ProjectID),
		SK:        input.SK,
		Trigger:   input.Trigger,
		Status:    RunStatusPending,
		State:     "Init",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := d.table.Put(&record).RunWithContext(ctx); err != nil {
		return Record{}, fmt.Errorf("failed to create run record: %w", err)
	}

	return record, nil
}

// Find retrieves a run record by partition and sort key
func (d *DAO) Find(ctx context.Context, pk PK, sk string) (Record, error) {
	var record Record

	err := d.table.Get(pk.String()).
		Range(sk).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return Record{}, fmt.Errorf("run record not found: %s:%s", pk, sk)
		}
		return Record{}, fmt.Errorf("failed to find run record: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return Record{}, fmt.Errorf("run record not found: %s:%s", pk, sk)
	}

	return record, nil
}

// StartExecution marks the run IN_PROGRESS and attaches the Step Functions
// execution ARN
func (d *DAO) StartExecution(ctx context.Context, pk PK, sk, executionArn string) error {
	now := time.Now().Unix()

	err := d.table.Update(pk).
		Range(sk).
		Set("#Status = ?", string(RunStatusInProgress)).
		Set("#ExecutionArn = ?", executionArn).
		Set("#UpdatedAt = ?", now).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to start execution: %w", err)
	}

	return nil
}

// UpdateState records the orchestrator state and the actions completed so far
func (d *DAO) UpdateState(ctx context.Context, pk PK, sk, state string, completedActions []string) error {
	now := time.Now().Unix()

	update := d.table.Update(pk).
		Range(sk).
		Set("#State = ?", state).
		Set("#Status = ?", string(RunStatusInProgress)).
		Set("#UpdatedAt = ?", now)

	if len(completedActions) > 0 {
		update = update.Set("#CompletedActions = ?", completedActions)
	}

	if err := update.RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}

	return nil
}

// Complete marks the run COMPLETED
func (d *DAO) Complete(ctx context.Context, pk PK, sk string, completedActions []string) error {
	return d.finish(ctx, pk, sk, RunStatusCompleted, completedActions, nil)
}

// Fail marks the run FAILED with an error message. The message carries
// step/kind/key details, never secret values.
func (d *DAO) Fail(ctx context.Context, pk PK, sk, errorMsg string, completedActions []string) error {
	return d.finish(ctx, pk, sk, RunStatusFailed, completedActions, &errorMsg)
}

func (d *DAO) finish(ctx context.Context, pk PK, sk string, status RunStatus, completedActions []string, errorMsg *string) error {
	now := time.Now().Unix()

	update := d.table.Update(pk).
		Range(sk).
		Set("#Status = ?", string(status)).
		Set("#UpdatedAt = ?", now).
		Set("#FinishedAt = ?", now)

	if len(completedActions) > 0 {
		update = update.Set("#CompletedActions = ?", completedActions)
	}
	if errorMsg != nil {
		update = update.Set("#ErrorMsg = ?", *errorMsg)
	}

	if err := update.RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to finish run record: %w", err)
	}

	return nil
}

// Query returns all runs for a given domain/project partition key
func (d *DAO) Query(ctx context.Context, pk PK) ([]Record, error) {
	var records []Record

	err := d.table.Query("#PK = ?", pk.String()).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	return records, nil
}
