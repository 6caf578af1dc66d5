package lockdao

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/savaki/ddb/v2"
)

const (
	lockSK       = "LOCK"
	lockTTLHours = 1 // Auto-expire stale locks after 1 hour
)

// TableName derives the locks table name from the environment
func TableName(env string) string {
	return fmt.Sprintf("%s-mlops-provisioner-locks", env)
}

// PK represents the partition key: {domain}/{project}
type PK string

// NewPK creates a partition key from domain and project identifiers
func NewPK(domainID, projectID string) PK {
	return PK(fmt.Sprintf("%s/%s", domainID, projectID))
}

// ParsePK parses a partition key into domain and project components
func ParsePK(pk PK) (domainID, projectID string, err error) {
	s := string(pk)
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid PK format: %s, expected {domain}/{project}", s)
	}
	return parts[0], parts[1], nil
}

// String returns the string representation
func (pk PK) String() string {
	return string(pk)
}

// Record represents a provisioning run lock
type Record struct {
	PK         PK     `ddb:"hash" dynamodbav:"pk"`  // {domain}/{project}
	SK         string `ddb:"range" dynamodbav:"sk"` // Always "LOCK"
	RunID      string `dynamodbav:"run_id"`         // KSUID of the run holding the lock
	AcquiredAt int64  `dynamodbav:"acquired_at"`    // Unix timestamp when lock was acquired
	TTL        int64  `dynamodbav:"ttl"`            // Unix timestamp for DynamoDB TTL expiry
}

// AcquireInput contains fields for acquiring a run lock
type AcquireInput struct {
	DomainID  string
	ProjectID string
	RunID     string // Run KSUID
}

// ReleaseInput contains fields for releasing a run lock
type ReleaseInput struct {
	DomainID  string
	ProjectID string
	RunID     string // Must match lock holder
}

// DAO provides data access operations for provisioning run locks
type DAO struct {
	db        *ddb.DDB
	table     *ddb.Table
	client    *dynamodb.Client
	tableName string
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:        db,
		table:     table,
		client:    client,
		tableName: tableName,
	}
}

// Acquire attempts to acquire the per-project run lock with a single
// conditional put, so two racing runs cannot both observe no lock and both
// win. The condition also lets the current holder re-acquire on retry.
// Returns the lock record if acquired, nil if already held by another run.
func (d *DAO) Acquire(ctx context.Context, input AcquireInput) (*Record, bool, error) {
	pk := NewPK(input.DomainID, input.ProjectID)

	now := time.Now().Unix()
	record := &Record{
		PK:         pk,
		SK:         lockSK,
		RunID:      input.RunID,
		AcquiredAt: now,
		TTL:        now + (lockTTLHours * 3600),
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal lock record: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk) OR run_id = :run_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":run_id": &types.AttributeValueMemberS{Value: input.RunID},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to create lock: %w", err)
	}

	return record, true, nil
}

// Find retrieves the lock record for a project, nil if not held
func (d *DAO) Find(ctx context.Context, pk PK) (*Record, error) {
	var record Record

	err := d.table.Get(pk.String()).
		Range(lockSK).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return nil, nil
	}

	return &record, nil
}

// Release releases the run lock. Only succeeds when the lock is held by the
// specified run, so a slow concurrent run cannot release someone else's lock.
func (d *DAO) Release(ctx context.Context, input ReleaseInput) error {
	pk := NewPK(input.DomainID, input.ProjectID)

	existing, err := d.Find(ctx, pk)
	if err != nil {
		return fmt.Errorf("failed to check lock: %w", err)
	}

	if existing == nil {
		// Already released or expired
		return nil
	}

	if existing.RunID != input.RunID {
		return fmt.Errorf("lock not held by run %s (held by %s)", input.RunID, existing.RunID)
	}

	err = d.table.Delete(pk.String()).
		Range(lockSK).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}

	return nil
}
