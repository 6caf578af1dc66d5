package lockdao

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/savaki/ddb/v2/ddbtest"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Data struct {
	DAO *DAO
}

func setup(t *testing.T) (ctx context.Context, data Data, cleanup func()) {
	ctx = context.Background()

	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion("us-west-2"),
		config.WithBaseEndpoint("http://localhost:8000"),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("blah", "blah", ""),
		),
	)
	assert.NoError(t, err)

	var (
		client    = dynamodb.NewFromConfig(cfg)
		db        = ddb.New(client)
		tableName = fmt.Sprintf("locks-test-%v", ksuid.New().String())
		table     = db.MustTable(tableName, Record{})
		dao       = New(client, tableName)
	)

	err = table.CreateTableIfNotExists(ctx)
	assert.NoError(t, err)

	return ctx, Data{DAO: dao}, func() {
		_ = table.DeleteTableIfExists(ctx)
	}
}

func TestDAO(t *testing.T) {
	ddbtest.WithTable[Data](t, setup, func(t *testing.T, ctx context.Context, data Data) {
		dao := data.DAO

		t.Run("Acquire_Success", func(t *testing.T) {
			runID := ksuid.New().String()

			record, acquired, err := dao.Acquire(ctx, AcquireInput{
				DomainID:  "dzd_acquire",
				ProjectID: "p-1",
				RunID:     runID,
			})
			require.NoError(t, err)
			assert.True(t, acquired)
			require.NotNil(t, record)
			assert.Equal(t, runID, record.RunID)
		})

		t.Run("Acquire_HeldByAnotherRun", func(t *testing.T) {
			first := ksuid.New().String()
			second := ksuid.New().String()

			_, acquired, err := dao.Acquire(ctx, AcquireInput{DomainID: "dzd_held", ProjectID: "p-1", RunID: first})
			require.NoError(t, err)
			require.True(t, acquired)

			record, acquired, err := dao.Acquire(ctx, AcquireInput{DomainID: "dzd_held", ProjectID: "p-1", RunID: second})
			require.NoError(t, err)
			assert.False(t, acquired, "conditional put must reject a second holder")
			assert.Nil(t, record)

			// the original holder is untouched
			existing, err := dao.Find(ctx, NewPK("dzd_held", "p-1"))
			require.NoError(t, err)
			require.NotNil(t, existing)
			assert.Equal(t, first, existing.RunID)
		})

		t.Run("Acquire_SameRunRetry", func(t *testing.T) {
			runID := ksuid.New().String()

			_, acquired, err := dao.Acquire(ctx, AcquireInput{DomainID: "dzd_retry", ProjectID: "p-1", RunID: runID})
			require.NoError(t, err)
			require.True(t, acquired)

			record, acquired, err := dao.Acquire(ctx, AcquireInput{DomainID: "dzd_retry", ProjectID: "p-1", RunID: runID})
			require.NoError(t, err)
			assert.True(t, acquired, "holder re-acquires on retry")
			require.NotNil(t, record)
			assert.Equal(t, runID, record.RunID)
		})

		t.Run("Release_ThenReacquire", func(t *testing.T) {
			first := ksuid.New().String()
			second := ksuid.New().String()

			_, acquired, err := dao.Acquire(ctx, AcquireInput{DomainID: "dzd_release", ProjectID: "p-1", RunID: first})
			require.NoError(t, err)
			require.True(t, acquired)

			err = dao.Release(ctx, ReleaseInput{DomainID: "dzd_release", ProjectID: "p-1", RunID: first})
			require.NoError(t, err)

			_, acquired, err = dao.Acquire(ctx, AcquireInput{DomainID: "dzd_release", ProjectID: "p-1", RunID: second})
			require.NoError(t, err)
			assert.True(t, acquired)
		})

		t.Run("Release_WrongHolder", func(t *testing.T) {
			holder := ksuid.New().String()

			_, acquired, err := dao.Acquire(ctx, AcquireInput{DomainID: "dzd_wrong", ProjectID: "p-1", RunID: holder})
			require.NoError(t, err)
			require.True(t, acquired)

			err = dao.Release(ctx, ReleaseInput{DomainID: "dzd_wrong", ProjectID: "p-1", RunID: ksuid.New().String()})
			assert.Error(t, err)
		})
	})
}
