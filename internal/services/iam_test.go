package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertArtifactBucketPolicy_RequiresAccountAndRegion(t *testing.T) {
	svc := NewIAMService(nil, nil)

	err := svc.UpsertArtifactBucketPolicy(context.Background(),
		"arn:aws:iam::111122223333:role/pipeline", "s3://bucket/projects/p-123", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account")
}
