package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretSetOrderAndPartition(t *testing.T) {
	var set SecretSet
	set.Add("SAGEMAKER_PROJECT_ID", "p1")
	set.Add("ARTIFACT_BUCKET", "")
	set.AddOptional("GLUE_DATABASE", "glue_db")
	set.AddOptional("GLUE_TABLE", "")

	assert.Equal(t, []string{"SAGEMAKER_PROJECT_ID", "ARTIFACT_BUCKET", "GLUE_DATABASE", "GLUE_TABLE"}, set.Names())
	assert.Equal(t, []string{"ARTIFACT_BUCKET"}, set.MissingRequired())
}

func TestBucketFromS3Path(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"s3://amazon-sagemaker-111122223333-us-east-1/dzd_abc/p1", "amazon-sagemaker-111122223333-us-east-1"},
		{"my-bucket/some/prefix", "my-bucket"},
		{"s3://just-a-bucket", "just-a-bucket"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketFromS3Path(tt.path), tt.path)
	}
}

func TestRepoNameDerivation(t *testing.T) {
	assert.Equal(t, "p1-build-repo", BuildRepoName("p1"))
	assert.Equal(t, "p1-dzd_x-deploy-repo", DeployRepoName("p1", "dzd_x"))
}

func TestModelApprovalEvent(t *testing.T) {
	event := ModelApprovalEvent{
		ModelPackageGroupName: "p1-models",
		ApprovalStatus:        "Approved",
	}
	assert.True(t, event.Approved())
	assert.Equal(t, "p1", event.DerivedProjectID())

	rejected := ModelApprovalEvent{ModelPackageGroupName: "p1-models", ApprovalStatus: "Rejected"}
	assert.False(t, rejected.Approved())
}

func TestProjectContextCopyForward(t *testing.T) {
	base := ProjectContext{DomainID: "dzd_x", ProjectID: "p1"}
	resolved := base.WithS3Path("s3://bucket/dzd_x/p1")

	assert.Empty(t, base.S3Path, "WithS3Path must not mutate the receiver")
	assert.Equal(t, "s3://bucket/dzd_x/p1", resolved.S3Path)
	assert.Equal(t, "p1-models", resolved.ModelPackageGroupName())
	assert.Equal(t, "bucket", resolved.ArtifactBucket())
}
