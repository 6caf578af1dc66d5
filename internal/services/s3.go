package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
)

type S3Service struct {
	client *s3.Client
}

// NewS3Service creates an S3 wrapper
func NewS3Service(client *s3.Client) *S3Service {
	return &S3Service{client: client}
}

// BucketExists probes the artifact bucket. Used as a warn-only sanity check
// after location resolution, so NotFound is a normal answer, not an error.
func (s *S3Service) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		kind := apperrors.ClassifyAWS(err)
		if kind == apperrors.KindNotFound {
			return false, nil
		}
		return false, apperrors.New(kind, fmt.Errorf("failed to head bucket %s: %w", bucket, err))
	}
	return true, nil
}
