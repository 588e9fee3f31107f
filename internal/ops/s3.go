package ops

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API abstracts the S3 PutObject operation for testability.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader implements ObjectUploader against S3.
//
// Compile-time assertion that S3Uploader implements ObjectUploader.
var _ ObjectUploader = (*S3Uploader)(nil)

type S3Uploader struct {
	client S3API
}

// NewS3Uploader creates an S3Uploader backed by the given client.
func NewS3Uploader(client S3API) *S3Uploader {
	return &S3Uploader{client: client}
}

// PutObject writes one object. The archiver only ever writes gzip payloads,
// so the content type is fixed.
func (u *S3Uploader) PutObject(ctx context.Context, bucket, key string, body []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("putting s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
