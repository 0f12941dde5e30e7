// Package s3 is a Storage provider backed by Amazon S3 (or any
// S3-compatible endpoint), exercising the AWS SDK for Go v2 as the
// out-of-pack domain dependency for the object storage providers the
// configuration schema names alongside GCS.
package s3

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
)

// Storage uploads job logs to an S3 bucket.
type Storage struct {
	client *s3.Client
	bucket string
}

// New constructs an s3.Storage for the given bucket and region.
func New(ctx context.Context, bucket, region string) (*Storage, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, goerrors.Wrap(err, "loading AWS config")
	}

	client := s3.NewFromConfig(cfg)
	return &Storage{client: client, bucket: bucket}, nil
}

// Container returns the configured bucket name.
func (s *Storage) Container() string { return s.bucket }

// Upload streams the file at localPath to objectKey.
func (s *Storage) Upload(ctx context.Context, localPath, objectKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return goerrors.Wrapf(err, "opening %s for S3 upload", localPath)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   f,
	})
	if err != nil {
		return classifyUploadErr(objectKey, err)
	}
	return nil
}

// classifyUploadErr maps an S3 API error to the upload error kinds from
// the error-handling design, the S3 counterpart of libcloud_driver.py's
// ContainerDoesNotExistError/InvalidContainerNameError split: a missing
// or badly-named bucket is a fatal misconfiguration, throttling and
// internal server errors are transient, anything else is a plain
// upload failure.
func classifyUploadErr(objectKey string, err error) error {
	var apiErr smithy.APIError
	if goerrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return &goerrors.BackendFatalError{Op: "s3 upload: bucket not found", Err: err}
		case "InvalidBucketName", "AuthorizationHeaderMalformed":
			return &goerrors.BackendFatalError{Op: "s3 upload: invalid bucket name", Err: err}
		case "SlowDown", "RequestTimeout", "RequestTimeoutException", "InternalError", "ServiceUnavailable", "Throttling", "ThrottlingException":
			return &goerrors.BackendTransientError{Op: "s3 upload", Err: err}
		}
	}
	return &goerrors.UploadError{JobID: objectKey, Err: err}
}

// ExistsWithPrefix reports whether any object under prefix exists.
func (s *Storage) ExistsWithPrefix(ctx context.Context, prefix string) (bool, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, classifyUploadErr(prefix, err)
	}
	return len(out.Contents) > 0, nil
}
