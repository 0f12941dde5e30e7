package s3

import (
	"testing"

	"github.com/aws/smithy-go"

	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
)

func TestClassifyUploadErrNoSuchBucketIsFatal(t *testing.T) {
	err := classifyUploadErr("key", &smithy.GenericAPIError{Code: "NoSuchBucket"})

	var fatal *goerrors.BackendFatalError
	if !goerrors.As(err, &fatal) {
		t.Fatalf("expected BackendFatalError, got %T: %v", err, err)
	}
}

func TestClassifyUploadErrInvalidBucketNameIsFatal(t *testing.T) {
	err := classifyUploadErr("key", &smithy.GenericAPIError{Code: "InvalidBucketName"})

	var fatal *goerrors.BackendFatalError
	if !goerrors.As(err, &fatal) {
		t.Fatalf("expected BackendFatalError, got %T: %v", err, err)
	}
}

func TestClassifyUploadErrThrottlingIsTransient(t *testing.T) {
	err := classifyUploadErr("key", &smithy.GenericAPIError{Code: "SlowDown"})

	var transient *goerrors.BackendTransientError
	if !goerrors.As(err, &transient) {
		t.Fatalf("expected BackendTransientError, got %T: %v", err, err)
	}
}

func TestClassifyUploadErrUnrecognizedFallsBackToUploadError(t *testing.T) {
	err := classifyUploadErr("key", goerrors.New("connection reset"))

	var upload *goerrors.UploadError
	if !goerrors.As(err, &upload) {
		t.Fatalf("expected UploadError, got %T: %v", err, err)
	}
}
