package gcs

import (
	"testing"

	"google.golang.org/api/googleapi"

	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
)

func TestClassifyUploadErrBucketNotFoundIsFatal(t *testing.T) {
	err := classifyUploadErr("key", &googleapi.Error{Code: 404})

	var fatal *goerrors.BackendFatalError
	if !goerrors.As(err, &fatal) {
		t.Fatalf("expected BackendFatalError, got %T: %v", err, err)
	}
}

func TestClassifyUploadErrBadRequestIsFatal(t *testing.T) {
	err := classifyUploadErr("key", &googleapi.Error{Code: 400})

	var fatal *goerrors.BackendFatalError
	if !goerrors.As(err, &fatal) {
		t.Fatalf("expected BackendFatalError, got %T: %v", err, err)
	}
}

func TestClassifyUploadErrServiceUnavailableIsTransient(t *testing.T) {
	err := classifyUploadErr("key", &googleapi.Error{Code: 503})

	var transient *goerrors.BackendTransientError
	if !goerrors.As(err, &transient) {
		t.Fatalf("expected BackendTransientError, got %T: %v", err, err)
	}
}

func TestClassifyUploadErrUnrecognizedFallsBackToUploadError(t *testing.T) {
	err := classifyUploadErr("key", goerrors.New("disk full"))

	var upload *goerrors.UploadError
	if !goerrors.As(err, &upload) {
		t.Fatalf("expected UploadError, got %T: %v", err, err)
	}
}
