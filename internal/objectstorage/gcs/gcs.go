// Package gcs is a Storage provider backed by Google Cloud Storage,
// grounded on the teacher's gcsupload package (which uploads build
// artifacts to a configured GCS bucket) but narrowed to the single
// concern this adapter needs: pushing one log file to one object key
// and probing for existing objects under a prefix.
package gcs

import (
	"context"
	"io"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
)

// Storage uploads job logs to a Google Cloud Storage bucket.
type Storage struct {
	client *storage.Client
	bucket string
}

// New constructs a gcs.Storage. credentialsFile may be empty to use
// application-default credentials.
func New(ctx context.Context, bucket, credentialsFile string) (*Storage, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, goerrors.Wrap(err, "constructing GCS client")
	}
	return &Storage{client: client, bucket: bucket}, nil
}

// Container returns the configured bucket name.
func (s *Storage) Container() string { return s.bucket }

// Upload streams the file at localPath to objectKey.
func (s *Storage) Upload(ctx context.Context, localPath, objectKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return goerrors.Wrapf(err, "opening %s for GCS upload", localPath)
	}
	defer f.Close()

	w := s.client.Bucket(s.bucket).Object(objectKey).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return classifyUploadErr(objectKey, err)
	}
	if err := w.Close(); err != nil {
		return classifyUploadErr(objectKey, err)
	}
	return nil
}

// classifyUploadErr maps a GCS upload failure to the upload error kinds
// from the error-handling design, mirroring libcloud_driver.py's split
// between ContainerDoesNotExistError/InvalidContainerNameError (fatal
// misconfiguration) and transient driver errors. Bucket-not-found and
// bad-request responses are a misconfigured container, not worth
// retrying; 429/5xx responses are transient backend trouble; anything
// else falls back to a plain upload failure.
func classifyUploadErr(objectKey string, err error) error {
	var gerr *googleapi.Error
	if goerrors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return &goerrors.BackendFatalError{Op: "gcs upload: bucket not found", Err: err}
		case http.StatusBadRequest:
			return &goerrors.BackendFatalError{Op: "gcs upload: invalid bucket name", Err: err}
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return &goerrors.BackendTransientError{Op: "gcs upload", Err: err}
		}
	}
	return &goerrors.UploadError{JobID: objectKey, Err: err}
}

// ExistsWithPrefix reports whether any object under prefix exists.
func (s *Storage) ExistsWithPrefix(ctx context.Context, prefix string) (bool, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	_, err := it.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, classifyUploadErr(prefix, err)
	}
	return true, nil
}
