// Package errors defines the error kinds from the error-handling design:
// Config, BackendTransient, BackendFatal, AlreadyExists, NotFound,
// UploadError and SubscriberFailure. Sentinel types follow the shape of
// kube.ConflictError / kube.UnprocessableEntityError from the driver
// layer this package was adapted from: small structs satisfying `error`,
// checked with errors.As rather than sentinel values, so extra context
// (the job id, the backend message) travels with the error.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Wrap and Wrapf re-export pkg/errors so callers in this module import
// a single errors package for both kinds and wrapping.
var (
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	As     = errors.As
	Is     = errors.Is
	New    = errors.New
	Cause  = errors.Cause
	Errorf = errors.Errorf
)

// ConfigError is fatal at startup: missing required keys, unresolvable
// ${ENV} placeholders, unknown driver/compression identifiers.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

// BackendTransientError wraps recoverable backend API errors: network
// failures, timeouts, resource-version-too-old. Retried with backoff by
// the caller; never surfaced to HTTP clients directly.
type BackendTransientError struct {
	Op  string
	Err error
}

func (e *BackendTransientError) Error() string {
	return fmt.Sprintf("backend transient error during %s: %v", e.Op, e.Err)
}

func (e *BackendTransientError) Unwrap() error { return e.Err }

// BackendFatalError wraps authentication/permission failures: logged,
// the affected request fails with a 5xx.
type BackendFatalError struct {
	Op  string
	Err error
}

func (e *BackendFatalError) Error() string {
	return fmt.Sprintf("backend fatal error during %s: %v", e.Op, e.Err)
}

func (e *BackendFatalError) Unwrap() error { return e.Err }

// AlreadyExistsError is returned by Schedule when a workload with the
// same job_id already exists in the namespace.
type AlreadyExistsError struct {
	JobID string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("job %q already exists", e.JobID)
}

// NotFoundError is returned when a referenced project, version, job or
// image cannot be located.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// UploadError is a local upload failure. The local file is retained;
// retry is driven by the next terminal event, not automatically.
type UploadError struct {
	JobID string
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed for job %q: %v", e.JobID, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// SubscriberError wraps a panic/error raised inside a subscriber
// callback. It is logged and isolated; dispatch to other subscribers
// continues.
type SubscriberError struct {
	Err error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber callback failed: %v", e.Err)
}

func (e *SubscriberError) Unwrap() error { return e.Err }
