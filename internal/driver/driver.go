// Package driver defines the uniform workload driver contract
// implemented by the Kubernetes and Docker backends: create, list,
// cancel, suspend/unsuspend container workloads, and translate
// backend-specific state into the common lifecycle in package model.
package driver

import (
	"context"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/model"
)

// JobSummary is the list_jobs() projection: {id, state, project,
// spider, start_time?, end_time?}.
type JobSummary struct {
	ID        string
	State     model.State
	ProjectID string
	Spider    string
	StartTime *string
	EndTime   *string
}

// Driver is the contract both the Kubernetes and Docker backends
// satisfy.
type Driver interface {
	// ListJobs returns an ordered sequence of job summaries, optionally
	// filtered to a single project.
	ListJobs(ctx context.Context, projectID string) ([]JobSummary, error)

	// Schedule creates a workload labeled with the identifying triple.
	// Returns an *errors.AlreadyExistsError if job_id collides with an
	// existing workload in the namespace.
	Schedule(ctx context.Context, req ScheduleRequest) error

	// Cancel returns the previous state, or nil if no such job exists.
	Cancel(ctx context.Context, projectID, jobID, signal string) (*model.State, error)

	// Unsuspend clears the suspend flag / starts the created container.
	// Returns false if the job could not be found or was already
	// unsuspended.
	Unsuspend(ctx context.Context, jobID string) (bool, error)

	// RunningCount counts workloads that are neither suspended nor
	// terminal.
	RunningCount(ctx context.Context) (int, error)

	// ListSuspended returns the subset of workloads whose suspend flag
	// is set, in no particular order — callers needing FIFO order sort
	// by CreatedAt themselves (see internal/scheduler).
	ListSuspended(ctx context.Context) ([]model.Workload, error)

	// NodeName identifies the node/host serving requests, surfaced in
	// every HTTP JSON response.
	NodeName() string
}

// ScheduleRequest carries everything needed to create a workload.
type ScheduleRequest struct {
	ProjectID      string
	Version        string
	Spider         string
	JobID          string
	Settings       map[string]string
	Args           map[string]string
	Resources      model.Resources
	EnvConfigRef   string
	EnvSecretRef   string
	StartSuspended bool
}
