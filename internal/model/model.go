// Package model holds the backend-independent records shared by every
// component of the control plane: driver, watcher, scheduler and log
// pipeline all work against these types rather than any Kubernetes or
// Docker SDK type directly.
package model

import "time"

// State is the driver-independent job lifecycle state.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateFinished State = "finished"
)

const (
	// LabelProject, LabelSpider and LabelJobID are the identifying
	// triple carried on every workload created by a driver.
	LabelProject = "org.scrapy.project"
	LabelSpider  = "org.scrapy.spider"
	LabelJobID   = "org.scrapy.job_id"

	// LabelSpiders is read from image label metadata, not carried on
	// workloads.
	LabelSpiders = "org.scrapy.spiders"
)

// Project is an immutable configuration entry describing where to find
// a project's images and what resources/environment its jobs get.
type Project struct {
	ID              string
	ImageRepository string
	EnvConfigRef    string
	EnvSecretRef    string
	Resources       Resources
}

// Resources is the layered requests/limits map resolved by config.
type Resources struct {
	Requests map[string]string
	Limits   map[string]string
}

// Job is the unit of work tracked by list_jobs/schedule/cancel.
type Job struct {
	ID         string
	ProjectID  string
	Spider     string
	Version    string
	Settings   map[string]string
	Args       map[string]string
	State      State
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// EventType mirrors the three Kubernetes watch event kinds. Only the
// Kubernetes watcher produces events; the Docker backend produces none.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventDeleted  EventType = "DELETED"
)

// Workload is the thin internal record populated by each backend's
// adapter (k8sdriver, dockerdriver) so that subscribers never touch a
// backend SDK type directly.
type Workload struct {
	Name      string
	Namespace string
	ProjectID string
	Spider    string
	JobID     string
	Phase     string // backend-native phase string, e.g. "Running", "Succeeded"
	Suspended bool
	Ready     bool
	Succeeded int32
	Failed    int32
	CreatedAt time.Time
}

// State translates a workload's backend phase into the common lifecycle.
func (w Workload) State() State {
	switch {
	case w.Succeeded > 0 || w.Failed > 0:
		return StateFinished
	case w.Ready:
		return StateRunning
	default:
		return StatePending
	}
}

// Event is what the Resource Watcher dispatches to subscribers.
type Event struct {
	Type            EventType
	Object          Workload
	ResourceVersion string
}

// HasJobIDLabel reports whether the event's workload carries the
// job-id identifying label; the admission scheduler and log pipeline
// both ignore events that lack it.
func (e Event) HasJobIDLabel() bool {
	return e.Object.JobID != ""
}
