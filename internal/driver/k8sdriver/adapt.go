package k8sdriver

import (
	batchv1 "k8s.io/api/batch/v1"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/model"
)

// JobName derives the backend workload name from the identifying
// triple, mirroring the original _k8s_job_name: '-'.join(('scrapyd',
// project, job_id)).
func JobName(projectID, jobID string) string {
	return "scrapyd-" + projectID + "-" + jobID
}

// AdaptJob converts a batch/v1 Job into the internal Workload record,
// the thin adapter the duck-typed-event design note calls for: nothing
// downstream of this function touches a k8s.io/api type directly.
func AdaptJob(job *batchv1.Job) model.Workload {
	w := model.Workload{
		Name:      job.Name,
		Namespace: job.Namespace,
		ProjectID: job.Labels[model.LabelProject],
		Spider:    job.Labels[model.LabelSpider],
		JobID:     job.Labels[model.LabelJobID],
		CreatedAt: job.CreationTimestamp.Time,
	}
	if job.Spec.Suspend != nil {
		w.Suspended = *job.Spec.Suspend
	}
	w.Succeeded = job.Status.Succeeded
	w.Failed = job.Status.Failed
	w.Ready = job.Status.Ready != nil && *job.Status.Ready > 0

	switch {
	case w.Succeeded > 0:
		w.Phase = "Succeeded"
	case w.Failed > 0:
		w.Phase = "Failed"
	case w.Ready:
		w.Phase = "Running"
	default:
		w.Phase = "Pending"
	}
	return w
}
