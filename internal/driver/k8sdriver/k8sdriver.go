// Package k8sdriver implements the workload driver contract against
// Kubernetes Batch Jobs and their Pods, grounded on the teacher's
// plank.Controller.startPod/kube.Client method surface but built on a
// real k8s.io/client-go typed clientset instead of a hand-rolled REST
// client.
package k8sdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	jsonpatch "github.com/evanphx/json-patch"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/driver"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/driver/execkill"
	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/model"
)

// LabelSelector selects every workload this control plane manages:
// anything carrying the job-id label.
const LabelSelector = model.LabelJobID

// Driver implements driver.Driver against a single namespace.
type Driver struct {
	Client     kubernetes.Interface
	RestConfig *rest.Config
	Namespace  string
	Node       string
	PullSecret string
}

var _ driver.Driver = (*Driver)(nil)

func (d *Driver) NodeName() string { return d.Node }

// ListJobs lists every workload, optionally filtered to one project.
func (d *Driver) ListJobs(ctx context.Context, projectID string) ([]driver.JobSummary, error) {
	jobs, err := d.Client.BatchV1().Jobs(d.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: LabelSelector,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, "listing jobs")
	}

	var out []driver.JobSummary
	for i := range jobs.Items {
		job := &jobs.Items[i]
		w := AdaptJob(job)
		if projectID != "" && w.ProjectID != projectID {
			continue
		}
		summary := driver.JobSummary{
			ID:        w.JobID,
			State:     w.State(),
			ProjectID: w.ProjectID,
			Spider:    w.Spider,
		}
		if job.Status.StartTime != nil {
			s := job.Status.StartTime.Time.Format("2006-01-02T15:04:05")
			summary.StartTime = &s
		}
		if job.Status.CompletionTime != nil {
			s := job.Status.CompletionTime.Time.Format("2006-01-02T15:04:05")
			summary.EndTime = &s
		}
		out = append(out, summary)
	}
	return out, nil
}

// Schedule creates a suspended or immediately-runnable Job labeled with
// the identifying triple, translating settings/args to -s/-a CLI flags
// the way the original schedule() flattened them via
// native_stringify_dict.
func (d *Driver) Schedule(ctx context.Context, req driver.ScheduleRequest) error {
	name := JobName(req.ProjectID, req.JobID)

	if _, err := d.Client.BatchV1().Jobs(d.Namespace).Get(ctx, name, metav1.GetOptions{}); err == nil {
		return &goerrors.AlreadyExistsError{JobID: req.JobID}
	} else if !apierrors.IsNotFound(err) {
		return goerrors.Wrap(err, "checking for existing job")
	}

	args := []string{"crawl", req.Spider}
	for k, v := range req.Settings {
		args = append(args, "-s", k+"="+v)
	}
	for k, v := range req.Args {
		args = append(args, "-a", k+"="+v)
	}

	labels := map[string]string{
		model.LabelProject: req.ProjectID,
		model.LabelSpider:  req.Spider,
		model.LabelJobID:   req.JobID,
	}

	var envFrom []corev1.EnvFromSource
	if req.EnvConfigRef != "" {
		envFrom = append(envFrom, corev1.EnvFromSource{
			ConfigMapRef: &corev1.ConfigMapEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: req.EnvConfigRef},
			},
		})
	}
	if req.EnvSecretRef != "" {
		envFrom = append(envFrom, corev1.EnvFromSource{
			SecretRef: &corev1.SecretEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: req.EnvSecretRef},
			},
		})
	}

	resources, err := resourceRequirements(req.Resources)
	if err != nil {
		return goerrors.Wrap(err, "parsing resource quantities")
	}

	var pullSecrets []corev1.LocalObjectReference
	if d.PullSecret != "" {
		pullSecrets = append(pullSecrets, corev1.LocalObjectReference{Name: d.PullSecret})
	}

	suspend := req.StartSuspended
	backoffLimit := int32(0)
	completions := int32(1)
	shareProcessNamespace := true

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: d.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			Suspend:      &suspend,
			Completions:  &completions,
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					ShareProcessNamespace: &shareProcessNamespace,
					RestartPolicy:         corev1.RestartPolicyNever,
					ImagePullSecrets:      pullSecrets,
					Containers: []corev1.Container{
						{
							Name:      "spider",
							Image:     req.ProjectID + ":" + req.Version,
							Args:      args,
							EnvFrom:   envFrom,
							Resources: resources,
							Env: []corev1.EnvVar{
								{Name: "SCRAPY_PROJECT", Value: req.ProjectID},
								{Name: "SCRAPYD_SPIDER", Value: req.Spider},
								{Name: "SCRAPYD_JOB", Value: req.JobID},
							},
						},
					},
				},
			},
		},
	}

	if _, err := d.Client.BatchV1().Jobs(d.Namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return &goerrors.AlreadyExistsError{JobID: req.JobID}
		}
		if apierrors.IsNotFound(err) {
			return &goerrors.NotFoundError{Kind: "image", ID: job.Spec.Template.Spec.Containers[0].Image}
		}
		return goerrors.Wrap(err, "creating job")
	}
	return nil
}

func resourceRequirements(r model.Resources) (corev1.ResourceRequirements, error) {
	var out corev1.ResourceRequirements
	reqs, err := toResourceList(r.Requests)
	if err != nil {
		return out, err
	}
	lims, err := toResourceList(r.Limits)
	if err != nil {
		return out, err
	}
	out.Requests = reqs
	out.Limits = lims
	return out, nil
}

func toResourceList(m map[string]string) (corev1.ResourceList, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := corev1.ResourceList{}
	for k, v := range m {
		qty, err := resourceQuantity(v)
		if err != nil {
			return nil, goerrors.Wrapf(err, "parsing resource quantity %s=%s", k, v)
		}
		out[corev1.ResourceName(k)] = qty
	}
	return out, nil
}

// Cancel returns the previous state, or nil if the job does not exist.
func (d *Driver) Cancel(ctx context.Context, projectID, jobID, signal string) (*model.State, error) {
	name := JobName(projectID, jobID)
	job, err := d.Client.BatchV1().Jobs(d.Namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, goerrors.Wrap(err, "getting job")
	}

	w := AdaptJob(job)
	state := w.State()

	switch state {
	case model.StateFinished:
		// no-op
	case model.StateRunning:
		pod, err := d.findPod(ctx, name)
		if err != nil {
			return &state, err
		}
		if pod != nil {
			if err := execkill.Broadcast(ctx, d.Client, d.RestConfig, d.Namespace, pod.Name, signal); err != nil {
				return &state, err
			}
		}
	default: // pending
		propagation := metav1.DeletePropagationForeground
		grace := int64(0)
		err := d.Client.BatchV1().Jobs(d.Namespace).Delete(ctx, name, metav1.DeleteOptions{
			PropagationPolicy:  &propagation,
			GracePeriodSeconds: &grace,
		})
		if err != nil && !apierrors.IsNotFound(err) {
			return &state, goerrors.Wrap(err, "deleting job")
		}
	}
	return &state, nil
}

func (d *Driver) findPod(ctx context.Context, jobName string) (*corev1.Pod, error) {
	pods, err := d.Client.CoreV1().Pods(d.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + jobName,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, "listing pods")
	}
	if len(pods.Items) == 0 {
		return nil, nil
	}
	return &pods.Items[0], nil
}

// Unsuspend patches spec.suspend to false, building the merge patch
// dynamically via evanphx/json-patch the way kubectl-style clients
// diff two in-memory objects rather than hand-writing a raw JSON blob.
func (d *Driver) Unsuspend(ctx context.Context, jobID string) (bool, error) {
	jobs, err := d.Client.BatchV1().Jobs(d.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", model.LabelJobID, jobID),
	})
	if err != nil {
		return false, goerrors.Wrap(err, "finding job to unsuspend")
	}
	if len(jobs.Items) == 0 {
		return false, nil
	}
	job := &jobs.Items[0]
	if job.Spec.Suspend == nil || !*job.Spec.Suspend {
		return false, nil
	}

	original, err := marshalJob(job)
	if err != nil {
		return false, err
	}
	modified := job.DeepCopy()
	f := false
	modified.Spec.Suspend = &f
	modifiedBytes, err := marshalJob(modified)
	if err != nil {
		return false, err
	}

	patch, err := jsonpatch.CreateMergePatch(original, modifiedBytes)
	if err != nil {
		return false, goerrors.Wrap(err, "creating merge patch")
	}

	if _, err := d.Client.BatchV1().Jobs(d.Namespace).Patch(ctx, job.Name, types.MergePatchType, patch, metav1.PatchOptions{}); err != nil {
		return false, goerrors.Wrap(err, "patching job to unsuspend")
	}
	return true, nil
}

// RunningCount counts workloads that are neither suspended nor terminal.
func (d *Driver) RunningCount(ctx context.Context) (int, error) {
	jobs, err := d.Client.BatchV1().Jobs(d.Namespace).List(ctx, metav1.ListOptions{LabelSelector: LabelSelector})
	if err != nil {
		return 0, goerrors.Wrap(err, "listing jobs")
	}
	count := 0
	for i := range jobs.Items {
		w := AdaptJob(&jobs.Items[i])
		if isActive(w) {
			count++
		}
	}
	return count, nil
}

// ListSuspended returns suspended workloads.
func (d *Driver) ListSuspended(ctx context.Context) ([]model.Workload, error) {
	jobs, err := d.Client.BatchV1().Jobs(d.Namespace).List(ctx, metav1.ListOptions{LabelSelector: LabelSelector})
	if err != nil {
		return nil, goerrors.Wrap(err, "listing jobs")
	}
	var out []model.Workload
	for i := range jobs.Items {
		w := AdaptJob(&jobs.Items[i])
		if w.Suspended {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func isActive(w model.Workload) bool {
	return !w.Suspended && w.Succeeded == 0 && w.Failed == 0
}

func marshalJob(j *batchv1.Job) ([]byte, error) {
	return json.Marshal(j)
}

// resourceQuantity parses a Kubernetes quantity string (e.g. "500m",
// "256Mi").
func resourceQuantity(s string) (resource.Quantity, error) {
	return resource.ParseQuantity(s)
}
