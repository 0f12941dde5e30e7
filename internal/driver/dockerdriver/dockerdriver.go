// Package dockerdriver implements the workload driver contract against
// a local Docker daemon, the single-host alternative to k8sdriver,
// grounded on the original launcher/docker.py (STATUS_MAP, _str_to_micro
// CPU-quota conversion, create/remove/kill lifecycle).
package dockerdriver

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/driver"
	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/model"
)

// Driver implements driver.Driver against a single Docker host.
type Driver struct {
	Client dockerclient.ContainerAPIClient
	Node   string
}

var _ driver.Driver = (*Driver)(nil)

func New(client dockerclient.ContainerAPIClient, node string) *Driver {
	return &Driver{Client: client, Node: node}
}

func (d *Driver) NodeName() string { return d.Node }

func containerName(projectID, jobID string) string {
	return "scrapyd-" + projectID + "-" + jobID
}

// statusToState mirrors the original STATUS_MAP: created/scheduled are
// pending, exited is finished, everything else (running, paused) maps
// straight through to running.
func statusToState(status string) model.State {
	switch status {
	case "created", "scheduled":
		return model.StatePending
	case "exited":
		return model.StateFinished
	default:
		return model.StateRunning
	}
}

func (d *Driver) ListJobs(ctx context.Context, projectID string) ([]driver.JobSummary, error) {
	containers, err := d.listByLabel(ctx)
	if err != nil {
		return nil, err
	}
	var out []driver.JobSummary
	for _, c := range containers {
		pid := c.Labels[model.LabelProject]
		if projectID != "" && pid != projectID {
			continue
		}
		out = append(out, driver.JobSummary{
			ID:        c.Labels[model.LabelJobID],
			State:     statusToState(c.State),
			ProjectID: pid,
			Spider:    c.Labels[model.LabelSpider],
		})
	}
	return out, nil
}

func (d *Driver) listByLabel(ctx context.Context) ([]types.Container, error) {
	f := filters.NewArgs(filters.Arg("label", model.LabelJobID))
	containers, err := d.Client.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: f})
	if err != nil {
		return nil, goerrors.Wrap(err, "listing containers")
	}
	return containers, nil
}

func (d *Driver) Schedule(ctx context.Context, req driver.ScheduleRequest) error {
	name := containerName(req.ProjectID, req.JobID)

	if _, err := d.Client.ContainerInspect(ctx, name); err == nil {
		return &goerrors.AlreadyExistsError{JobID: req.JobID}
	} else if !dockerclient.IsErrNotFound(err) {
		return goerrors.Wrap(err, "checking for existing container")
	}

	cmd := []string{"crawl", req.Spider}
	for k, v := range req.Settings {
		cmd = append(cmd, "-s", k+"="+v)
	}
	for k, v := range req.Args {
		cmd = append(cmd, "-a", k+"="+v)
	}

	env := []string{
		"SCRAPY_PROJECT=" + req.ProjectID,
		"SCRAPYD_SPIDER=" + req.Spider,
		"SCRAPYD_JOB=" + req.JobID,
	}

	labels := map[string]string{
		model.LabelProject: req.ProjectID,
		model.LabelSpider:  req.Spider,
		model.LabelJobID:   req.JobID,
	}

	resources, err := toDockerResources(req.Resources)
	if err != nil {
		return goerrors.Wrap(err, "parsing resource quantities")
	}

	resp, err := d.Client.ContainerCreate(ctx, &container.Config{
		Image:  req.ProjectID + ":" + req.Version,
		Cmd:    cmd,
		Env:    env,
		Labels: labels,
	}, &container.HostConfig{Resources: resources}, nil, nil, name)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return &goerrors.NotFoundError{Kind: "image", ID: req.ProjectID + ":" + req.Version}
		}
		return goerrors.Wrap(err, "creating container")
	}

	if !req.StartSuspended {
		if err := d.Client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
			return goerrors.Wrap(err, "starting container")
		}
	}
	return nil
}

// toDockerResources converts the generic requests/limits maps into
// Docker's container.Resources, translating CPU quantities via
// strToMicroCPUs the way the original _str_to_micro did for
// cpu_quota/mem_limit.
func toDockerResources(r model.Resources) (container.Resources, error) {
	var out container.Resources
	if v, ok := r.Limits["cpu"]; ok {
		micro, err := strToMicroCPUs(v)
		if err != nil {
			return out, err
		}
		out.CPUQuota = micro
	}
	if v, ok := r.Limits["memory"]; ok {
		bytes, err := parseMemoryBytes(v)
		if err != nil {
			return out, err
		}
		out.Memory = bytes
	}
	return out, nil
}

// strToMicroCPUs mirrors _str_to_micro: "1" -> 1_000_000, "500m" ->
// 500_000 (Kubernetes-style millicpu suffix "m" is handled, any other
// suffix is an error).
func strToMicroCPUs(s string) (int64, error) {
	if strings.HasSuffix(s, "m") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "m"), 64)
		if err != nil {
			return 0, goerrors.Wrapf(err, "parsing millicpu quantity %q", s)
		}
		return int64(v * 1000), nil // milli-cores * 1000 = micro-cpu-units
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, goerrors.Wrapf(err, "parsing cpu quantity %q", s)
	}
	return int64(v * 1_000_000), nil
}

func parseMemoryBytes(s string) (int64, error) {
	mult := int64(1)
	trimmed := s
	switch {
	case strings.HasSuffix(s, "Ki"):
		mult, trimmed = 1024, strings.TrimSuffix(s, "Ki")
	case strings.HasSuffix(s, "Mi"):
		mult, trimmed = 1024*1024, strings.TrimSuffix(s, "Mi")
	case strings.HasSuffix(s, "Gi"):
		mult, trimmed = 1024*1024*1024, strings.TrimSuffix(s, "Gi")
	}
	v, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, goerrors.Wrapf(err, "parsing memory quantity %q", s)
	}
	return v * mult, nil
}

func (d *Driver) Cancel(ctx context.Context, projectID, jobID, signal string) (*model.State, error) {
	name := containerName(projectID, jobID)
	info, err := d.Client.ContainerInspect(ctx, name)
	if dockerclient.IsErrNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, goerrors.Wrap(err, "inspecting container")
	}

	state := statusToState(info.State.Status)
	switch state {
	case model.StateFinished:
		// no-op
	case model.StatePending:
		if err := d.Client.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: true}); err != nil {
			return &state, goerrors.Wrap(err, "removing container")
		}
	default: // running
		if err := d.Client.ContainerKill(ctx, name, signal); err != nil {
			return &state, goerrors.Wrap(err, "killing container")
		}
	}
	return &state, nil
}

func (d *Driver) Unsuspend(ctx context.Context, jobID string) (bool, error) {
	containers, err := d.listByLabel(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range containers {
		if c.Labels[model.LabelJobID] != jobID {
			continue
		}
		if statusToState(c.State) != model.StatePending {
			return false, nil
		}
		if err := d.Client.ContainerStart(ctx, c.ID, types.ContainerStartOptions{}); err != nil {
			return false, goerrors.Wrap(err, "starting container")
		}
		return true, nil
	}
	return false, nil
}

func (d *Driver) RunningCount(ctx context.Context) (int, error) {
	containers, err := d.listByLabel(ctx)
	if err != nil {
		return 0, err
	}
	return countRunning(containers), nil
}

// countRunning counts containers whose state maps to StateRunning.
// Pending (created/scheduled, suspended-for-docker) and finished
// (exited) containers must not inflate this count: max_proc admission
// caps true concurrency, not every container listByLabel still knows
// about.
func countRunning(containers []types.Container) int {
	count := 0
	for _, c := range containers {
		if statusToState(c.State) == model.StateRunning {
			count++
		}
	}
	return count
}

func (d *Driver) ListSuspended(ctx context.Context) ([]model.Workload, error) {
	containers, err := d.listByLabel(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Workload
	for _, c := range containers {
		if statusToState(c.State) != model.StatePending {
			continue
		}
		out = append(out, model.Workload{
			Name:      strings.TrimPrefix(firstName(c.Names), "/"),
			ProjectID: c.Labels[model.LabelProject],
			Spider:    c.Labels[model.LabelSpider],
			JobID:     c.Labels[model.LabelJobID],
			Suspended: true,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

