package repository

import (
	"context"
	"os/exec"
	"strings"

	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
)

// Local probes the local Docker image store.
type Local struct{}

// NewLocal constructs a Local repository probe.
func NewLocal() *Local { return &Local{} }

// ListTags shells out to "docker image ls".
func (l *Local) ListTags(ctx context.Context, repo string) ([]string, error) {
	out, err := exec.CommandContext(ctx, "docker", "image", "ls", repo, "--format", "{{ .Tag }}").Output()
	if err != nil {
		return nil, goerrors.Wrapf(err, "docker image ls %s", repo)
	}
	var tags []string
	for _, line := range strings.Split(string(out), "\n") {
		if line != "" && line != "<none>" {
			tags = append(tags, line)
		}
	}
	return tags, nil
}

// ListSpiders shells out to "docker image inspect" and reads the
// org.scrapy.spiders label.
func (l *Local) ListSpiders(ctx context.Context, repo, version string) ([]string, error) {
	out, err := exec.CommandContext(ctx, "docker", "image", "inspect", repo+":"+version,
		"--format", `{{ index .Config.Labels "org.scrapy.spiders" }}`).Output()
	if err != nil {
		return nil, nil
	}
	var spiders []string
	for _, s := range strings.Split(strings.TrimSpace(string(out)), ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			spiders = append(spiders, s)
		}
	}
	return spiders, nil
}
