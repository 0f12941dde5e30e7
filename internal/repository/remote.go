package repository

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
)

// Remote probes a remote registry via skopeo, without pulling images
// locally.
type Remote struct{}

// NewRemote constructs a Remote repository probe.
func NewRemote() *Remote { return &Remote{} }

type skopeoTags struct {
	Tags []string `json:"Tags"`
}

// ListTags shells out to "skopeo list-tags".
func (r *Remote) ListTags(ctx context.Context, repo string) ([]string, error) {
	out, err := exec.CommandContext(ctx, "skopeo", "list-tags", "docker://"+repo).Output()
	if err != nil {
		return nil, goerrors.Wrapf(err, "skopeo list-tags %s", repo)
	}
	var parsed skopeoTags
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, goerrors.Wrapf(err, "parsing skopeo list-tags output for %s", repo)
	}
	return parsed.Tags, nil
}

type skopeoInspect struct {
	Labels map[string]string `json:"Labels"`
}

// ListSpiders shells out to "skopeo inspect" and reads the
// org.scrapy.spiders label. It returns (nil, nil) when the image
// cannot be inspected or carries no such label.
func (r *Remote) ListSpiders(ctx context.Context, repo, version string) ([]string, error) {
	out, err := exec.CommandContext(ctx, "skopeo", "inspect", "docker://"+repo+":"+version).Output()
	if err != nil {
		return nil, nil
	}
	var parsed skopeoInspect
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, goerrors.Wrapf(err, "parsing skopeo inspect output for %s:%s", repo, version)
	}
	raw, ok := parsed.Labels["org.scrapy.spiders"]
	if !ok {
		return nil, nil
	}
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	return splitTrim(raw), nil
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}
