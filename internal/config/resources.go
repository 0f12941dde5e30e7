package config

import (
	"strings"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/model"
)

// Resources resolves the layered requests/limits merge described in the
// workload driver design: default.resources, then project.<id>.resources,
// then project.<id>.<spider>.resources, each overriding keys from the
// previous layer. Keys prefixed requests_/limits_ populate the two
// sub-maps with the prefix stripped.
func (p ProjectConfig) Resources(spider string) model.Resources {
	out := model.Resources{
		Requests: map[string]string{},
		Limits:   map[string]string{},
	}

	layers := []string{"default.resources", "project." + p.id + ".resources"}
	if spider != "" {
		layers = append(layers, "project."+p.id+"."+spider+".resources")
	}

	for _, name := range layers {
		sec, ok := p.cfg.section(name)
		if !ok {
			continue
		}
		for _, k := range sec.Keys() {
			switch {
			case strings.HasPrefix(k.Name(), "requests_"):
				out.Requests[strings.TrimPrefix(k.Name(), "requests_")] = k.String()
			case strings.HasPrefix(k.Name(), "limits_"):
				out.Limits[strings.TrimPrefix(k.Name(), "limits_")] = k.String()
			}
		}
	}
	return out
}
