// Package config loads the INI-style configuration file described in
// the external interfaces: a [scrapyd] section, an optional [joblogs]
// section with per-provider [joblogs.storage.<provider>] sub-sections,
// and per-project [project.<id>] / [project.<id>.resources] /
// [project.<id>.<spider>.resources] sections.
//
// The section/key layering mirrors the structure of the teacher's own
// config.Load/parseConfig, translated from YAML to INI because the
// wire format this system speaks is configparser-style, not YAML.
package config

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
	"gopkg.in/ini.v1"
)

var projectSectionRe = regexp.MustCompile(`^project\.([^.]+)$`)

// ScrapydConfig holds the [scrapyd] section.
type ScrapydConfig struct {
	BindAddress        string
	HTTPPort           int
	Username           string
	Password           string
	Namespace          string
	MaxProc            *int // nil means unlimited
	Repository         string
	Launcher           string
	PullSecret         string
	BackoffTime        time.Duration
	BackoffCoefficient float64
	LogLevel           string
	NodeName           string
}

// JoblogsConfig holds the [joblogs] section.
type JoblogsConfig struct {
	StorageProvider   string
	ContainerName     string
	LogsDir           string
	NumLinesToCheck   int
	CompressionMethod string
}

// Config wraps a parsed INI file with typed accessors. It is safe for
// concurrent reads; Reload swaps the underlying file under a lock so a
// file-watcher goroutine can refresh it without racing readers.
type Config struct {
	mu   sync.RWMutex
	file *ini.File
	path string
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, goerrors.Wrapf(err, "loading config %s", path)
	}
	return &Config{file: f, path: path}, nil
}

// Reload re-reads the backing file in place, used by the fsnotify-based
// watcher started from cmd/scrapyd-k8s.
func (c *Config) Reload() error {
	f, err := ini.Load(c.path)
	if err != nil {
		return goerrors.Wrapf(err, "reloading config %s", c.path)
	}
	c.mu.Lock()
	c.file = f
	c.mu.Unlock()
	return nil
}

// Path returns the backing file path, used to register an fsnotify watch.
func (c *Config) Path() string { return c.path }

func (c *Config) section(name string) (*ini.Section, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.file.HasSection(name) {
		return nil, false
	}
	return c.file.Section(name), true
}

// Scrapyd returns the [scrapyd] section with defaults applied.
func (c *Config) Scrapyd() (ScrapydConfig, error) {
	sec, _ := c.section("scrapyd")
	out := ScrapydConfig{
		BindAddress:        "127.0.0.1",
		HTTPPort:           6800,
		Namespace:          "default",
		Repository:         "remote",
		Launcher:           "k8s",
		BackoffTime:        5 * time.Second,
		BackoffCoefficient: 2,
		LogLevel:           "INFO",
	}
	if sec == nil {
		return out, nil
	}
	if sec.HasKey("bind_address") {
		out.BindAddress = sec.Key("bind_address").String()
	}
	if sec.HasKey("http_port") {
		v, err := sec.Key("http_port").Int()
		if err != nil {
			return out, &goerrors.ConfigError{Msg: "scrapyd.http_port: " + err.Error()}
		}
		out.HTTPPort = v
	}
	out.Username = sec.Key("username").String()
	out.Password = sec.Key("password").String()
	if sec.HasKey("namespace") {
		out.Namespace = sec.Key("namespace").String()
	}
	if sec.HasKey("max_proc") {
		v, err := sec.Key("max_proc").Int()
		if err != nil {
			return out, &goerrors.ConfigError{Msg: "scrapyd.max_proc: " + err.Error()}
		}
		out.MaxProc = &v
	}
	if sec.HasKey("repository") {
		out.Repository = sec.Key("repository").String()
	}
	if sec.HasKey("launcher") {
		out.Launcher = sec.Key("launcher").String()
	}
	out.PullSecret = sec.Key("pull_secret").String()
	if sec.HasKey("backoff_time") {
		v, err := sec.Key("backoff_time").Float64()
		if err != nil {
			return out, &goerrors.ConfigError{Msg: "scrapyd.backoff_time: " + err.Error()}
		}
		out.BackoffTime = time.Duration(v * float64(time.Second))
	}
	if sec.HasKey("backoff_coefficient") {
		v, err := sec.Key("backoff_coefficient").Float64()
		if err != nil {
			return out, &goerrors.ConfigError{Msg: "scrapyd.backoff_coefficient: " + err.Error()}
		}
		out.BackoffCoefficient = v
	}
	if sec.HasKey("log_level") {
		out.LogLevel = sec.Key("log_level").String()
	}
	out.NodeName = sec.Key("node_name").String()
	return out, nil
}

// Joblogs returns the [joblogs] section; ok is false when log pipeline
// is not configured at all.
func (c *Config) Joblogs() (JoblogsConfig, bool, error) {
	sec, ok := c.section("joblogs")
	if !ok {
		return JoblogsConfig{}, false, nil
	}
	out := JoblogsConfig{
		StorageProvider: sec.Key("storage_provider").String(),
		ContainerName:   sec.Key("container_name").String(),
		LogsDir:         sec.Key("logs_dir").String(),
		NumLinesToCheck: 0,
	}
	if out.LogsDir == "" {
		return out, true, &goerrors.ConfigError{Msg: "joblogs.logs_dir is required when [joblogs] is present"}
	}
	if sec.HasKey("num_lines_to_check") {
		v, err := sec.Key("num_lines_to_check").Int()
		if err != nil {
			return out, true, &goerrors.ConfigError{Msg: "joblogs.num_lines_to_check: " + err.Error()}
		}
		out.NumLinesToCheck = v
	}
	method := sec.Key("compression_method").String()
	switch method {
	case "", "gzip", "bzip2", "lzma", "brotli":
		out.CompressionMethod = method
	default:
		return out, true, &goerrors.ConfigError{Msg: fmt.Sprintf("joblogs.compression_method: unknown method %q", method)}
	}
	return out, true, nil
}

// JoblogsStorage returns the raw key/value pairs of
// [joblogs.storage.<provider>], unsubstituted — placeholder expansion
// is the object storage adapter's job.
func (c *Config) JoblogsStorage(provider string) map[string]string {
	sec, ok := c.section("joblogs.storage." + provider)
	out := map[string]string{}
	if !ok {
		return out
	}
	for _, k := range sec.Keys() {
		out[k.Name()] = k.String()
	}
	return out
}

// ListProjects returns every configured project id, derived from
// section names matching project.<id> (excluding nested .resources
// sections, which are not projects themselves).
func (c *Config) ListProjects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, s := range c.file.Sections() {
		m := projectSectionRe.FindStringSubmatch(s.Name())
		if m == nil {
			continue
		}
		out = append(out, m[1])
	}
	return out
}

// ProjectConfig is the typed view of a [project.<id>] section.
type ProjectConfig struct {
	cfg    *Config
	id     string
	Repo   string
	EnvCfg string
	EnvSec string
}

// Project returns the named project's config, or ok=false if absent.
func (c *Config) Project(id string) (ProjectConfig, bool) {
	sec, ok := c.section("project." + id)
	if !ok {
		return ProjectConfig{}, false
	}
	return ProjectConfig{
		cfg:    c,
		id:     id,
		Repo:   sec.Key("repository").String(),
		EnvCfg: sec.Key("env_config").String(),
		EnvSec: sec.Key("env_secret").String(),
	}, true
}

// ID returns the project identifier.
func (p ProjectConfig) ID() string { return p.id }
