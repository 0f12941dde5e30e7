/*
Copyright 2018 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	dockerclient "github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/api"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/config"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/driver"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/driver/dockerdriver"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/driver/k8sdriver"
	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/kube"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/logpipeline"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/logutil"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/metrics"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/objectstorage"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/objectstorage/gcs"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/objectstorage/s3"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/repository"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/scheduler"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/watcher"
)

type options struct {
	configPath     string
	kubeconfigPath string
}

func gatherOptions() options {
	var o options
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&o.configPath, "config-path", "/etc/scrapyd-k8s/scrapyd-k8s.ini", "Path to scrapyd-k8s.ini.")
	fs.StringVar(&o.kubeconfigPath, "kubeconfig", "", "Path to kubeconfig; empty uses in-cluster config.")
	fs.Parse(os.Args[1:])
	return o
}

func (o *options) Validate() error {
	if o.configPath == "" {
		return goerrors.New("config-path must not be empty")
	}
	return nil
}

func main() {
	o := gatherOptions()
	if err := o.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid options")
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		logrus.WithError(err).Fatal("loading configuration failed")
	}
	scrapydCfg, err := cfg.Scrapyd()
	if err != nil {
		logrus.WithError(err).Fatal("invalid [scrapyd] configuration")
	}

	log := logutil.Init("scrapyd-k8s", scrapydCfg.LogLevel)

	stop := make(chan struct{})
	if err := cfg.WatchForChanges(log, stop); err != nil {
		log.WithError(err).Warn("config hot-reload disabled")
	}

	m := metrics.New()

	drv, sched, pipeline, err := buildBackend(o, cfg, scrapydCfg, log, m)
	if err != nil {
		log.WithError(err).Fatal("building workload backend failed")
	}

	var repo repository.Repository
	switch scrapydCfg.Repository {
	case "local":
		repo = repository.NewLocal()
	default:
		repo = repository.NewRemote()
	}

	nodeName := scrapydCfg.NodeName
	if nodeName == "" {
		nodeName, _ = os.Hostname()
	}

	server := api.New(cfg, drv, repo, sched, m, nodeName, scrapydCfg.Username, scrapydCfg.Password, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sched != nil {
		go sched.Run(ctx)
	}
	if pipeline != nil {
		go func() {
			if err := pipeline.Run(ctx); err != nil {
				log.WithError(err).Error("log pipeline stopped")
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    scrapydCfg.BindAddress + ":" + strconv.Itoa(scrapydCfg.HTTPPort),
		Handler: server.Handler(),
	}

	go func() {
		log.WithField("addr", httpServer.Addr).Info("serving")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	close(stop)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

// buildBackend wires the workload driver, admission scheduler and log
// pipeline for the configured launcher. The Kubernetes launcher gets
// the full event-driven pipeline (Resource Watcher feeding both the
// scheduler and the log pipeline); the Docker launcher, which has no
// equivalent watch stream, drives the scheduler from a fixed-interval
// poll instead and runs no log pipeline (Docker writes container logs
// to its own log driver).
func buildBackend(o options, cfg *config.Config, scrapydCfg config.ScrapydConfig, log *logrus.Entry, m *metrics.Metrics) (driver.Driver, *scheduler.Scheduler, *logpipeline.Pipeline, error) {
	switch scrapydCfg.Launcher {
	case "docker":
		cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv)
		if err != nil {
			return nil, nil, nil, err
		}
		nodeName := scrapydCfg.NodeName
		if nodeName == "" {
			nodeName, _ = os.Hostname()
		}
		drv := dockerdriver.New(cli, nodeName)
		sched := scheduler.New(drv, scrapydCfg.MaxProc, log, m)
		go pollUnsuspend(sched, scrapydCfg.BackoffTime)
		go reportRunningJobs(drv, m)
		return drv, sched, nil, nil

	default:
		clientset, restConfig, err := kube.NewClientsetAndConfig(o.kubeconfigPath)
		if err != nil {
			return nil, nil, nil, err
		}
		nodeName := scrapydCfg.NodeName
		if nodeName == "" {
			nodeName, _ = os.Hostname()
		}
		drv := k8sdriver.New(clientset, restConfig, scrapydCfg.Namespace, nodeName, scrapydCfg.PullSecret)

		sched := scheduler.New(drv, scrapydCfg.MaxProc, log, m)

		w := watcher.New(clientset, scrapydCfg.Namespace, log, m,
			watcher.WithBackoff(scrapydCfg.BackoffTime, scrapydCfg.BackoffCoefficient, 5*time.Minute))
		w.Subscribe(sched.HandleEvent)
		go w.Start(context.Background())
		go reportRunningJobs(drv, m)

		pipeline, err := buildLogPipeline(cfg, clientset, scrapydCfg, log, m)
		if err != nil {
			log.WithError(err).Warn("log pipeline disabled")
			return drv, sched, nil, nil
		}
		return drv, sched, pipeline, nil
	}
}

// buildLogPipeline wires object storage and starts tailing pod logs
// when [joblogs] is present in the configuration. A missing or
// misconfigured [joblogs] section disables the feature rather than
// failing startup, matching the original's optional job-log handling.
func buildLogPipeline(cfg *config.Config, clientset kubernetes.Interface, scrapydCfg config.ScrapydConfig, log *logrus.Entry, m *metrics.Metrics) (*logpipeline.Pipeline, error) {
	joblogsCfg, enabled, err := cfg.Joblogs()
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, nil
	}

	storageCfg, err := objectstorage.SubstituteEnv(cfg.JoblogsStorage(joblogsCfg.StorageProvider))
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	var storage objectstorage.Storage
	switch joblogsCfg.StorageProvider {
	case "s3":
		storage, err = s3.New(ctx, joblogsCfg.ContainerName, storageCfg["region"])
	default:
		storage, err = gcs.New(ctx, joblogsCfg.ContainerName, storageCfg["credentials_file"])
	}
	if err != nil {
		return nil, err
	}

	var opts []logpipeline.Option
	if joblogsCfg.CompressionMethod != "" {
		opts = append(opts, logpipeline.WithCompression(joblogsCfg.CompressionMethod))
	}
	return logpipeline.New(clientset, scrapydCfg.Namespace, joblogsCfg.LogsDir, joblogsCfg.NumLinesToCheck, storage, log, m, opts...), nil
}

func pollUnsuspend(sched *scheduler.Scheduler, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for range time.Tick(interval) {
		sched.TriggerNow()
	}
}

// reportRunningJobs periodically samples the driver's running count
// into the running_jobs gauge; there is no push-based signal for this
// that both backends share.
func reportRunningJobs(drv driver.Driver, m *metrics.Metrics) {
	for range time.Tick(15 * time.Second) {
		n, err := drv.RunningCount(context.Background())
		if err != nil {
			continue
		}
		m.RunningJobs.Set(float64(n))
	}
}
