// Package metrics exposes Prometheus counters for the driver,
// scheduler, watcher and log pipeline, grounded on cmd/exporter's
// prometheus.NewRegistry + MustRegister idiom (component-scoped
// registry plus the standard process/Go collectors).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters and gauges scrapyd-k8s exposes at
// /metrics.
type Metrics struct {
	registry *prometheus.Registry

	JobsScheduled     prometheus.Counter
	JobsSuspended     prometheus.Counter
	JobsCanceled      prometheus.Counter
	JobsUnsuspended   prometheus.Counter
	UploadsSucceeded  prometheus.Counter
	UploadsFailed     prometheus.Counter
	WatcherReconnects prometheus.Counter
	RunningJobs       prometheus.Gauge
}

// New constructs a Metrics registry scoped to "scrapyd_k8s".
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scrapyd_k8s",
			Name:      "jobs_scheduled_total",
			Help:      "Total jobs scheduled via /schedule.json.",
		}),
		JobsSuspended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scrapyd_k8s",
			Name:      "jobs_suspended_total",
			Help:      "Total jobs created in the suspended state due to the max_proc cap.",
		}),
		JobsCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scrapyd_k8s",
			Name:      "jobs_canceled_total",
			Help:      "Total jobs canceled via /cancel.json.",
		}),
		JobsUnsuspended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scrapyd_k8s",
			Name:      "jobs_unsuspended_total",
			Help:      "Total jobs unsuspended by the admission scheduler.",
		}),
		UploadsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scrapyd_k8s",
			Name:      "log_uploads_succeeded_total",
			Help:      "Total job logs successfully uploaded to object storage.",
		}),
		UploadsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scrapyd_k8s",
			Name:      "log_uploads_failed_total",
			Help:      "Total job log uploads that failed.",
		}),
		WatcherReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scrapyd_k8s",
			Name:      "watcher_reconnects_total",
			Help:      "Total times the resource watcher reopened its watch stream.",
		}),
		RunningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scrapyd_k8s",
			Name:      "running_jobs",
			Help:      "Current count of non-suspended, non-terminal jobs.",
		}),
	}

	m.registry.MustRegister(
		m.JobsScheduled,
		m.JobsSuspended,
		m.JobsCanceled,
		m.JobsUnsuspended,
		m.UploadsSucceeded,
		m.UploadsFailed,
		m.WatcherReconnects,
		m.RunningJobs,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
