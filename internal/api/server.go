// Package api is the HTTP Facade: the Scrapyd-compatible JSON surface
// translating wire requests into driver/repository/scheduler calls.
// Routing follows the teacher's cmd/deck hand-rolled
// http.NewServeMux + gziphandler wrapping, with no web framework.
package api

import (
	"net/http"

	"github.com/NYTimes/gziphandler"
	"github.com/sirupsen/logrus"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/config"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/driver"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/metrics"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/repository"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/scheduler"
)

// Server is the HTTP facade's dependency bundle.
type Server struct {
	cfg       *config.Config
	drv       driver.Driver
	repo      repository.Repository
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
	nodeName  string
	username  string
	password  string
	log       *logrus.Entry
}

// New constructs a Server. username/password being both non-empty
// enables HTTP Basic authentication on every endpoint but /healthz.
func New(cfg *config.Config, drv driver.Driver, repo repository.Repository, sched *scheduler.Scheduler, m *metrics.Metrics, nodeName, username, password string, log *logrus.Entry) *Server {
	return &Server{
		cfg:       cfg,
		drv:       drv,
		repo:      repo,
		scheduler: sched,
		metrics:   m,
		nodeName:  nodeName,
		username:  username,
		password:  password,
		log:       log,
	}
}

// Handler builds the routed, gzip-wrapped, optionally authenticated
// mux serving every Scrapyd endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/", gziphandler.GzipHandler(http.HandlerFunc(s.handleIndex)))
	mux.Handle("/healthz", http.HandlerFunc(s.handleHealthz))
	mux.Handle("/daemonstatus.json", gziphandler.GzipHandler(http.HandlerFunc(s.handleDaemonStatus)))
	mux.Handle("/listprojects.json", gziphandler.GzipHandler(http.HandlerFunc(s.handleListProjects)))
	mux.Handle("/listversions.json", gziphandler.GzipHandler(http.HandlerFunc(s.handleListVersions)))
	mux.Handle("/listspiders.json", gziphandler.GzipHandler(http.HandlerFunc(s.handleListSpiders)))
	mux.Handle("/listjobs.json", gziphandler.GzipHandler(http.HandlerFunc(s.handleListJobs)))
	mux.Handle("/schedule.json", gziphandler.GzipHandler(http.HandlerFunc(s.handleSchedule)))
	mux.Handle("/cancel.json", gziphandler.GzipHandler(http.HandlerFunc(s.handleCancel)))
	mux.Handle("/addversion.json", gziphandler.GzipHandler(http.HandlerFunc(s.handleNotImplemented)))
	mux.Handle("/delversion.json", gziphandler.GzipHandler(http.HandlerFunc(s.handleNotImplemented)))
	mux.Handle("/delproject.json", gziphandler.GzipHandler(http.HandlerFunc(s.handleNotImplemented)))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	if s.username != "" && s.password != "" {
		return s.basicAuth(mux)
	}
	return mux
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.username || pass != s.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="scrapyd-k8s"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
