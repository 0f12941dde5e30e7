package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	uuid "github.com/satori/go.uuid"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/driver"
	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/model"
)

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if _, ok := payload["node_name"]; !ok {
		payload["node_name"] = s.nodeName
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.WithError(err).Error("encoding JSON response failed")
	}
}

func (s *Server) writeOK(w http.ResponseWriter, fields map[string]interface{}) {
	fields["status"] = "ok"
	s.writeJSON(w, http.StatusOK, fields)
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]interface{}{
		"status":  "error",
		"message": message,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><h1>scrapyd-k8s</h1><p>node: %s</p></body></html>", s.nodeName)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) handleDaemonStatus(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, map[string]interface{}{"spiders": 0})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, map[string]interface{}{"projects": s.cfg.ListProjects()})
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		s.writeError(w, http.StatusBadRequest, "project is required")
		return
	}
	project, ok := s.cfg.Project(projectID)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown project %q", projectID))
		return
	}

	tags, err := s.repo.ListTags(r.Context(), project.Repo)
	if err != nil {
		s.log.WithError(err).WithField("project", projectID).Error("listing versions failed")
		s.writeError(w, http.StatusInternalServerError, "failed to list versions")
		return
	}

	versions := make([]string, 0, len(tags))
	for _, t := range tags {
		if strings.HasPrefix(t, "sha-") {
			continue
		}
		versions = append(versions, t)
	}
	naturalSort(versions)
	s.writeOK(w, map[string]interface{}{"versions": versions})
}

func (s *Server) handleListSpiders(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		s.writeError(w, http.StatusBadRequest, "project is required")
		return
	}
	project, ok := s.cfg.Project(projectID)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown project %q", projectID))
		return
	}
	version := r.URL.Query().Get("_version")
	if version == "" {
		version = "latest"
	}

	spiders, err := s.repo.ListSpiders(r.Context(), project.Repo, version)
	if err != nil {
		s.log.WithError(err).WithField("project", projectID).Error("listing spiders failed")
		s.writeError(w, http.StatusInternalServerError, "failed to list spiders")
		return
	}
	if spiders == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("version %q not found for project %q", version, projectID))
		return
	}
	s.writeOK(w, map[string]interface{}{"spiders": spiders})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	jobs, err := s.drv.ListJobs(r.Context(), projectID)
	if err != nil {
		s.log.WithError(err).Error("listing jobs failed")
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	pending := []driver.JobSummary{}
	running := []driver.JobSummary{}
	finished := []driver.JobSummary{}
	for _, j := range jobs {
		switch j.State {
		case model.StatePending:
			pending = append(pending, j)
		case model.StateRunning:
			running = append(running, j)
		case model.StateFinished:
			finished = append(finished, j)
		}
	}
	s.writeOK(w, map[string]interface{}{
		"pending":  pending,
		"running":  running,
		"finished": finished,
	})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "could not parse form")
		return
	}

	projectID := r.PostForm.Get("project")
	spider := r.PostForm.Get("spider")
	if projectID == "" || spider == "" {
		s.writeError(w, http.StatusBadRequest, "project and spider are required")
		return
	}
	project, ok := s.cfg.Project(projectID)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown project %q", projectID))
		return
	}

	jobID := r.PostForm.Get("jobid")
	if jobID == "" {
		jobID = strings.ReplaceAll(uuid.NewV4().String(), "-", "")
	}
	version := r.PostForm.Get("_version")
	if version == "" {
		version = "latest"
	}

	settings := map[string]string{}
	if vals, ok := r.PostForm["setting"]; ok {
		for _, v := range vals {
			parts := strings.SplitN(v, "=", 2)
			if len(parts) == 2 {
				settings[parts[0]] = parts[1]
			}
		}
	}

	reserved := map[string]bool{"project": true, "spider": true, "jobid": true, "_version": true, "setting": true}
	args := map[string]string{}
	for k := range r.PostForm {
		if reserved[k] {
			continue
		}
		args[k] = r.PostForm.Get(k)
	}

	startSuspended := false
	if s.scheduler != nil {
		suspend, err := s.scheduler.DecideStartSuspended(r.Context())
		if err != nil {
			s.log.WithError(err).Error("deciding suspend state failed")
			s.writeError(w, http.StatusInternalServerError, "failed to schedule job")
			return
		}
		startSuspended = suspend
	}

	err := s.drv.Schedule(r.Context(), driver.ScheduleRequest{
		ProjectID:      projectID,
		Version:        version,
		Spider:         spider,
		JobID:          jobID,
		Settings:       settings,
		Args:           args,
		Resources:      project.Resources(spider),
		EnvConfigRef:   project.EnvCfg,
		EnvSecretRef:   project.EnvSec,
		StartSuspended: startSuspended,
	})
	if err != nil {
		var alreadyExists *goerrors.AlreadyExistsError
		var notFound *goerrors.NotFoundError
		switch {
		case goerrors.As(err, &alreadyExists):
			s.writeError(w, http.StatusConflict, err.Error())
		case goerrors.As(err, &notFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		default:
			s.log.WithError(err).WithField("job_id", jobID).Error("scheduling job failed")
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if s.metrics != nil {
		s.metrics.JobsScheduled.Inc()
		if startSuspended {
			s.metrics.JobsSuspended.Inc()
		}
	}
	s.writeOK(w, map[string]interface{}{"jobid": jobID})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "could not parse form")
		return
	}

	projectID := r.PostForm.Get("project")
	jobID := r.PostForm.Get("job")
	if projectID == "" || jobID == "" {
		s.writeError(w, http.StatusBadRequest, "project and job are required")
		return
	}
	signal := r.PostForm.Get("signal")
	if signal == "" {
		signal = "TERM"
	}

	prevState, err := s.drv.Cancel(r.Context(), projectID, jobID, signal)
	if err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("canceling job failed")
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	if prevState == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown job %q", jobID))
		return
	}
	if s.metrics != nil {
		s.metrics.JobsCanceled.Inc()
	}
	s.writeOK(w, map[string]interface{}{"prevstate": string(*prevState)})
}

func (s *Server) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotImplemented, "not implemented")
}
