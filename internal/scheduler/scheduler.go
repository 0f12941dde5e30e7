// Package scheduler implements the Admission Scheduler: enforcing
// running_count <= max_proc, deciding "start suspended" at creation
// time, and un-suspending the oldest suspended job (FIFO, ties broken
// by job_id) whenever a job reaches a terminal state. Grounded on
// plank/controller.go's canExecuteConcurrently/pendingJobs concurrency
// cap and the original k8s_scheduler.py's
// check_and_unsuspend_jobs/get_next_suspended_job_id.
package scheduler

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/driver"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/metrics"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/model"
)

// Scheduler enforces the max_proc admission cap. MaxProc nil means
// unlimited; MaxProc pointing at 0 means "never run."
type Scheduler struct {
	drv     driver.Driver
	maxProc *int
	log     *logrus.Entry
	metrics *metrics.Metrics

	// trigger is buffered to size 1: a terminal event that arrives
	// while a check-and-unsuspend pass is already queued just needs to
	// guarantee one more pass runs, not one pass per event. This keeps
	// the scheduler's own event handler (invoked under the watcher's
	// dispatch lock) non-blocking, per the design notes' requirement
	// that subscriber callbacks not block on slow backend I/O.
	trigger chan struct{}
}

// New constructs a Scheduler. maxProc mirrors the [scrapyd] max_proc
// config key: nil for "omitted" (unlimited). m may be nil when metrics
// are disabled.
func New(drv driver.Driver, maxProc *int, log *logrus.Entry, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		drv:     drv,
		maxProc: maxProc,
		log:     log,
		metrics: m,
		trigger: make(chan struct{}, 1),
	}
}

// DecideStartSuspended implements the creation policy: query
// running_count, suspend the new workload if already at or above cap.
// The read is a snapshot, not atomic with the subsequent schedule call
// — per the design notes this is accepted because any excess job is
// created suspended, restoring the invariant.
func (s *Scheduler) DecideStartSuspended(ctx context.Context) (bool, error) {
	if s.maxProc == nil {
		return false, nil
	}
	running, err := s.drv.RunningCount(ctx)
	if err != nil {
		return false, err
	}
	return running >= *s.maxProc, nil
}

// HandleEvent is the watcher subscriber callback: it filters for
// terminal transitions on labeled workloads and schedules a
// check-and-unsuspend pass without blocking the caller.
func (s *Scheduler) HandleEvent(ev model.Event) {
	if !ev.HasJobIDLabel() {
		return
	}
	terminal := ev.Object.Phase == "Succeeded" || ev.Object.Phase == "Failed"
	transition := ev.Type == model.EventModified || ev.Type == model.EventDeleted
	if !terminal || !transition {
		return
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run consumes triggers and performs check-and-unsuspend passes one at
// a time until ctx is done. A single consumer goroutine is what makes
// passes serializable against each other without an extra lock.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
			s.checkAndUnsuspend(ctx)
		}
	}
}

// TriggerNow requests one check-and-unsuspend pass without blocking,
// used by the Docker launcher's fixed-interval poll, which has no watch
// stream to deliver terminal events.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) checkAndUnsuspend(ctx context.Context) {
	if s.maxProc == nil {
		return
	}
	running, err := s.drv.RunningCount(ctx)
	if err != nil {
		s.log.WithError(err).Warn("check_and_unsuspend: running_count failed")
		return
	}

	for running < *s.maxProc {
		suspended, err := s.drv.ListSuspended(ctx)
		if err != nil {
			s.log.WithError(err).Warn("check_and_unsuspend: list_suspended failed")
			return
		}
		if len(suspended) == 0 {
			return
		}
		next := oldestFirst(suspended)[0]

		ok, err := s.drv.Unsuspend(ctx, next.JobID)
		if err != nil {
			s.log.WithError(err).WithField("job_id", next.JobID).Warn("check_and_unsuspend: unsuspend failed")
			return
		}
		if !ok {
			return
		}
		if s.metrics != nil {
			s.metrics.JobsUnsuspended.Inc()
		}
		running++
	}
}

// oldestFirst sorts by creation timestamp ascending, missing timestamps
// last, ties broken by job_id for determinism.
func oldestFirst(ws []model.Workload) []model.Workload {
	out := make([]model.Workload, len(ws))
	copy(out, ws)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].CreatedAt, out[j].CreatedAt
		iZero, jZero := ti.IsZero(), tj.IsZero()
		if iZero != jZero {
			return jZero // non-zero sorts before zero ("missing timestamps sort last")
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].JobID < out[j].JobID
	})
	return out
}
