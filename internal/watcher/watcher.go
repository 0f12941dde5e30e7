// Package watcher implements the Resource Watcher: a long-lived
// consumer of the Kubernetes Job watch stream for one namespace, with
// exponential-backoff reconnect and fan-out to subscribers. Grounded on
// the original k8s_resource_watcher.py (reconnection_attempts,
// backoff_time, backoff_coefficient, 410 handling,
// subscribe/unsubscribe/notify_subscribers) and the teacher's real
// typed-client Watch() method
// (client/clientset/versioned/typed/prowjobs/v1/prowjob.go) for the
// watch.Interface shape.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/driver/k8sdriver"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/metrics"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/model"
)

// Subscriber receives events dispatched by the watcher. It must not
// block on slow I/O — the dispatch lock is held for the duration of
// the call, the same constraint the design notes place on Python
// subscriber callbacks.
type Subscriber func(model.Event)

// State is the watcher's own lifecycle state, exposed for tests and
// diagnostics.
type State string

const (
	StateIdle      State = "IDLE"
	StateStreaming State = "STREAMING"
	StateBackoff   State = "BACKOFF"
	StateStopped   State = "STOPPED"
)

// Watcher streams Job events for one namespace and fans them out.
type Watcher struct {
	client    kubernetes.Interface
	namespace string

	backoffBase  time.Duration
	backoffCoeff float64
	backoffMax   time.Duration

	log     *logrus.Entry
	metrics *metrics.Metrics

	mu          sync.RWMutex
	subscribers map[int]Subscriber
	nextID      int

	stateMu sync.RWMutex
	state   State

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Watcher at construction time.
type Option func(*Watcher)

// WithBackoff overrides the default backoff base/coefficient/cap.
func WithBackoff(base time.Duration, coefficient float64, max time.Duration) Option {
	return func(w *Watcher) {
		w.backoffBase = base
		w.backoffCoeff = coefficient
		w.backoffMax = max
	}
}

// New constructs a Watcher for namespace ns. Call Start to begin
// streaming. m may be nil when metrics are disabled.
func New(client kubernetes.Interface, ns string, log *logrus.Entry, m *metrics.Metrics, opts ...Option) *Watcher {
	w := &Watcher{
		client:       client,
		namespace:    ns,
		backoffBase:  5 * time.Second,
		backoffCoeff: 2,
		backoffMax:   15 * time.Minute,
		log:          log,
		metrics:      m,
		subscribers:  map[int]Subscriber{},
		state:        StateIdle,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Subscribe registers fn and returns a handle for Unsubscribe. Safe to
// call from any goroutine.
func (w *Watcher) Subscribe(fn Subscriber) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.subscribers[id] = fn
	return id
}

// Unsubscribe removes a previously registered subscriber.
func (w *Watcher) Unsubscribe(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subscribers, id)
}

func (w *Watcher) setState(s State) {
	w.stateMu.Lock()
	w.state = s
	w.stateMu.Unlock()
}

// State returns the watcher's current lifecycle state.
func (w *Watcher) State() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

// Stop requests a cooperative shutdown; the run loop checks the stop
// signal between reconnect attempts and after each dispatched event,
// and observes it during backoff sleeps.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// Start runs the reconnect/stream loop until Stop is called. It never
// returns on its own (besides a closed stop channel), matching the
// original's daemon thread.
func (w *Watcher) Start(ctx context.Context) {
	defer close(w.doneCh)
	defer w.setState(StateStopped)

	resourceVersion := ""
	backoff := w.backoffBase
	attempt := 0

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		w.setState(StateStreaming)
		firstEvent := true
		nextRV, streamErr := w.streamOnce(ctx, resourceVersion, &firstEvent, &backoff)
		if streamErr == errResourceVersionTooOld {
			resourceVersion = ""
			continue
		}
		if nextRV != "" {
			resourceVersion = nextRV
		}

		select {
		case <-w.stopCh:
			return
		default:
		}

		w.setState(StateBackoff)
		attempt++
		if w.metrics != nil {
			w.metrics.WatcherReconnects.Inc()
		}
		sleep := backoff
		if sleep > w.backoffMax {
			sleep = w.backoffMax
		}
		w.log.WithField("attempt", attempt).WithField("sleep", sleep).Warn("watcher reconnecting after backoff")
		select {
		case <-time.After(sleep):
		case <-w.stopCh:
			return
		}
		backoff = time.Duration(float64(backoff) * w.backoffCoeff)
		if backoff > w.backoffMax {
			backoff = w.backoffMax
		}
	}
}

var errResourceVersionTooOld = &sentinelError{"resource version too old"}

type sentinelError struct{ msg string }

func (e *sentinelError) Error() string { return e.msg }

// streamOnce opens one watch stream and dispatches events until it
// ends or errors, returning the last observed resource version.
func (w *Watcher) streamOnce(ctx context.Context, resourceVersion string, firstEvent *bool, backoff *time.Duration) (string, error) {
	opts := metav1.ListOptions{
		LabelSelector:   k8sdriver.LabelSelector,
		ResourceVersion: resourceVersion,
	}
	iface, err := w.client.BatchV1().Jobs(w.namespace).Watch(ctx, opts)
	if err != nil {
		if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
			return "", errResourceVersionTooOld
		}
		w.log.WithError(err).Warn("watch open failed")
		return resourceVersion, err
	}
	defer iface.Stop()

	lastRV := resourceVersion
	for {
		select {
		case <-w.stopCh:
			return lastRV, nil
		case ev, ok := <-iface.ResultChan():
			if !ok {
				return lastRV, errStreamEnded
			}
			if ev.Type == watch.Error {
				if status, ok := ev.Object.(*metav1.Status); ok && (status.Code == 410 || status.Reason == metav1.StatusReasonExpired) {
					return "", errResourceVersionTooOld
				}
				return lastRV, errStreamEnded
			}

			job, ok := ev.Object.(*batchv1.Job)
			if !ok {
				continue
			}
			workload := k8sdriver.AdaptJob(job)
			lastRV = job.ResourceVersion

			if *firstEvent {
				*backoff = w.backoffBase
				*firstEvent = false
			}

			w.dispatch(model.Event{
				Type:            model.EventType(ev.Type),
				Object:          workload,
				ResourceVersion: lastRV,
			})
		}
	}
}

var errStreamEnded = &sentinelError{"watch stream ended"}

// dispatch holds the subscriber-set lock for the duration of the
// callback sweep; a panicking subscriber is recovered and logged so it
// cannot tear down the stream or block other subscribers.
func (w *Watcher) dispatch(ev model.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, sub := range w.subscribers {
		w.invokeSubscriber(sub, ev)
	}
}

func (w *Watcher) invokeSubscriber(sub Subscriber, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.log.WithField("panic", r).Error("subscriber callback panicked")
		}
	}()
	sub(ev)
}
