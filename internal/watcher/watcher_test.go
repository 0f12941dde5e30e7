package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes/fake"
	clienttesting "k8s.io/client-go/testing"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/logutil"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/metrics"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/model"
)

func TestWatcherDispatchesAddedEvent(t *testing.T) {
	cs := fake.NewSimpleClientset()
	log := logutil.Init("watcher-test", "error")
	w := New(cs, "default", log, nil, WithBackoff(10*time.Millisecond, 2, time.Second))

	events := make(chan model.Event, 10)
	w.Subscribe(func(e model.Event) { events <- e })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	defer w.Stop()

	suspend := false
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name: "scrapyd-quotes-j1",
			Labels: map[string]string{
				model.LabelProject: "quotes",
				model.LabelSpider:  "quotes",
				model.LabelJobID:   "j1",
			},
		},
		Spec: batchv1.JobSpec{Suspend: &suspend},
	}

	// Give the watch a moment to register before creating.
	time.Sleep(50 * time.Millisecond)
	if _, err := cs.BatchV1().Jobs("default").Create(ctx, job, metav1.CreateOptions{}); err != nil {
		t.Fatalf("creating job: %v", err)
	}

	select {
	case e := <-events:
		if e.Object.JobID != "j1" {
			t.Fatalf("expected job id j1, got %q", e.Object.JobID)
		}
		if e.Type != model.EventAdded {
			t.Fatalf("expected ADDED event, got %v", e.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched event")
	}
}

func TestWatcherReconnectIncrementsMetric(t *testing.T) {
	cs := fake.NewSimpleClientset()
	first := true
	cs.PrependWatchReactor("jobs", func(action clienttesting.Action) (bool, watch.Interface, error) {
		if first {
			first = false
			closed := watch.NewFake()
			closed.Stop()
			return true, closed, nil
		}
		return false, nil, nil
	})

	log := logutil.Init("watcher-test", "error")
	m := metrics.New()
	w := New(cs, "default", log, m, WithBackoff(10*time.Millisecond, 2, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	defer w.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if testutil.ToFloat64(m.WatcherReconnects) >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a reconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSubscribePanicIsolation(t *testing.T) {
	cs := fake.NewSimpleClientset()
	log := logutil.Init("watcher-test", "error")
	w := New(cs, "default", log, nil)

	called := make(chan struct{}, 1)
	w.Subscribe(func(model.Event) { panic("boom") })
	w.Subscribe(func(model.Event) { called <- struct{}{} })

	w.dispatch(model.Event{Object: model.Workload{JobID: "x"}})

	select {
	case <-called:
	default:
		t.Fatal("second subscriber should still run after first panics")
	}
}
