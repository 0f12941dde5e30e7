package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/config"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/driver"
	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/logutil"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/model"
)

type fakeDriver struct {
	jobs        []driver.JobSummary
	scheduled   []driver.ScheduleRequest
	scheduleErr error
	cancelErr   error
	prevState   *model.State
}

func (f *fakeDriver) ListJobs(ctx context.Context, projectID string) ([]driver.JobSummary, error) {
	return f.jobs, nil
}
func (f *fakeDriver) Schedule(ctx context.Context, req driver.ScheduleRequest) error {
	if f.scheduleErr != nil {
		return f.scheduleErr
	}
	f.scheduled = append(f.scheduled, req)
	return nil
}
func (f *fakeDriver) Cancel(ctx context.Context, projectID, jobID, signal string) (*model.State, error) {
	return f.prevState, f.cancelErr
}
func (f *fakeDriver) Unsuspend(ctx context.Context, jobID string) (bool, error) { return false, nil }
func (f *fakeDriver) RunningCount(ctx context.Context) (int, error)             { return 0, nil }
func (f *fakeDriver) ListSuspended(ctx context.Context) ([]model.Workload, error) {
	return nil, nil
}
func (f *fakeDriver) NodeName() string { return "test-node" }

type fakeRepository struct {
	tags    []string
	spiders []string
}

func (f *fakeRepository) ListTags(ctx context.Context, repo string) ([]string, error) {
	return f.tags, nil
}
func (f *fakeRepository) ListSpiders(ctx context.Context, repo, version string) ([]string, error) {
	if version == "missing" {
		return nil, nil
	}
	return f.spiders, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scrapyd.ini")
	content := "[scrapyd]\n" +
		"namespace = default\n" +
		"\n[project.quotes]\n" +
		"repository = example.com/quotes\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func testServer(t *testing.T, drv *fakeDriver, repo *fakeRepository) *Server {
	return New(testConfig(t), drv, repo, nil, nil, "test-node", "", "", logutil.Init("api-test", "error"))
}

func TestHandleListProjects(t *testing.T) {
	s := testServer(t, &fakeDriver{}, &fakeRepository{})
	req := httptest.NewRequest(http.MethodGet, "/listprojects.json", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "quotes") {
		t.Fatalf("expected project in response, got %s", rec.Body.String())
	}
}

func TestHandleListVersionsUnknownProject(t *testing.T) {
	s := testServer(t, &fakeDriver{}, &fakeRepository{})
	req := httptest.NewRequest(http.MethodGet, "/listversions.json?project=nope", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleListVersionsExcludesShaTagsAndSorts(t *testing.T) {
	s := testServer(t, &fakeDriver{}, &fakeRepository{tags: []string{"latest", "v1.2", "v1.10", "sha-abc"}})
	req := httptest.NewRequest(http.MethodGet, "/listversions.json?project=quotes", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "sha-abc") {
		t.Fatalf("expected sha-* tags excluded, got %s", body)
	}
	if strings.Index(body, "v1.10") < strings.Index(body, "v1.2") {
		t.Fatalf("expected natural sort order, got %s", body)
	}
}

func TestHandleListSpidersMissingVersionReturns404(t *testing.T) {
	s := testServer(t, &fakeDriver{}, &fakeRepository{})
	req := httptest.NewRequest(http.MethodGet, "/listspiders.json?project=quotes&_version=missing", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleScheduleRequiresProjectAndSpider(t *testing.T) {
	s := testServer(t, &fakeDriver{}, &fakeRepository{})
	req := httptest.NewRequest(http.MethodPost, "/schedule.json", strings.NewReader(url.Values{}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleScheduleSuccess(t *testing.T) {
	drv := &fakeDriver{}
	s := testServer(t, drv, &fakeRepository{})
	form := url.Values{"project": {"quotes"}, "spider": {"default"}, "jobid": {"j1"}}
	req := httptest.NewRequest(http.MethodPost, "/schedule.json", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "j1") {
		t.Fatalf("expected jobid in response, got %s", rec.Body.String())
	}
	if len(drv.scheduled) != 1 || drv.scheduled[0].JobID != "j1" {
		t.Fatalf("expected schedule request recorded, got %v", drv.scheduled)
	}
}

func TestHandleScheduleAlreadyExistsReturns409(t *testing.T) {
	drv := &fakeDriver{scheduleErr: &goerrors.AlreadyExistsError{JobID: "j1"}}
	s := testServer(t, drv, &fakeRepository{})
	form := url.Values{"project": {"quotes"}, "spider": {"default"}, "jobid": {"j1"}}
	req := httptest.NewRequest(http.MethodPost, "/schedule.json", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleScheduleImageNotFoundReturns404(t *testing.T) {
	drv := &fakeDriver{scheduleErr: &goerrors.NotFoundError{Kind: "image", ID: "quotes:latest"}}
	s := testServer(t, drv, &fakeRepository{})
	form := url.Values{"project": {"quotes"}, "spider": {"default"}, "jobid": {"j1"}}
	req := httptest.NewRequest(http.MethodPost, "/schedule.json", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleScheduleBackendErrorReturns500(t *testing.T) {
	drv := &fakeDriver{scheduleErr: goerrors.New("connection refused")}
	s := testServer(t, drv, &fakeRepository{})
	form := url.Values{"project": {"quotes"}, "spider": {"default"}, "jobid": {"j1"}}
	req := httptest.NewRequest(http.MethodPost, "/schedule.json", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCancelUnknownJob(t *testing.T) {
	s := testServer(t, &fakeDriver{prevState: nil}, &fakeRepository{})
	form := url.Values{"project": {"quotes"}, "job": {"missing"}}
	req := httptest.NewRequest(http.MethodPost, "/cancel.json", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleAddVersionAlwaysNotImplemented(t *testing.T) {
	s := testServer(t, &fakeDriver{}, &fakeRepository{})
	req := httptest.NewRequest(http.MethodPost, "/addversion.json", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestBasicAuthRejectsMissingCredentials(t *testing.T) {
	s := New(testConfig(t), &fakeDriver{}, &fakeRepository{}, nil, nil, "test-node", "admin", "secret", logutil.Init("api-test", "error"))
	req := httptest.NewRequest(http.MethodGet, "/listprojects.json", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
