package logpipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/logutil"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/metrics"
)

type fakeStorage struct {
	uploadErr error
	container string
}

func (f *fakeStorage) Upload(ctx context.Context, localPath, objectKey string) error {
	return f.uploadErr
}
func (f *fakeStorage) ExistsWithPrefix(ctx context.Context, prefix string) (bool, error) {
	return false, nil
}
func (f *fakeStorage) Container() string { return f.container }

var errUpload = errors.New("upload failed")

func TestGetLastNLinesReturnsTrailingLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.txt")
	content := strings.Join([]string{"a", "b", "c", "d", "e"}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	lines, err := getLastNLines(path, 2)
	if err != nil {
		t.Fatalf("getLastNLines: %v", err)
	}
	if len(lines) != 2 || lines[0] != "d" || lines[1] != "e" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestGetLastNLinesMissingFileReturnsEmpty(t *testing.T) {
	lines, err := getLastNLines(filepath.Join(t.TempDir(), "missing.txt"), 5)
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no lines, got %v", lines)
	}
}

func TestGetLastNLinesSpansMultipleBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.txt")

	var sb strings.Builder
	for i := 0; i < 5000; i++ {
		sb.WriteString("line\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	// 2000 five-byte lines need more than one defaultBlockSize block.
	lines, err := getLastNLines(path, 2000)
	if err != nil {
		t.Fatalf("getLastNLines: %v", err)
	}
	if len(lines) != 2000 {
		t.Fatalf("expected 2000 lines, got %d", len(lines))
	}
}

func TestConcatenateAndDeleteAppendsAndRemoves(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "main.txt")
	temp := filepath.Join(dir, "temp.txt")

	if err := os.WriteFile(main, []byte("first\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(temp, []byte("second\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := concatenateAndDelete(main, temp); err != nil {
		t.Fatalf("concatenateAndDelete: %v", err)
	}

	got, err := os.ReadFile(main)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "first\nsecond\n" {
		t.Fatalf("unexpected merged content: %q", got)
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be removed")
	}
}

func TestFinalizeIncrementsUploadSucceeded(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()
	p := New(nil, "default", dir, 0, &fakeStorage{}, logutil.Init("logpipeline-test", "error"), m)

	logPath := p.logFilePath("job1")
	if err := os.WriteFile(logPath, []byte("line\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.finalize(context.Background(), "job1", "quotes", "default"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got := testutil.ToFloat64(m.UploadsSucceeded); got != 1 {
		t.Fatalf("UploadsSucceeded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.UploadsFailed); got != 0 {
		t.Fatalf("UploadsFailed = %v, want 0", got)
	}
}

func TestFinalizeIncrementsUploadFailed(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()
	p := New(nil, "default", dir, 0, &fakeStorage{uploadErr: errUpload}, logutil.Init("logpipeline-test", "error"), m)

	logPath := p.logFilePath("job2")
	if err := os.WriteFile(logPath, []byte("line\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.finalize(context.Background(), "job2", "quotes", "default"); err == nil {
		t.Fatal("expected finalize to return the upload error")
	}
	if got := testutil.ToFloat64(m.UploadsFailed); got != 1 {
		t.Fatalf("UploadsFailed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.UploadsSucceeded); got != 0 {
		t.Fatalf("UploadsSucceeded = %v, want 0", got)
	}
}

func TestSplitLines(t *testing.T) {
	cases := map[string][]string{
		"":          nil,
		"a":         {"a"},
		"a\n":       {"a"},
		"a\nb":      {"a", "b"},
		"a\nb\n":    {"a", "b"},
		"a\nb\nc\n": {"a", "b", "c"},
	}
	for in, want := range cases {
		got := splitLines(in)
		if len(got) != len(want) {
			t.Fatalf("splitLines(%q) = %v, want %v", in, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("splitLines(%q)[%d] = %q, want %q", in, i, got[i], want[i])
			}
		}
	}
}
