// Package logpipeline is the Log Pipeline: it watches job pods,
// tails the logs of running ones to a local file without duplicating
// lines across reconnects, and hands completed logs off to object
// storage. Grounded on
// scrapyd_k8s/joblogs/log_handler_k8s.py's KubernetesJobLogHandler,
// translated from its watch-thread-per-pod model to one goroutine per
// pod guarded by a map, in the idiom of the Resource Watcher's
// reconnect loop.
package logpipeline

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/scrapyd-k8s/scrapyd-k8s/internal/metrics"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/model"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/objectstorage"
	"github.com/scrapyd-k8s/scrapyd-k8s/internal/objectstorage/compress"
)

// defaultBlockSize balances memory use against I/O calls when reading
// the tail of an existing log file backwards.
const defaultBlockSize = 6144

// Pipeline tails pod logs to logsDir and uploads completed ones to
// object storage.
type Pipeline struct {
	client          kubernetes.Interface
	namespace       string
	logsDir         string
	numLinesToCheck int
	compression     string
	storage         objectstorage.Storage
	log             *logrus.Entry
	metrics         *metrics.Metrics

	mu     sync.Mutex
	active map[string]bool
}

// Option configures optional Pipeline behavior.
type Option func(*Pipeline)

// WithCompression sets the compression method applied before upload.
// An empty method uploads logs uncompressed.
func WithCompression(method string) Option {
	return func(p *Pipeline) { p.compression = method }
}

// New constructs a Pipeline. numLinesToCheck bounds how many trailing
// lines of an existing log file are compared against the new stream
// to detect and skip duplicate lines after a reconnect. m may be nil
// when metrics are disabled.
func New(client kubernetes.Interface, namespace, logsDir string, numLinesToCheck int, storage objectstorage.Storage, log *logrus.Entry, m *metrics.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		client:          client,
		namespace:       namespace,
		logsDir:         logsDir,
		numLinesToCheck: numLinesToCheck,
		storage:         storage,
		log:             log,
		metrics:         m,
		active:          make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run watches job pods until ctx is canceled, reconnecting on stream
// end or expired resource versions.
func (p *Pipeline) Run(ctx context.Context) error {
	resourceVersion := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		w, err := p.client.CoreV1().Pods(p.namespace).Watch(ctx, metav1.ListOptions{
			LabelSelector:   model.LabelJobID,
			ResourceVersion: resourceVersion,
		})
		if err != nil {
			if !apierrors.IsResourceExpired(err) && !apierrors.IsGone(err) {
				p.log.WithError(err).Warn("pod watch failed, retrying")
			}
			resourceVersion = ""
			continue
		}

		resourceVersion = p.consume(ctx, w)
	}
}

func (p *Pipeline) consume(ctx context.Context, w watch.Interface) string {
	defer w.Stop()
	resourceVersion := ""
	for {
		select {
		case <-ctx.Done():
			return resourceVersion
		case ev, ok := <-w.ResultChan():
			if !ok {
				return ""
			}
			if ev.Type == watch.Error {
				if status, ok := ev.Object.(*metav1.Status); ok && (status.Code == 410 || status.Reason == metav1.StatusReasonExpired) {
					return ""
				}
				return ""
			}
			pod, ok := ev.Object.(*corev1.Pod)
			if !ok {
				continue
			}
			resourceVersion = pod.ResourceVersion
			p.handlePodEvent(ctx, pod)
		}
	}
}

func (p *Pipeline) handlePodEvent(ctx context.Context, pod *corev1.Pod) {
	jobID, ok := pod.Labels[model.LabelJobID]
	if !ok {
		return
	}

	switch pod.Status.Phase {
	case corev1.PodRunning:
		p.ensureStreaming(ctx, jobID, pod.Name)
	case corev1.PodSucceeded, corev1.PodFailed:
		project := pod.Labels[model.LabelProject]
		spider := pod.Labels[model.LabelSpider]
		if err := p.finalize(ctx, jobID, project, spider); err != nil {
			p.log.WithError(err).WithField("job_id", jobID).Error("finalizing job log failed")
		}
	}
}

func (p *Pipeline) ensureStreaming(ctx context.Context, jobID, podName string) {
	key := p.namespace + "_" + podName
	p.mu.Lock()
	if p.active[key] {
		p.mu.Unlock()
		return
	}
	p.active[key] = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.active, key)
			p.mu.Unlock()
		}()
		if err := p.streamLogs(ctx, jobID, podName); err != nil {
			p.log.WithError(err).WithField("job_id", jobID).Error("streaming pod logs failed")
		}
	}()
}

func (p *Pipeline) logFilePath(jobID string) string {
	return filepath.Join(p.logsDir, jobID+".txt")
}

func (p *Pipeline) existingLogFilePath(jobID string) string {
	path := p.logFilePath(jobID)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path
	}
	return ""
}

func (p *Pipeline) makeLogFilename(jobID string) (string, error) {
	if err := os.MkdirAll(p.logsDir, 0o755); err != nil {
		return "", err
	}
	path := p.logFilePath(jobID)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	return path, f.Close()
}

// streamLogs follows a pod's log stream, appending genuinely new
// lines to the job's persistent log file while buffering the whole
// stream to a temp file. Lines already present in the file's tail
// (from a previous connection to the same pod) are matched against
// the start of the new stream and skipped, so a reconnect never
// duplicates output.
func (p *Pipeline) streamLogs(ctx context.Context, jobID, podName string) error {
	logPath, err := p.makeLogFilename(jobID)
	if err != nil {
		return err
	}
	lastLines, err := getLastNLines(logPath, p.numLinesToCheck)
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer logFile.Close()

	tempFile, err := os.CreateTemp(p.logsDir, jobID+"_logs_tmp_*.txt")
	if err != nil {
		return err
	}
	tempPath := tempFile.Name()

	req := p.client.CoreV1().Pods(p.namespace).GetLogs(podName, &corev1.PodLogOptions{Follow: true})
	stream, err := req.Stream(ctx)
	if err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return err
	}
	defer stream.Close()

	matched := 0
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if _, err := tempFile.WriteString(line + "\n"); err != nil {
			break
		}

		switch {
		case matched == len(lastLines):
			logFile.WriteString(line + "\n")
		case line == lastLines[matched]:
			matched++
		default:
			matched = 0
		}
	}
	tempFile.Close()

	if len(lastLines) > matched {
		return concatenateAndDelete(logPath, tempPath)
	}
	return os.Remove(tempPath)
}

func concatenateAndDelete(mainPath, tempPath string) error {
	main, err := os.OpenFile(mainPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer main.Close()

	temp, err := os.Open(tempPath)
	if err != nil {
		return err
	}
	defer temp.Close()

	if _, err := io.Copy(main, temp); err != nil {
		return err
	}
	return os.Remove(tempPath)
}

// getLastNLines reads the trailing numLines lines of path, growing
// the read window backwards in defaultBlockSize chunks until more than
// numLines newlines are found (so the oldest returned line is whole) or
// the file is exhausted.
func getLastNLines(path string, numLines int) ([]string, error) {
	if numLines <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := info.Size()

	var data []byte
	for fileSize > 0 && countNewlines(data) <= numLines {
		blockSize := int64(defaultBlockSize)
		var block []byte
		if fileSize-blockSize > 0 {
			block = make([]byte, blockSize)
			if _, err := f.ReadAt(block, fileSize-blockSize); err != nil && err != io.EOF {
				return nil, err
			}
			fileSize -= blockSize
		} else {
			block = make([]byte, fileSize)
			if _, err := f.ReadAt(block, 0); err != nil && err != io.EOF {
				return nil, err
			}
			fileSize = 0
		}
		data = append(block, data...)
	}

	lines := splitLines(string(data))
	if len(lines) > numLines {
		lines = lines[len(lines)-numLines:]
	}
	return lines, nil
}

func countNewlines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// finalize uploads a completed job's log file to object storage,
// compressing it first if configured, and removes the local copy
// whether upload succeeds or the object already exists from a prior
// run.
func (p *Pipeline) finalize(ctx context.Context, jobID, project, spider string) error {
	logPath := p.existingLogFilePath(jobID)
	if logPath == "" {
		p.log.WithField("job_id", jobID).Debug("no local log file for completed job")
		return nil
	}
	info, err := os.Stat(logPath)
	if err != nil || info.Size() == 0 {
		return nil
	}

	prefix := objectstorage.ObjectKeyPrefix(project, spider, jobID)
	exists, err := p.storage.ExistsWithPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	if exists {
		p.log.WithField("job_id", jobID).Info("log already present in storage")
		return os.Remove(logPath)
	}

	uploadPath := logPath
	ext := ""
	if p.compression != "" {
		compressedPath, err := compress.Compress(p.compression, logPath)
		if err != nil {
			return err
		}
		defer os.Remove(compressedPath)
		uploadPath = compressedPath
		ext = compress.Extension[p.compression]
	}

	objectKey := objectstorage.ObjectKey(project, spider, jobID, ext)
	if err := p.storage.Upload(ctx, uploadPath, objectKey); err != nil {
		if p.metrics != nil {
			p.metrics.UploadsFailed.Inc()
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.UploadsSucceeded.Inc()
	}
	return os.Remove(logPath)
}
