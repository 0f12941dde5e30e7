// Package execkill broadcasts a signal across a pod's shared PID
// namespace by exec-ing killall5 inside it — the Go equivalent of the
// original launcher's kubernetes.stream.stream(...,
// connect_get_namespaced_pod_exec, command=['/usr/sbin/killall5', ...]),
// built on client-go's SPDY executor instead of the Python client's
// stream helper.
package execkill

import (
	"bytes"
	"context"
	"strconv"
	"syscall"

	"k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
)

// signalNumbers maps the bare POSIX signal names scrapyd-k8s accepts
// (as passed to /cancel.json's signal form field) to their numeric
// values. killall5 builds in minimal job images commonly parse only
// numeric arguments, not names, so the name has to be resolved here
// the way the original launcher resolves Signals['SIG' + signal].value
// before shelling out.
var signalNumbers = map[string]syscall.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"ABRT": syscall.SIGABRT,
	"KILL": syscall.SIGKILL,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
	"TERM": syscall.SIGTERM,
	"CONT": syscall.SIGCONT,
	"STOP": syscall.SIGSTOP,
}

// Broadcast sends signal to every process in podName's PID namespace by
// invoking /usr/sbin/killall5 through the pod's exec subresource. The
// pod template must have shared process namespace enabled for this to
// reach the spider subprocess, not just PID 1.
func Broadcast(ctx context.Context, cs kubernetes.Interface, restConfig *rest.Config, namespace, podName, signal string) error {
	num, ok := signalNumbers[signal]
	if !ok {
		return goerrors.New("unknown signal: " + signal)
	}

	req := cs.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(podName).
		Namespace(namespace).
		SubResource("exec")

	req.VersionedParams(&v1.PodExecOptions{
		Command: []string{"/usr/sbin/killall5", "-" + strconv.Itoa(int(num))},
		Stdout:  true,
		Stderr:  true,
	}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(restConfig, "POST", req.URL())
	if err != nil {
		return goerrors.Wrap(err, "constructing exec executor")
	}

	var stdout, stderr bytes.Buffer
	err = executor.Stream(remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return goerrors.Wrapf(err, "killall5 exec in pod %s: %s", podName, stderr.String())
	}
	return nil
}
