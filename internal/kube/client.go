// Package kube builds a real k8s.io/client-go clientset, the way the
// teacher's kube.NewClientInCluster/NewClientFromFile pair constructed
// its hand-rolled REST client: in-cluster config when running as a pod,
// falling back to a kubeconfig file for local development.
package kube

import (
	"os"

	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewClientset returns a typed clientset using in-cluster config if a
// service account token is mounted, otherwise the kubeconfig at
// kubeconfigPath (empty string defaults to $KUBECONFIG / ~/.kube/config).
func NewClientset(kubeconfigPath string) (kubernetes.Interface, error) {
	cs, _, err := NewClientsetAndConfig(kubeconfigPath)
	return cs, err
}

// NewClientsetAndConfig is like NewClientset but also returns the
// underlying *rest.Config, needed by callers that open their own SPDY
// connections (the exec-based kill broadcast).
func NewClientsetAndConfig(kubeconfigPath string) (kubernetes.Interface, *rest.Config, error) {
	cfg, err := restConfig(kubeconfigPath)
	if err != nil {
		return nil, nil, goerrors.Wrap(err, "building kubernetes rest config")
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, nil, goerrors.Wrap(err, "constructing kubernetes clientset")
	}
	return cs, cfg, nil
}

func restConfig(kubeconfigPath string) (*rest.Config, error) {
	if _, err := os.Stat("/var/run/secrets/kubernetes.io/serviceaccount/token"); err == nil {
		return rest.InClusterConfig()
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		loadingRules.ExplicitPath = kubeconfigPath
	}
	overrides := &clientcmd.ConfigOverrides{}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
}
