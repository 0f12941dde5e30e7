package k8sdriver

import (
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// New constructs a Driver. restConfig may be nil in tests that never
// exercise Cancel's exec-kill path.
func New(client kubernetes.Interface, restConfig *rest.Config, namespace, node, pullSecret string) *Driver {
	return &Driver{
		Client:     client,
		RestConfig: restConfig,
		Namespace:  namespace,
		Node:       node,
		PullSecret: pullSecret,
	}
}
