package containerizer

import (
	"fmt"
	"strings"

	ctrl "sigs.k8s.io/controller-runtime"

	"karavan/pkg/logging"
)

// RuntimeType defines the type of container runtime
type RuntimeType string

const (
	RuntimeTypeAuto       RuntimeType = "auto"
	RuntimeTypeDocker     RuntimeType = "docker"
	RuntimeTypeKubernetes RuntimeType = "kubernetes"
)

// Options selects and configures a runtime.
type Options struct {
	// Type is auto, docker or kubernetes.
	Type string

	// Network is the engine network new containers join (docker).
	Network string

	// Namespace holds the karavan pods (kubernetes).
	Namespace string

	// PodTemplatePath overrides the built-in pod template (kubernetes).
	PodTemplatePath string
}

// ResolveType picks the concrete runtime type. Auto selects kubernetes when
// the process runs inside a cluster and docker otherwise.
func ResolveType(runtimeType string, env Environment) (RuntimeType, error) {
	rt := RuntimeType(strings.ToLower(runtimeType))

	switch rt {
	case RuntimeTypeAuto, "":
		if env.InKubernetes {
			return RuntimeTypeKubernetes, nil
		}
		return RuntimeTypeDocker, nil
	case RuntimeTypeDocker, RuntimeTypeKubernetes:
		return rt, nil
	default:
		return "", fmt.Errorf("unsupported container runtime: %s", runtimeType)
	}
}

// NewRuntime creates the runtime selected by opts. It is called once at
// startup.
func NewRuntime(opts Options, env Environment) (Runtime, error) {
	rt, err := ResolveType(opts.Type, env)
	if err != nil {
		return nil, err
	}
	logging.Info("Containerizer", "Using %s runtime (process environment: %s)", rt, env)

	switch rt {
	case RuntimeTypeKubernetes:
		restConfig, err := ctrl.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
		}
		return NewKubernetesRuntime(restConfig, opts.Namespace, opts.PodTemplatePath)
	default:
		return NewDockerRuntime(opts.Network)
	}
}
