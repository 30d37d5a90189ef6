package reload

import (
	"fmt"

	"karavan/internal/containerizer"
	"karavan/internal/status"
)

// DefaultPort is the dev-mode container's embedded HTTP port.
const DefaultPort = 8080

// ResolveAddress returns the base URL of rec's dev-mode endpoint. Inside a
// cluster the pod IP is used, inside a container on the engine network the
// container name, otherwise the host port published for port (or the first
// published port) on localhost.
func ResolveAddress(rec status.ContainerStatus, env containerizer.Environment, port int) (string, error) {
	if port == 0 {
		port = DefaultPort
	}
	fail := func(reason string) (string, error) {
		return "", &AddressResolutionError{ProjectID: rec.ProjectID, Reason: reason}
	}

	switch {
	case env.InKubernetes:
		if rec.PodIP == "" {
			return fail("pod has no IP yet")
		}
		return fmt.Sprintf("http://%s:%d", rec.PodIP, port), nil
	case env.InDocker:
		if rec.ContainerName == "" {
			return fail("record has no container name")
		}
		return fmt.Sprintf("http://%s:%d", rec.ContainerName, port), nil
	}

	for _, p := range rec.Ports {
		if p.PrivatePort == port && p.PublicPort > 0 {
			return fmt.Sprintf("http://localhost:%d", p.PublicPort), nil
		}
	}
	for _, p := range rec.Ports {
		if p.PublicPort > 0 {
			return fmt.Sprintf("http://localhost:%d", p.PublicPort), nil
		}
	}
	return fail("no published port")
}
