package containerizer

import (
	"context"
	"time"

	"karavan/internal/status"
)

// Labels attached to every karavan-managed container or pod.
const (
	LabelProjectID    = "org.apache.camel.karavan/projectId"
	LabelType         = "org.apache.camel.karavan/type"
	LabelEnv          = "org.apache.camel.karavan/env"
	LabelCamelRuntime = "org.apache.camel.karavan/runtime"
	LabelCommit       = "org.apache.camel.karavan/commit"
)

// ManagedSelector selects every object carrying a karavan type label.
const ManagedSelector = LabelType

// Runtime is the capability surface karavan needs from a container engine
// or an orchestrator. Every method takes a context and every failure is
// returned as a *RuntimeError.
type Runtime interface {
	// ListAll returns all objects matching a label selector.
	ListAll(ctx context.Context, selector string) ([]Object, error)

	// FindByName looks up a single object by its exact name.
	FindByName(ctx context.Context, name string) (Object, bool, error)

	// Create creates (but does not start) a container from config.
	Create(ctx context.Context, config ContainerConfig) (Object, error)

	Start(ctx context.Context, name string) error
	Pause(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error

	// Delete removes the object. Removing an absent object is not an error.
	Delete(ctx context.Context, name string) error

	// Stats takes a single, non-streaming usage sample.
	Stats(ctx context.Context, id string) (Usage, error)

	// CopyFiles writes files (name to content) into dir inside the container.
	CopyFiles(ctx context.Context, id, dir string, files map[string]string) error

	// ExecCommand runs cmd inside a running container and returns its output.
	ExecCommand(ctx context.Context, id string, cmd []string) (string, error)

	// StreamLogs follows the container log, calling fn once per line until
	// ctx is cancelled or the stream ends.
	StreamLogs(ctx context.Context, id string, fn func(line string)) error

	// Watch delivers lifecycle signals for managed objects until ctx is done.
	Watch(ctx context.Context, fn func(Signal)) error

	// Type reports which substrate this runtime drives.
	Type() RuntimeType
}

// ContainerConfig holds configuration for creating a container.
type ContainerConfig struct {
	Name    string            // Container or pod name
	Image   string            // Container image
	Labels  map[string]string // Labels, merged over the karavan labels
	Env     map[string]string // Environment variables
	Ports   []int             // Container ports to expose
	Command []string          // Command override
	Network string            // Engine network to attach (docker only)

	// ServiceAccount is used for pods (kubernetes only).
	ServiceAccount string
}

// Object is a container or pod as observed on the runtime.
type Object struct {
	ID        string
	Name      string
	Namespace string
	Image     string
	Labels    map[string]string
	Ports     []status.Port
	State     status.State
	Phase     string
	IP        string
	Created   time.Time
	Finished  time.Time
}

// SignalAction is the kind of lifecycle change a Signal reports.
type SignalAction string

const (
	SignalCreated SignalAction = "created"
	SignalUpdated SignalAction = "updated"
	SignalDeleted SignalAction = "deleted"
)

// Signal is a low-level lifecycle notification from a runtime.
type Signal struct {
	Action SignalAction
	Object Object
}
