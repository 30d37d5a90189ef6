package status

import (
	"errors"
	"maps"
	"slices"
	"time"
)

// ContainerType is the kind of workload a container runs.
type ContainerType string

const (
	TypeDevMode    ContainerType = "devmode"
	TypeBuild      ContainerType = "build"
	TypePackaged   ContainerType = "packaged"
	TypeDevService ContainerType = "devservice"
	TypeUnknown    ContainerType = "unknown"
)

// ParseContainerType maps a label value to a ContainerType.
func ParseContainerType(s string) ContainerType {
	switch ContainerType(s) {
	case TypeDevMode, TypeBuild, TypePackaged, TypeDevService:
		return ContainerType(s)
	default:
		return TypeUnknown
	}
}

// State is the lifecycle state of a container as reported by the runtime.
type State string

const (
	StateCreated    State = "created"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StatePaused     State = "paused"
	StateExited     State = "exited"
	StateDead       State = "dead"
	StateRemoving   State = "removing"
)

// Command is an action a user may issue against a container.
type Command string

const (
	CommandRun    Command = "run"
	CommandPause  Command = "pause"
	CommandStop   Command = "stop"
	CommandDelete Command = "delete"
)

// CommandsForState returns the commands available for a container in the
// given state.
func CommandsForState(state State) []Command {
	switch state {
	case StateRunning:
		return []Command{CommandPause, CommandStop, CommandDelete}
	case StatePaused:
		return []Command{CommandRun, CommandStop, CommandDelete}
	case StateCreated, StateExited, StateDead:
		return []Command{CommandRun, CommandDelete}
	case StateRestarting:
		return []Command{CommandStop, CommandDelete}
	default:
		return []Command{CommandDelete}
	}
}

// Port is a declared container port and, when published, its host port.
type Port struct {
	PrivatePort int    `json:"privatePort"`
	PublicPort  int    `json:"publicPort,omitempty"`
	Type        string `json:"type,omitempty"`
}

// ContainerStatus is the cached snapshot of one container or pod.
//
// An empty ContainerID stands for "not created yet". TransitStart is an
// RFC 3339 timestamp and is only meaningful while InTransit is set.
type ContainerStatus struct {
	ProjectID     string            `json:"projectId"`
	Env           string            `json:"env"`
	ContainerName string            `json:"containerName"`
	ContainerID   string            `json:"containerId,omitempty"`
	Image         string            `json:"image,omitempty"`
	Ports         []Port            `json:"ports,omitempty"`
	Type          ContainerType     `json:"type"`
	State         State             `json:"state,omitempty"`
	Phase         string            `json:"phase,omitempty"`
	MemoryInfo    string            `json:"memoryInfo,omitempty"`
	CPUInfo       string            `json:"cpuInfo,omitempty"`
	Created       string            `json:"created,omitempty"`
	Finished      string            `json:"finished,omitempty"`
	Commands      []Command         `json:"commands,omitempty"`
	CodeLoaded    bool              `json:"codeLoaded"`
	InTransit     bool              `json:"inTransit"`
	TransitStart  string            `json:"initDate,omitempty"`
	PodIP         string            `json:"podIP,omitempty"`
	CamelRuntime  string            `json:"camelRuntime,omitempty"`
	Commit        string            `json:"commit,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// NewDevMode returns an empty dev-mode record for a project.
func NewDevMode(projectID, env string) ContainerStatus {
	return ContainerStatus{
		ProjectID:     projectID,
		Env:           env,
		ContainerName: projectID,
		Type:          TypeDevMode,
	}
}

// NewInTransit returns the record written when a creation command is issued,
// before the runtime reports the container.
func NewInTransit(projectID, env, name string, kind ContainerType, now time.Time) ContainerStatus {
	return ContainerStatus{
		ProjectID:     projectID,
		Env:           env,
		ContainerName: name,
		Type:          kind,
		InTransit:     true,
		TransitStart:  now.UTC().Format(time.RFC3339Nano),
	}
}

// Key returns the cache key of the record.
func (s ContainerStatus) Key() GroupedKey {
	return GroupedKey{ProjectID: s.ProjectID, Env: s.Env, Kind: s.Type}
}

// Copy returns a deep copy of the record.
func (s ContainerStatus) Copy() ContainerStatus {
	c := s
	c.Ports = slices.Clone(s.Ports)
	c.Commands = slices.Clone(s.Commands)
	c.Labels = maps.Clone(s.Labels)
	return c
}

// HasCommand reports whether cmd is currently available.
func (s ContainerStatus) HasCommand(cmd Command) bool {
	return slices.Contains(s.Commands, cmd)
}

// Validate checks the structural invariants of the record.
func (s ContainerStatus) Validate() error {
	var errs []error
	if s.ProjectID == "" {
		errs = append(errs, errors.New("projectId is required"))
	}
	if s.Env == "" {
		errs = append(errs, errors.New("env is required"))
	}
	if s.InTransit {
		if s.ContainerID != "" {
			errs = append(errs, errors.New("record in transit must not have a containerId"))
		}
		if s.TransitStart == "" {
			errs = append(errs, errors.New("record in transit must have a transit start"))
		}
	}
	if s.CodeLoaded && s.Type != TypeDevMode {
		errs = append(errs, errors.New("codeLoaded is only valid for devmode containers"))
	}
	return errors.Join(errs...)
}
