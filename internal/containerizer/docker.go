package containerizer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"karavan/internal/status"
	"karavan/pkg/logging"
)

const dockerSubsystem = "DockerRuntime"

// logTail is how many past lines are replayed when following logs.
const logTail = "100"

// dockerAPI is the subset of the Docker SDK client used by DockerRuntime.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerPause(ctx context.Context, containerID string) error
	ContainerUnpause(ctx context.Context, containerID string) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerStats(ctx context.Context, containerID string, stream bool) (types.ContainerStats, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options types.CopyToContainerOptions) error
	ContainerExecCreate(ctx context.Context, container string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error)
	ContainerLogs(ctx context.Context, container string, options container.LogsOptions) (io.ReadCloser, error)
	Events(ctx context.Context, options types.EventsOptions) (<-chan events.Message, <-chan error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, refStr string, options types.ImagePullOptions) (io.ReadCloser, error)
	Close() error
}

// DockerRuntime implements Runtime on a local Docker engine.
type DockerRuntime struct {
	cli dockerAPI

	// network is attached to every created container when set
	network string
}

// NewDockerRuntime connects to the engine configured by the DOCKER_*
// environment variables.
func NewDockerRuntime(network string) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newDockerRuntime(cli, network), nil
}

func newDockerRuntime(cli dockerAPI, network string) *DockerRuntime {
	return &DockerRuntime{cli: cli, network: network}
}

func (d *DockerRuntime) Type() RuntimeType {
	return RuntimeTypeDocker
}

func (d *DockerRuntime) wrap(op, name string, err error) error {
	if client.IsErrNotFound(err) {
		err = fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return newRuntimeError(RuntimeTypeDocker, op, name, err)
}

// ListAll returns every container, running or not, matching selector.
func (d *DockerRuntime) ListAll(ctx context.Context, selector string) ([]Object, error) {
	args := filters.NewArgs()
	if selector != "" {
		args.Add("label", selector)
	}
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, d.wrap("list", "", err)
	}

	result := make([]Object, 0, len(containers))
	for _, c := range containers {
		result = append(result, objectFromContainer(c))
	}
	return result, nil
}

// FindByName returns the container whose name matches exactly.
func (d *DockerRuntime) FindByName(ctx context.Context, name string) (Object, bool, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return Object{}, false, d.wrap("find", name, err)
	}
	// the name filter matches substrings
	for _, c := range containers {
		if containerName(c.Names) == name {
			return objectFromContainer(c), true, nil
		}
	}
	return Object{}, false, nil
}

func (d *DockerRuntime) Create(ctx context.Context, cfg ContainerConfig) (Object, error) {
	if err := d.ensureImage(ctx, cfg.Image); err != nil {
		return Object{}, d.wrap("pull", cfg.Image, err)
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range cfg.Ports {
		port := nat.Port(strconv.Itoa(p) + "/tcp")
		exposed[port] = struct{}{}
		// empty host port lets the engine pick a free one
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0"}}
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	var netCfg *network.NetworkingConfig
	networkName := cfg.Network
	if networkName == "" {
		networkName = d.network
	}
	if networkName != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				networkName: {Aliases: []string{cfg.Name}},
			},
		}
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        cfg.Image,
			Env:          env,
			Cmd:          cfg.Command,
			Labels:       maps.Clone(cfg.Labels),
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			PortBindings:  bindings,
			RestartPolicy: container.RestartPolicy{Name: "no"},
		},
		netCfg, nil, cfg.Name)
	if err != nil {
		return Object{}, d.wrap("create", cfg.Name, err)
	}
	for _, w := range resp.Warnings {
		logging.Warn(dockerSubsystem, "Create %s: %s", cfg.Name, w)
	}
	logging.Info(dockerSubsystem, "Created container %s (%s)", cfg.Name, shortID(resp.ID))

	obj, ok, err := d.FindByName(ctx, cfg.Name)
	if err != nil {
		return Object{}, err
	}
	if !ok {
		return Object{ID: resp.ID, Name: cfg.Name, Image: cfg.Image, Labels: cfg.Labels, State: status.StateCreated}, nil
	}
	return obj, nil
}

func (d *DockerRuntime) ensureImage(ctx context.Context, image string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}
	logging.Info(dockerSubsystem, "Pulling image %s", image)
	reader, err := d.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// lookup resolves a name to a container, failing with ErrNotFound.
func (d *DockerRuntime) lookup(ctx context.Context, op, name string) (Object, error) {
	obj, ok, err := d.FindByName(ctx, name)
	if err != nil {
		return Object{}, err
	}
	if !ok {
		return Object{}, d.wrap(op, name, ErrNotFound)
	}
	return obj, nil
}

// Start unpauses a paused container and starts a stopped one.
func (d *DockerRuntime) Start(ctx context.Context, name string) error {
	obj, err := d.lookup(ctx, "start", name)
	if err != nil {
		return err
	}
	switch obj.State {
	case status.StatePaused:
		return d.wrap("unpause", name, d.cli.ContainerUnpause(ctx, obj.ID))
	case status.StateRunning:
		return nil
	default:
		return d.wrap("start", name, d.cli.ContainerStart(ctx, obj.ID, container.StartOptions{}))
	}
}

func (d *DockerRuntime) Pause(ctx context.Context, name string) error {
	obj, err := d.lookup(ctx, "pause", name)
	if err != nil {
		return err
	}
	if obj.State != status.StateRunning {
		return nil
	}
	return d.wrap("pause", name, d.cli.ContainerPause(ctx, obj.ID))
}

func (d *DockerRuntime) Stop(ctx context.Context, name string) error {
	obj, err := d.lookup(ctx, "stop", name)
	if err != nil {
		return err
	}
	if obj.State != status.StateRunning && obj.State != status.StatePaused {
		return nil
	}
	timeout := 1
	return d.wrap("stop", name, d.cli.ContainerStop(ctx, obj.ID, container.StopOptions{Timeout: &timeout}))
}

func (d *DockerRuntime) Delete(ctx context.Context, name string) error {
	obj, ok, err := d.FindByName(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	err = d.cli.ContainerRemove(ctx, obj.ID, container.RemoveOptions{Force: true})
	if client.IsErrNotFound(err) {
		return nil
	}
	if err == nil {
		logging.Info(dockerSubsystem, "Removed container %s", name)
	}
	return d.wrap("delete", name, err)
}

func (d *DockerRuntime) Stats(ctx context.Context, id string) (Usage, error) {
	resp, err := d.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return Usage{}, d.wrap("stats", id, err)
	}
	defer resp.Body.Close()

	var stats types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return Usage{}, d.wrap("stats", id, fmt.Errorf("decode stats: %w", err))
	}
	return usageFromStats(stats), nil
}

func (d *DockerRuntime) CopyFiles(ctx context.Context, id, dir string, files map[string]string) error {
	archive, err := tarFiles(files, time.Now())
	if err != nil {
		return d.wrap("copy", id, err)
	}
	return d.wrap("copy", id, d.cli.CopyToContainer(ctx, id, dir, archive, types.CopyToContainerOptions{
		AllowOverwriteDirWithFile: true,
	}))
}

func (d *DockerRuntime) ExecCommand(ctx context.Context, id string, cmd []string) (string, error) {
	obj, ok, err := d.findByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", d.wrap("exec", id, ErrNotFound)
	}
	if obj.State != status.StateRunning {
		return "", d.wrap("exec", id, ErrNotRunning)
	}

	exec, err := d.cli.ContainerExecCreate(ctx, obj.ID, types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", d.wrap("exec", id, err)
	}
	attach, err := d.cli.ContainerExecAttach(ctx, exec.ID, types.ExecStartCheck{})
	if err != nil {
		return "", d.wrap("exec", id, err)
	}
	defer attach.Close()

	var out strings.Builder
	if _, err := stdcopy.StdCopy(&out, &out, attach.Reader); err != nil {
		return out.String(), d.wrap("exec", id, err)
	}
	return out.String(), nil
}

func (d *DockerRuntime) findByID(ctx context.Context, id string) (Object, bool, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("id", id)),
	})
	if err != nil {
		return Object{}, false, d.wrap("find", id, err)
	}
	if len(containers) == 0 {
		return Object{}, false, nil
	}
	return objectFromContainer(containers[0]), true, nil
}

func (d *DockerRuntime) StreamLogs(ctx context.Context, id string, fn func(line string)) error {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       logTail,
	})
	if err != nil {
		return d.wrap("logs", id, err)
	}
	defer rc.Close()

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		pw.CloseWithError(err)
	}()

	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return d.wrap("logs", id, err)
	}
	return nil
}

// Watch follows the engine event stream for managed containers. Each event
// is resolved to the current container so subscribers see a full Object.
func (d *DockerRuntime) Watch(ctx context.Context, fn func(Signal)) error {
	msgs, errs := d.cli.Events(ctx, types.EventsOptions{
		Filters: filters.NewArgs(
			filters.Arg("type", string(events.ContainerEventType)),
			filters.Arg("label", ManagedSelector),
		),
	})
	logging.Info(dockerSubsystem, "Watching container events")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if ctx.Err() != nil {
				return nil
			}
			return d.wrap("events", "", err)
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			d.handleEvent(ctx, msg, fn)
		}
	}
}

func (d *DockerRuntime) handleEvent(ctx context.Context, msg events.Message, fn func(Signal)) {
	name := msg.Actor.Attributes["name"]
	action := string(msg.Action)
	logging.Debug(dockerSubsystem, "Event %s for %s", action, name)

	if action == "destroy" {
		fn(Signal{Action: SignalDeleted, Object: Object{
			ID:     msg.Actor.ID,
			Name:   name,
			Labels: msg.Actor.Attributes,
		}})
		return
	}
	if strings.HasPrefix(action, "exec_") || action == "attach" || action == "top" {
		return
	}

	obj, ok, err := d.findByID(ctx, msg.Actor.ID)
	if err != nil {
		logging.Warn(dockerSubsystem, "Failed to resolve container %s for event %s: %v", name, action, err)
		return
	}
	if !ok {
		return
	}
	sigAction := SignalUpdated
	if action == "create" {
		sigAction = SignalCreated
	}
	fn(Signal{Action: sigAction, Object: obj})
}

// Close releases the engine connection.
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

func objectFromContainer(c types.Container) Object {
	obj := Object{
		ID:      c.ID,
		Name:    containerName(c.Names),
		Image:   c.Image,
		Labels:  maps.Clone(c.Labels),
		State:   status.State(c.State),
		Created: time.Unix(c.Created, 0).UTC(),
	}
	for _, p := range c.Ports {
		obj.Ports = append(obj.Ports, status.Port{
			PrivatePort: int(p.PrivatePort),
			PublicPort:  int(p.PublicPort),
			Type:        p.Type,
		})
	}
	if c.NetworkSettings != nil {
		for _, n := range c.NetworkSettings.Networks {
			if n != nil && n.IPAddress != "" {
				obj.IP = n.IPAddress
				break
			}
		}
	}
	return obj
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func usageFromStats(s types.StatsJSON) Usage {
	u := Usage{
		MemoryUsage: s.MemoryStats.Usage,
		MemoryLimit: s.MemoryStats.Limit,
	}
	// page cache is not working-set memory
	if cache, ok := s.MemoryStats.Stats["inactive_file"]; ok && cache < u.MemoryUsage {
		u.MemoryUsage -= cache
	} else if cache, ok := s.MemoryStats.Stats["cache"]; ok && cache < u.MemoryUsage {
		u.MemoryUsage -= cache
	}

	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	online := float64(s.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && systemDelta > 0 {
		u.CPUPercent = cpuDelta / systemDelta * online * 100
	}
	return u
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
