package containerizer

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karavan/internal/status"
)

// fakeDocker is an in-memory stand-in for the Docker SDK client.
type fakeDocker struct {
	mu         sync.Mutex
	containers []types.Container
	calls      []string
	stats      types.StatsJSON
	copied     map[string][]byte
	listErr    error
}

func (f *fakeDocker) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDocker) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDocker) ContainerList(_ context.Context, options container.ListOptions) ([]types.Container, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var result []types.Container
	for _, c := range f.containers {
		if names := options.Filters.Get("name"); len(names) > 0 && !strings.Contains(containerName(c.Names), names[0]) {
			continue
		}
		if ids := options.Filters.Get("id"); len(ids) > 0 && c.ID != ids[0] {
			continue
		}
		if sel := options.Filters.Get("label"); len(sel) > 0 {
			if _, ok := c.Labels[sel[0]]; !ok {
				continue
			}
		}
		result = append(result, c)
	}
	return result, nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, config *container.Config, _ *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.record("create " + name)
	f.containers = append(f.containers, types.Container{
		ID: "id-" + name, Names: []string{"/" + name}, Image: config.Image, Labels: config.Labels, State: "created",
	})
	return container.CreateResponse{ID: "id-" + name}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.record("start " + id)
	return nil
}

func (f *fakeDocker) ContainerPause(_ context.Context, id string) error {
	f.record("pause " + id)
	return nil
}

func (f *fakeDocker) ContainerUnpause(_ context.Context, id string) error {
	f.record("unpause " + id)
	return nil
}

func (f *fakeDocker) ContainerStop(_ context.Context, id string, options container.StopOptions) error {
	f.record("stop " + id)
	if options.Timeout == nil || *options.Timeout != 1 {
		return errors.New("expected a one second stop timeout")
	}
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, options container.RemoveOptions) error {
	f.record("remove " + id)
	if !options.Force {
		return errors.New("expected forced removal")
	}
	return nil
}

func (f *fakeDocker) ContainerStats(_ context.Context, id string, stream bool) (types.ContainerStats, error) {
	f.record("stats " + id)
	if stream {
		return types.ContainerStats{}, errors.New("expected a single sample")
	}
	data, _ := json.Marshal(f.stats)
	return types.ContainerStats{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeDocker) CopyToContainer(_ context.Context, id, dst string, content io.Reader, _ types.CopyToContainerOptions) error {
	f.record("copy " + id + " " + dst)
	f.copied = map[string][]byte{}
	tr := tar.NewReader(content)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		data, _ := io.ReadAll(tr)
		f.copied[hdr.Name] = data
	}
}

func (f *fakeDocker) ContainerExecCreate(_ context.Context, id string, _ types.ExecConfig) (types.IDResponse, error) {
	f.record("exec " + id)
	return types.IDResponse{}, errors.New("exec not supported by fake")
}

func (f *fakeDocker) ContainerExecAttach(context.Context, string, types.ExecStartCheck) (types.HijackedResponse, error) {
	return types.HijackedResponse{}, errors.New("exec not supported by fake")
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	return nil, errors.New("logs not supported by fake")
}

func (f *fakeDocker) Events(context.Context, types.EventsOptions) (<-chan events.Message, <-chan error) {
	return make(chan events.Message), make(chan error)
}

func (f *fakeDocker) ImageInspectWithRaw(context.Context, string) (types.ImageInspect, []byte, error) {
	return types.ImageInspect{}, nil, nil
}

func (f *fakeDocker) ImagePull(context.Context, string, types.ImagePullOptions) (io.ReadCloser, error) {
	f.record("pull")
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeDocker) Close() error { return nil }

func managedContainer(name, state string) types.Container {
	return types.Container{
		ID:    "id-" + name,
		Names: []string{"/" + name},
		Image: "ghcr.io/apache/camel-karavan-devmode:4.14.2",
		State: state,
		Labels: map[string]string{
			LabelProjectID: name,
			LabelType:      "devmode",
		},
		Ports: []types.Port{{PrivatePort: 8080, PublicPort: 32768, Type: "tcp"}},
	}
}

func TestDockerRuntime_ListAll(t *testing.T) {
	fake := &fakeDocker{containers: []types.Container{
		managedContainer("orders", "running"),
		{ID: "other", Names: []string{"/unrelated"}, State: "running"},
	}}
	rt := newDockerRuntime(fake, "karavan")

	objs, err := rt.ListAll(context.Background(), ManagedSelector)
	require.NoError(t, err)
	require.Len(t, objs, 1)

	obj := objs[0]
	assert.Equal(t, "orders", obj.Name)
	assert.Equal(t, "id-orders", obj.ID)
	assert.Equal(t, status.StateRunning, obj.State)
	assert.Equal(t, []status.Port{{PrivatePort: 8080, PublicPort: 32768, Type: "tcp"}}, obj.Ports)
	assert.Equal(t, "orders", obj.Labels[LabelProjectID])
}

func TestDockerRuntime_ListAllWrapsErrors(t *testing.T) {
	rt := newDockerRuntime(&fakeDocker{listErr: errors.New("daemon unavailable")}, "")

	_, err := rt.ListAll(context.Background(), ManagedSelector)
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.Contains(t, err.Error(), "daemon unavailable")
}

func TestDockerRuntime_FindByNameIsExact(t *testing.T) {
	fake := &fakeDocker{containers: []types.Container{
		managedContainer("orders-build", "exited"),
		managedContainer("orders", "running"),
	}}
	rt := newDockerRuntime(fake, "")

	obj, ok, err := rt.FindByName(context.Background(), "orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "id-orders", obj.ID)

	_, ok, err = rt.FindByName(context.Background(), "order")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDockerRuntime_StartDependsOnState(t *testing.T) {
	tests := []struct {
		state    string
		expected []string
	}{
		{"paused", []string{"unpause id-p"}},
		{"running", nil},
		{"exited", []string{"start id-p"}},
		{"created", []string{"start id-p"}},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			fake := &fakeDocker{containers: []types.Container{managedContainer("p", tt.state)}}
			require.NoError(t, newDockerRuntime(fake, "").Start(context.Background(), "p"))
			assert.Equal(t, tt.expected, fake.Calls())
		})
	}
}

func TestDockerRuntime_StartMissing(t *testing.T) {
	err := newDockerRuntime(&fakeDocker{}, "").Start(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestDockerRuntime_PauseAndStopOnlyWhenApplicable(t *testing.T) {
	fake := &fakeDocker{containers: []types.Container{
		managedContainer("running", "running"),
		managedContainer("exited", "exited"),
	}}
	rt := newDockerRuntime(fake, "")
	ctx := context.Background()

	require.NoError(t, rt.Pause(ctx, "exited"))
	require.NoError(t, rt.Stop(ctx, "exited"))
	assert.Empty(t, fake.Calls())

	require.NoError(t, rt.Pause(ctx, "running"))
	require.NoError(t, rt.Stop(ctx, "running"))
	assert.Equal(t, []string{"pause id-running", "stop id-running"}, fake.Calls())
}

func TestDockerRuntime_DeleteAbsentIsNoop(t *testing.T) {
	fake := &fakeDocker{}
	require.NoError(t, newDockerRuntime(fake, "").Delete(context.Background(), "ghost"))
	assert.Empty(t, fake.Calls())

	fake.containers = []types.Container{managedContainer("orders", "running")}
	require.NoError(t, newDockerRuntime(fake, "").Delete(context.Background(), "orders"))
	assert.Equal(t, []string{"remove id-orders"}, fake.Calls())
}

func TestDockerRuntime_Create(t *testing.T) {
	fake := &fakeDocker{}
	rt := newDockerRuntime(fake, "karavan")

	obj, err := rt.Create(context.Background(), ContainerConfig{
		Name:   "orders",
		Image:  "devmode:latest",
		Labels: map[string]string{LabelProjectID: "orders", LabelType: "devmode"},
		Ports:  []int{8080},
	})
	require.NoError(t, err)
	assert.Equal(t, "id-orders", obj.ID)
	assert.Equal(t, status.StateCreated, obj.State)
	assert.Equal(t, []string{"create orders"}, fake.Calls())
}

func TestDockerRuntime_Stats(t *testing.T) {
	var stats types.StatsJSON
	stats.CPUStats.CPUUsage.TotalUsage = 400
	stats.CPUStats.SystemUsage = 2000
	stats.CPUStats.OnlineCPUs = 2
	stats.PreCPUStats.CPUUsage.TotalUsage = 200
	stats.PreCPUStats.SystemUsage = 1000
	stats.MemoryStats.Usage = 300 << 20
	stats.MemoryStats.Limit = 1 << 30
	stats.MemoryStats.Stats = map[string]uint64{"inactive_file": 100 << 20}

	rt := newDockerRuntime(&fakeDocker{stats: stats}, "")
	usage, err := rt.Stats(context.Background(), "id-orders")
	require.NoError(t, err)

	assert.InDelta(t, 40.0, usage.CPUPercent, 0.001)
	assert.Equal(t, uint64(200<<20), usage.MemoryUsage)
	assert.Equal(t, uint64(1<<30), usage.MemoryLimit)
	assert.Equal(t, "40.00%", usage.CPUInfo())
	assert.Equal(t, "200MiB / 1GiB", usage.MemoryInfo())
}

func TestDockerRuntime_CopyFiles(t *testing.T) {
	fake := &fakeDocker{}
	rt := newDockerRuntime(fake, "")

	err := rt.CopyFiles(context.Background(), "id-orders", "/karavan/code", map[string]string{
		"routes.camel.yaml":      "- from: timer",
		"application.properties": "camel.main.name=orders",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"copy id-orders /karavan/code"}, fake.Calls())
	assert.Equal(t, "- from: timer", string(fake.copied["routes.camel.yaml"]))
	assert.Equal(t, "camel.main.name=orders", string(fake.copied["application.properties"]))
}

func TestDockerRuntime_ExecRequiresRunning(t *testing.T) {
	fake := &fakeDocker{containers: []types.Container{managedContainer("orders", "exited")}}

	_, err := newDockerRuntime(fake, "").ExecCommand(context.Background(), "id-orders", []string{"ls"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotRunning))
	assert.Empty(t, fake.Calls())
}

func TestDockerRuntime_HandleDestroyEvent(t *testing.T) {
	rt := newDockerRuntime(&fakeDocker{}, "")

	var got []Signal
	rt.handleEvent(context.Background(), events.Message{
		Action: "destroy",
		Actor: events.Actor{
			ID:         "id-orders",
			Attributes: map[string]string{"name": "orders", LabelProjectID: "orders", LabelType: "devmode"},
		},
	}, func(s Signal) { got = append(got, s) })

	require.Len(t, got, 1)
	assert.Equal(t, SignalDeleted, got[0].Action)
	assert.Equal(t, "orders", got[0].Object.Name)
}

func TestDockerRuntime_HandleStartEvent(t *testing.T) {
	fake := &fakeDocker{containers: []types.Container{managedContainer("orders", "running")}}
	rt := newDockerRuntime(fake, "")

	var got []Signal
	rt.handleEvent(context.Background(), events.Message{
		Action: "start",
		Actor:  events.Actor{ID: "id-orders", Attributes: map[string]string{"name": "orders"}},
	}, func(s Signal) { got = append(got, s) })

	require.Len(t, got, 1)
	assert.Equal(t, SignalUpdated, got[0].Action)
	assert.Equal(t, status.StateRunning, got[0].Object.State)
}
