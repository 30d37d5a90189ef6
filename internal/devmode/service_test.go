package devmode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karavan/internal/cache"
	"karavan/internal/containerizer"
	"karavan/internal/containerizer/containerizertest"
	"karavan/internal/events"
	"karavan/internal/reload"
	"karavan/internal/status"
)

type fakeReloader struct {
	mu      sync.Mutex
	log     []string
	active  int
	overlap bool
	delay   time.Duration
	err     error
	results map[string]reload.Result
}

func (r *fakeReloader) Reload(_ context.Context, projectID string) error {
	r.mu.Lock()
	r.active++
	if r.active > 1 {
		r.overlap = true
	}
	r.log = append(r.log, "start "+projectID)
	r.mu.Unlock()

	time.Sleep(r.delay)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
	r.log = append(r.log, "end "+projectID)
	if r.results == nil {
		r.results = make(map[string]reload.Result)
	}
	result := reload.Result{ProjectID: projectID, Success: r.err == nil}
	if r.err != nil {
		result.Error = r.err.Error()
	}
	r.results[projectID] = result
	return r.err
}

func (r *fakeReloader) LastResult(projectID string) (reload.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[projectID]
	return res, ok
}

type fileMap map[string]map[string]string

func (f fileMap) Files(_ context.Context, projectID string) (map[string]string, error) {
	files, ok := f[projectID]
	if !ok {
		return nil, errors.New("no such project")
	}
	return files, nil
}

func (f fileMap) Commit(string) (string, error) {
	return "", nil
}

type triggerRecorder struct {
	mu   sync.Mutex
	envs []string
}

func (t *triggerRecorder) Trigger(env string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.envs = append(t.envs, env)
}

func (t *triggerRecorder) get() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.envs...)
}

type fixture struct {
	service  *Service
	bus      *events.Bus
	store    *cache.MemoryStore
	runtime  *containerizertest.FakeRuntime
	reloader *fakeReloader
	trigger  *triggerRecorder
}

func newFixture(t *testing.T, reloader Reloader) *fixture {
	t.Helper()
	f := &fixture{
		bus:     events.NewBus(events.BusConfig{}),
		store:   cache.NewMemoryStore(),
		runtime: containerizertest.NewFakeRuntime(),
		trigger: &triggerRecorder{},
	}
	if reloader == nil {
		f.reloader = &fakeReloader{}
		reloader = f.reloader
	}
	source := fileMap{"orders": {"orders.camel.yaml": "- from: {}"}}
	f.service = NewService(Config{Environment: "dev", Image: "devmode:1"}, f.store, f.bus, f.runtime, reloader, source, f.trigger)
	f.service.Register()
	require.NoError(t, f.bus.Start(context.Background()))
	t.Cleanup(f.bus.Stop)
	return f
}

func runningRecord(projectID string) status.ContainerStatus {
	rec := status.NewDevMode(projectID, "dev")
	rec.ContainerID = "id-" + projectID
	rec.State = status.StateRunning
	rec.Commands = status.CommandsForState(status.StateRunning)
	return rec
}

func TestCacheUpdater(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := runningRecord("orders")

	require.NoError(t, events.PublishRecord(ctx, f.bus, events.TopicContainerCreated, rec))
	f.bus.Wait()
	got, ok, err := f.service.GetStatus(ctx, "orders", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	sample := rec.Copy()
	sample.MemoryInfo = "128MiB / 1GiB"
	sample.CPUInfo = "12.5%"
	sample.State = status.StateExited
	require.NoError(t, events.PublishRecord(ctx, f.bus, events.TopicStatisticsUpdated, sample))
	f.bus.Wait()
	got, _, _ = f.service.GetStatus(ctx, "orders", "dev")
	assert.Equal(t, "128MiB / 1GiB", got.MemoryInfo)
	assert.Equal(t, "12.5%", got.CPUInfo)
	assert.Equal(t, status.StateRunning, got.State, "usage samples only touch usage fields")

	stale := sample.Copy()
	stale.ContainerID = "old"
	stale.CPUInfo = "99%"
	require.NoError(t, events.PublishRecord(ctx, f.bus, events.TopicStatisticsUpdated, stale))
	f.bus.Wait()
	got, _, _ = f.service.GetStatus(ctx, "orders", "dev")
	assert.Equal(t, "12.5%", got.CPUInfo)

	require.NoError(t, events.PublishRecord(ctx, f.bus, events.TopicContainerDeleted, rec))
	f.bus.Wait()
	_, ok, _ = f.service.GetStatus(ctx, "orders", "dev")
	assert.False(t, ok)
}

func TestRequestReload_SequentialPerProject(t *testing.T) {
	f := newFixture(t, nil)
	f.reloader.delay = 50 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, f.service.RequestReload(ctx, "p1"))
	require.NoError(t, f.service.RequestReload(ctx, "p1"))
	f.bus.Wait()

	assert.False(t, f.reloader.overlap)
	assert.Equal(t, []string{"start p1", "end p1", "start p1", "end p1"}, f.reloader.log)
}

func TestRequestReload_ProjectsRunConcurrently(t *testing.T) {
	f := newFixture(t, nil)
	f.reloader.delay = 100 * time.Millisecond
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, f.service.RequestReload(ctx, "p1"))
	require.NoError(t, f.service.RequestReload(ctx, "p2"))
	f.bus.Wait()

	assert.True(t, f.reloader.overlap)
	assert.Less(t, time.Since(start), 190*time.Millisecond)
}

func TestRequestReload_RequiresProject(t *testing.T) {
	f := newFixture(t, nil)
	assert.Error(t, f.service.RequestReload(context.Background(), ""))
}

func TestRequestReload_WithoutContainer(t *testing.T) {
	bus := events.NewBus(events.BusConfig{})
	store := cache.NewMemoryStore()
	orchestrator := reload.NewOrchestrator(reload.Config{Environment: "dev"}, containerizer.Environment{}, store, fileMap{}, bus)
	service := NewService(Config{Environment: "dev"}, store, bus, containerizertest.NewFakeRuntime(), orchestrator, fileMap{}, &triggerRecorder{})
	service.Register()
	require.NoError(t, bus.Start(context.Background()))
	defer bus.Stop()
	ctx := context.Background()

	require.NoError(t, service.RequestReload(ctx, "orders"))
	bus.Wait()

	_, ok, err := service.GetStatus(ctx, "orders", "dev")
	require.NoError(t, err)
	assert.False(t, ok)

	result, ok := service.LastReload("orders")
	require.True(t, ok)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no dev-mode container")

	all, err := service.ListStatuses(ctx, cache.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRequestDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.runtime.Put(containerizer.Object{ID: "id-orders", Name: "orders", State: status.StateRunning})
	require.NoError(t, f.store.Put(ctx, runningRecord("orders")))

	require.NoError(t, f.service.RequestDelete(ctx, "orders"))
	f.bus.Wait()

	rec, ok, err := f.service.GetStatus(ctx, "orders", "dev")
	require.NoError(t, err)
	require.True(t, ok, "the record stays until a reconcile pass confirms the removal")
	assert.Equal(t, status.StateRemoving, rec.State)
	assert.Equal(t, []status.Command{status.CommandDelete}, rec.Commands)

	_, exists := f.runtime.Object("orders")
	assert.False(t, exists)
	assert.Equal(t, []string{"dev"}, f.trigger.get())
}

func TestRequestDelete_RuntimeFailureStillTriggersPass(t *testing.T) {
	f := newFixture(t, nil)
	f.runtime.DeleteErr = errors.New("engine down")

	require.NoError(t, f.service.RequestDelete(context.Background(), "orders"))
	f.bus.Wait()

	assert.Equal(t, []string{"dev"}, f.trigger.get())
	assert.Equal(t, int64(1), f.bus.Stats().Failed)
}

func TestRequestDelete_FailureRestoresState(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.runtime.Put(containerizer.Object{ID: "id-orders", Name: "orders", State: status.StateRunning})
	require.NoError(t, f.store.Put(ctx, runningRecord("orders")))
	f.runtime.DeleteErr = errors.New("engine down")

	require.NoError(t, f.service.RequestDelete(ctx, "orders"))
	f.bus.Wait()

	rec, ok, err := f.service.GetStatus(ctx, "orders", "dev")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, status.StateRunning, rec.State)
	assert.Equal(t, status.CommandsForState(status.StateRunning), rec.Commands)

	// the delete can be requested again
	f.runtime.DeleteErr = nil
	require.NoError(t, f.service.RequestDelete(ctx, "orders"))
	f.bus.Wait()
	_, exists := f.runtime.Object("orders")
	assert.False(t, exists)
}

func TestRequestRun_CreatesContainer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.service.RequestRun(ctx, "orders"))
	f.bus.Wait()

	rec, ok, err := f.service.GetStatus(ctx, "orders", "dev")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.InTransit)
	assert.Empty(t, rec.ContainerID)

	obj, ok := f.runtime.Object("orders")
	require.True(t, ok)
	assert.Equal(t, status.StateRunning, obj.State)
	assert.Equal(t, "devmode:1", obj.Image)
	assert.Equal(t, "orders", obj.Labels[containerizer.LabelProjectID])
	assert.Equal(t, "devmode", obj.Labels[containerizer.LabelType])
	assert.Equal(t, "dev", obj.Labels[containerizer.LabelEnv])
	assert.Equal(t, map[string]string{"/karavan/code/orders.camel.yaml": "- from: {}"}, f.runtime.Copied(obj.ID))
	assert.Equal(t, []string{"dev"}, f.trigger.get())
}

func TestRequestRun_DefersCodeUntilContainerRuns(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.runtime.CopyErr = containerizer.ErrNotRunning

	require.NoError(t, f.service.RequestRun(ctx, "orders"))
	f.bus.Wait()

	assert.Zero(t, f.bus.Stats().Failed, "a pod that is still starting is not a failed run")
	obj, ok := f.runtime.Object("orders")
	require.True(t, ok)
	assert.Empty(t, f.reloader.log)

	// a record that is not running yet does not deliver the code
	rec := runningRecord("orders")
	rec.ContainerID = obj.ID
	rec.State = status.StateCreated
	require.NoError(t, events.PublishRecord(ctx, f.bus, events.TopicContainerUpdated, rec))
	f.bus.Wait()
	assert.Empty(t, f.reloader.log)

	rec.State = status.StateRunning
	require.NoError(t, events.PublishRecord(ctx, f.bus, events.TopicContainerUpdated, rec))
	f.bus.Wait()
	assert.Equal(t, []string{"start orders", "end orders"}, f.reloader.log)

	// delivered once
	require.NoError(t, events.PublishRecord(ctx, f.bus, events.TopicContainerUpdated, rec))
	f.bus.Wait()
	assert.Len(t, f.reloader.log, 2)
}

func TestRequestRun_CopyFailureFailsRun(t *testing.T) {
	f := newFixture(t, nil)
	f.runtime.CopyErr = errors.New("disk full")

	require.NoError(t, f.service.RequestRun(context.Background(), "orders"))
	f.bus.Wait()

	assert.Equal(t, int64(1), f.bus.Stats().Failed)
	assert.Empty(t, f.reloader.log)
}

func TestRequestRun_StartsExistingContainer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.runtime.Put(containerizer.Object{ID: "id-orders", Name: "orders", State: status.StateExited})
	rec := runningRecord("orders")
	rec.State = status.StateExited
	require.NoError(t, f.store.Put(ctx, rec))

	require.NoError(t, f.service.RequestRun(ctx, "orders"))
	f.bus.Wait()

	obj, _ := f.runtime.Object("orders")
	assert.Equal(t, status.StateRunning, obj.State)
	for _, c := range f.runtime.Calls() {
		assert.NotEqual(t, "create", c.Op)
	}
	got, _, _ := f.service.GetStatus(ctx, "orders", "dev")
	assert.False(t, got.InTransit, "an existing record is not replaced")
}

func TestStreamLogs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.runtime.SetLogs("id-orders", "started", "route1 ready")

	err := f.service.StreamLogs(ctx, "orders", func(string) {})
	assert.ErrorIs(t, err, ErrNoContainer)

	require.NoError(t, f.store.Put(ctx, runningRecord("orders")))
	var lines []string
	require.NoError(t, f.service.StreamLogs(ctx, "orders", func(l string) { lines = append(lines, l) }))
	assert.Equal(t, []string{"started", "route1 ready"}, lines)
}
