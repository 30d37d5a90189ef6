package reload

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karavan/internal/cache"
	"karavan/internal/containerizer"
	"karavan/internal/events"
	"karavan/internal/resilience"
	"karavan/internal/status"
)

type mapSource struct {
	files  map[string]string
	commit string
}

func (s mapSource) Files(context.Context, string) (map[string]string, error) {
	return s.files, nil
}

func (s mapSource) Commit(string) (string, error) {
	return s.commit, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// devModeServer imitates the embedded reload endpoint.
type devModeServer struct {
	mu       sync.Mutex
	requests []string
	uploads  map[string]string

	putStatus     int
	triggerStatus int
	deleteStatus  int
	triggerDelay  time.Duration
	onTrigger     func()
}

func (d *devModeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.requests = append(d.requests, r.Method+" "+r.URL.RequestURI())
	putStatus, triggerStatus, deleteStatus, delay := d.putStatus, d.triggerStatus, d.deleteStatus, d.triggerDelay
	onTrigger := d.onTrigger
	d.mu.Unlock()

	switch {
	case r.Method == http.MethodDelete:
		w.WriteHeader(orOK(deleteStatus))
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		d.mu.Lock()
		d.uploads[r.URL.Path] = string(body)
		d.mu.Unlock()
		w.WriteHeader(orOK(putStatus))
	case r.Method == http.MethodGet:
		if delay > 0 {
			time.Sleep(delay)
		}
		if onTrigger != nil {
			onTrigger()
		}
		w.WriteHeader(orOK(triggerStatus))
		_, _ = w.Write([]byte(`{}`))
	}
}

func (d *devModeServer) seen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.requests...)
}

func (d *devModeServer) count(method string) int {
	n := 0
	for _, r := range d.seen() {
		if len(r) > len(method) && r[:len(method)] == method {
			n++
		}
	}
	return n
}

func orOK(code int) int {
	if code == 0 {
		return http.StatusOK
	}
	return code
}

type harness struct {
	server       *devModeServer
	store        *cache.MemoryStore
	publisher    *recordingPublisher
	orchestrator *Orchestrator
	key          status.GroupedKey
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	srv := &devModeServer{uploads: make(map[string]string)}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	h := &harness{
		server:    srv,
		store:     cache.NewMemoryStore(),
		publisher: &recordingPublisher{},
		key:       status.NewGroupedKey("orders", "dev", status.TypeDevMode),
	}

	rec := status.NewDevMode("orders", "dev")
	rec.ContainerID = "abc"
	rec.State = status.StateRunning
	rec.PodIP = host
	require.NoError(t, h.store.Put(context.Background(), rec))

	config.Environment = "dev"
	config.Port = port
	if config.CallTimeout == 0 {
		config.CallTimeout = time.Second
	}
	source := mapSource{
		files:  map[string]string{"routes.camel.yaml": "- route: {}", "application.properties": "camel.main.name=orders"},
		commit: "cafebabe",
	}
	h.orchestrator = NewOrchestrator(config, containerizer.Environment{InKubernetes: true}, h.store, source, h.publisher)
	return h
}

func (h *harness) record(t *testing.T) status.ContainerStatus {
	t.Helper()
	rec, ok, err := h.store.Get(context.Background(), h.key)
	require.NoError(t, err)
	require.True(t, ok)
	return rec
}

func TestReload_Success(t *testing.T) {
	h := newHarness(t, Config{})

	require.NoError(t, h.orchestrator.Reload(context.Background(), "orders"))

	assert.Equal(t, []string{
		"DELETE /upload/*",
		"PUT /upload/application.properties",
		"PUT /upload/routes.camel.yaml",
		"GET /reload?reload=true",
	}, h.server.seen())
	assert.Equal(t, "- route: {}", h.server.uploads["/upload/routes.camel.yaml"])

	rec := h.record(t)
	assert.True(t, rec.CodeLoaded)
	assert.Equal(t, "cafebabe", rec.Commit)

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, events.TopicContainerUpdated, h.publisher.events[0].Topic)

	result, ok := h.orchestrator.LastResult("orders")
	require.True(t, ok)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Files)
	assert.Equal(t, "cafebabe", result.Commit)
}

func TestReload_ContainerReplacedDuringReload(t *testing.T) {
	h := newHarness(t, Config{})
	// runs on the server goroutine
	h.server.onTrigger = func() {
		rec, _, _ := h.store.Get(context.Background(), h.key)
		rec.ContainerID = "def"
		rec.CodeLoaded = false
		_ = h.store.Put(context.Background(), rec)
	}

	err := h.orchestrator.Reload(context.Background(), "orders")
	require.ErrorIs(t, err, ErrContainerReplaced)

	rec := h.record(t)
	assert.Equal(t, "def", rec.ContainerID)
	assert.False(t, rec.CodeLoaded, "the new container never received the code")
	assert.Empty(t, h.publisher.events)

	result, ok := h.orchestrator.LastResult("orders")
	require.True(t, ok)
	assert.False(t, result.Success)
}

func TestReload_ClearTolerates404(t *testing.T) {
	h := newHarness(t, Config{})
	h.server.deleteStatus = http.StatusNotFound

	require.NoError(t, h.orchestrator.Reload(context.Background(), "orders"))
	assert.True(t, h.record(t).CodeLoaded)
}

func TestReload_UploadFailureLeavesCodeNotLoaded(t *testing.T) {
	h := newHarness(t, Config{UploadRetries: 1})
	h.server.putStatus = http.StatusInternalServerError

	err := h.orchestrator.Reload(context.Background(), "orders")
	require.Error(t, err)

	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StepUpload, pe.Step)
	assert.Equal(t, "application.properties", pe.File)
	assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)

	assert.Equal(t, 2, h.server.count("PUT"), "upload is retried once")
	assert.Zero(t, h.server.count("GET"), "no trigger after a failed upload")
	assert.False(t, h.record(t).CodeLoaded)
	assert.Empty(t, h.publisher.events)

	result, _ := h.orchestrator.LastResult("orders")
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestReload_TriggerTimeout(t *testing.T) {
	h := newHarness(t, Config{CallTimeout: 50 * time.Millisecond})
	h.server.triggerDelay = 500 * time.Millisecond

	err := h.orchestrator.Reload(context.Background(), "orders")
	require.Error(t, err)
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StepTrigger, pe.Step)
	assert.False(t, h.record(t).CodeLoaded)
}

func TestReload_BreakerShortCircuitsTrigger(t *testing.T) {
	h := newHarness(t, Config{Breaker: resilience.Config{RequestVolumeThreshold: 10, FailureRatio: 0.5, Delay: time.Hour}})
	h.server.triggerStatus = http.StatusServiceUnavailable
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := h.orchestrator.Reload(ctx, "orders")
		require.True(t, IsProtocolError(err))
	}
	require.Equal(t, 10, h.server.count("GET"))

	err := h.orchestrator.Reload(ctx, "orders")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 10, h.server.count("GET"), "open breaker must not reach the network")
	assert.False(t, h.record(t).CodeLoaded)

	states := h.orchestrator.Breakers()
	open := 0
	for _, s := range states {
		if s == resilience.StateOpen {
			open++
		}
	}
	assert.Equal(t, 1, open)
}

func TestReload_MissingRecord(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.store.Delete(ctx, h.key))

	err := h.orchestrator.Reload(ctx, "orders")
	require.Error(t, err)
	assert.True(t, IsAddressResolution(err))
	assert.Empty(t, h.server.seen())

	_, ok, _ := h.store.Get(ctx, h.key)
	assert.False(t, ok, "a failed reload must not create a record")
	assert.Empty(t, h.publisher.events)
}

func TestReload_InTransitRecord(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.store.Put(ctx, status.NewInTransit("orders", "dev", "orders", status.TypeDevMode, time.Now())))

	err := h.orchestrator.Reload(ctx, "orders")
	assert.True(t, IsAddressResolution(err))
	assert.Empty(t, h.server.seen())
}
