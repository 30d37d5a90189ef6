// Package containerizertest provides an in-memory containerizer.Runtime for
// tests.
package containerizertest

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/labels"

	"karavan/internal/containerizer"
	"karavan/internal/status"
)

// Call records a single invocation on the fake.
type Call struct {
	Op   string
	Name string
}

// FakeRuntime keeps objects in memory. Set the Err fields to make the next
// calls of that kind fail.
type FakeRuntime struct {
	mu sync.Mutex

	objects map[string]containerizer.Object
	usage   map[string]containerizer.Usage
	copied  map[string]map[string]string
	logs    map[string][]string
	calls   []Call
	nextID  int

	watchers  map[int]func(containerizer.Signal)
	watcherID int

	ListErr   error
	CreateErr error
	StatsErr  error
	CopyErr   error
	DeleteErr error

	// StatsDelay blocks Stats for the given duration or until ctx is done.
	StatsDelay time.Duration
}

// NewFakeRuntime returns a fake holding objs.
func NewFakeRuntime(objs ...containerizer.Object) *FakeRuntime {
	f := &FakeRuntime{
		objects: make(map[string]containerizer.Object),
		usage:   make(map[string]containerizer.Usage),
		copied:  make(map[string]map[string]string),
		logs:    make(map[string][]string),

		watchers: make(map[int]func(containerizer.Signal)),
	}
	for _, o := range objs {
		f.objects[o.Name] = o
	}
	return f
}

// Put adds or replaces an object and notifies watchers.
func (f *FakeRuntime) Put(obj containerizer.Object) {
	f.mu.Lock()
	_, existed := f.objects[obj.Name]
	f.objects[obj.Name] = obj
	watchers := f.watcherFuncs()
	f.mu.Unlock()

	action := containerizer.SignalCreated
	if existed {
		action = containerizer.SignalUpdated
	}
	for _, w := range watchers {
		w(containerizer.Signal{Action: action, Object: obj})
	}
}

// Remove deletes an object without recording a call.
func (f *FakeRuntime) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, name)
}

// SetUsage sets the sample returned by Stats for id.
func (f *FakeRuntime) SetUsage(id string, u containerizer.Usage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[id] = u
}

// SetLogs sets the lines StreamLogs replays for id.
func (f *FakeRuntime) SetLogs(id string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[id] = lines
}

// Copied returns the files copied into id.
func (f *FakeRuntime) Copied(id string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.copied[id])
}

// Calls returns the recorded calls.
func (f *FakeRuntime) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Object returns the named object.
func (f *FakeRuntime) Object(name string) (containerizer.Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[name]
	return o, ok
}

func (f *FakeRuntime) record(op, name string) {
	f.calls = append(f.calls, Call{Op: op, Name: name})
}

func (f *FakeRuntime) fail(op, name string, err error) error {
	return &containerizer.RuntimeError{Runtime: "fake", Op: op, Name: name, Err: err}
}

func (f *FakeRuntime) ListAll(_ context.Context, selector string) ([]containerizer.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list", selector)

	if f.ListErr != nil {
		return nil, f.fail("list", "", f.ListErr)
	}
	sel, err := labels.Parse(selector)
	if err != nil {
		return nil, f.fail("list", "", err)
	}

	var out []containerizer.Object
	for _, o := range f.objects {
		if sel.Matches(labels.Set(o.Labels)) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FakeRuntime) FindByName(_ context.Context, name string) (containerizer.Object, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("find", name)

	o, ok := f.objects[name]
	return o, ok, nil
}

func (f *FakeRuntime) Create(_ context.Context, cfg containerizer.ContainerConfig) (containerizer.Object, error) {
	f.mu.Lock()
	f.record("create", cfg.Name)
	if f.CreateErr != nil {
		f.mu.Unlock()
		return containerizer.Object{}, f.fail("create", cfg.Name, f.CreateErr)
	}
	f.nextID++
	ports := make([]status.Port, 0, len(cfg.Ports))
	for _, p := range cfg.Ports {
		ports = append(ports, status.Port{PrivatePort: p, PublicPort: 30000 + p, Type: "tcp"})
	}
	obj := containerizer.Object{
		ID:      fmt.Sprintf("id-%d", f.nextID),
		Name:    cfg.Name,
		Image:   cfg.Image,
		Labels:  maps.Clone(cfg.Labels),
		Ports:   ports,
		State:   status.StateCreated,
		Created: time.Now(),
	}
	f.mu.Unlock()

	f.Put(obj)
	return obj, nil
}

func (f *FakeRuntime) setState(op, name string, state status.State) error {
	f.mu.Lock()
	f.record(op, name)
	o, ok := f.objects[name]
	if !ok {
		f.mu.Unlock()
		return f.fail(op, name, containerizer.ErrNotFound)
	}
	o.State = state
	f.mu.Unlock()

	f.Put(o)
	return nil
}

func (f *FakeRuntime) Start(_ context.Context, name string) error {
	return f.setState("start", name, status.StateRunning)
}

func (f *FakeRuntime) Pause(_ context.Context, name string) error {
	return f.setState("pause", name, status.StatePaused)
}

func (f *FakeRuntime) Stop(_ context.Context, name string) error {
	return f.setState("stop", name, status.StateExited)
}

func (f *FakeRuntime) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	f.record("delete", name)
	if f.DeleteErr != nil {
		f.mu.Unlock()
		return f.fail("delete", name, f.DeleteErr)
	}
	o, ok := f.objects[name]
	delete(f.objects, name)
	watchers := f.watcherFuncs()
	f.mu.Unlock()

	if ok {
		for _, w := range watchers {
			w(containerizer.Signal{Action: containerizer.SignalDeleted, Object: o})
		}
	}
	return nil
}

func (f *FakeRuntime) Stats(ctx context.Context, id string) (containerizer.Usage, error) {
	f.mu.Lock()
	f.record("stats", id)
	delay, statsErr := f.StatsDelay, f.StatsErr
	u := f.usage[id]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return containerizer.Usage{}, f.fail("stats", id, ctx.Err())
		}
	}
	if statsErr != nil {
		return containerizer.Usage{}, f.fail("stats", id, statsErr)
	}
	return u, nil
}

func (f *FakeRuntime) CopyFiles(_ context.Context, id, dir string, files map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("copy", id)

	if f.CopyErr != nil {
		return f.fail("copy", id, f.CopyErr)
	}
	dst := f.copied[id]
	if dst == nil {
		dst = make(map[string]string)
		f.copied[id] = dst
	}
	for name, content := range files {
		dst[strings.TrimSuffix(dir, "/")+"/"+name] = content
	}
	return nil
}

func (f *FakeRuntime) ExecCommand(_ context.Context, id string, cmd []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exec", id)
	return strings.Join(cmd, " "), nil
}

func (f *FakeRuntime) StreamLogs(ctx context.Context, id string, fn func(line string)) error {
	f.mu.Lock()
	f.record("logs", id)
	lines := append([]string(nil), f.logs[id]...)
	f.mu.Unlock()

	for _, l := range lines {
		if ctx.Err() != nil {
			return nil
		}
		fn(l)
	}
	return nil
}

// Watch registers fn and blocks until ctx is done.
func (f *FakeRuntime) Watch(ctx context.Context, fn func(containerizer.Signal)) error {
	f.mu.Lock()
	f.watcherID++
	id := f.watcherID
	f.watchers[id] = fn
	f.mu.Unlock()

	<-ctx.Done()

	f.mu.Lock()
	delete(f.watchers, id)
	f.mu.Unlock()
	return nil
}

// Watching reports the number of active watchers.
func (f *FakeRuntime) Watching() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

// watcherFuncs must be called with mu held.
func (f *FakeRuntime) watcherFuncs() []func(containerizer.Signal) {
	out := make([]func(containerizer.Signal), 0, len(f.watchers))
	for _, w := range f.watchers {
		out = append(out, w)
	}
	return out
}

func (f *FakeRuntime) Type() containerizer.RuntimeType {
	return "fake"
}
