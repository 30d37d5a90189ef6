package cache

import (
	"sort"
	"sync"

	"karavan/internal/status"
)

// WorkloadStore keeps the last known Deployments and Services of the
// cluster. It is rebuilt from the informers on every start and therefore
// lives in memory only.
type WorkloadStore struct {
	deployments table[status.DeploymentStatus]
	services    table[status.ServiceStatus]
}

// NewWorkloadStore creates an empty WorkloadStore.
func NewWorkloadStore() *WorkloadStore {
	return &WorkloadStore{}
}

func (s *WorkloadStore) PutDeployment(ds status.DeploymentStatus) {
	s.deployments.put(ds.Key(), ds)
}

func (s *WorkloadStore) DeleteDeployment(ds status.DeploymentStatus) {
	s.deployments.delete(ds.Key())
}

// Deployments returns the deployments of env sorted by key. An empty env
// returns all of them.
func (s *WorkloadStore) Deployments(env string) []status.DeploymentStatus {
	return s.deployments.list(func(ds status.DeploymentStatus) bool {
		return env == "" || ds.Env == env
	})
}

func (s *WorkloadStore) PutService(ss status.ServiceStatus) {
	s.services.put(ss.Key(), ss)
}

func (s *WorkloadStore) DeleteService(ss status.ServiceStatus) {
	s.services.delete(ss.Key())
}

// Services returns the services of env sorted by key. An empty env returns
// all of them.
func (s *WorkloadStore) Services(env string) []status.ServiceStatus {
	return s.services.list(func(ss status.ServiceStatus) bool {
		return env == "" || ss.Env == env
	})
}

// table is a keyed set of values; the zero value is ready to use.
type table[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func (t *table[T]) put(key string, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.items == nil {
		t.items = make(map[string]T)
	}
	t.items[key] = v
}

func (t *table[T]) delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, key)
}

func (t *table[T]) list(keep func(T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.items))
	for k, v := range t.items {
		if keep(v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.items[k])
	}
	return out
}
