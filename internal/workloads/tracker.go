// Package workloads tracks the Deployments and Services of projects on a
// Kubernetes cluster.
//
// Informer notifications are published on the workload topics of the event
// bus; the tracker's own subscriber applies them to a WorkloadStore, the
// same way container status reaches the status cache.
package workloads

import (
	"context"
	"fmt"
	"time"

	"karavan/internal/cache"
	"karavan/internal/containerizer"
	"karavan/internal/events"
	"karavan/internal/status"
	"karavan/pkg/logging"
)

const subsystem = "Workloads"

// Bus is the part of events.Bus the tracker needs.
type Bus interface {
	events.Publisher
	SubscribeMany(topics []events.Topic, name string, handler events.Handler, opts ...events.SubscriptionOption)
}

// Config holds configuration for a Tracker.
type Config struct {
	// Environment is reported on every tracked workload.
	Environment string

	// WatchRetryInterval is the pause before re-establishing a failed
	// watch. Defaults to 5 seconds.
	WatchRetryInterval time.Duration
}

// Tracker mirrors cluster workloads into a WorkloadStore.
type Tracker struct {
	config  Config
	watcher containerizer.WorkloadWatcher
	store   *cache.WorkloadStore
	bus     Bus
}

// NewTracker creates a Tracker. Call Register before Run.
func NewTracker(config Config, watcher containerizer.WorkloadWatcher, store *cache.WorkloadStore, bus Bus) *Tracker {
	if config.WatchRetryInterval <= 0 {
		config.WatchRetryInterval = 5 * time.Second
	}
	return &Tracker{
		config:  config,
		watcher: watcher,
		store:   store,
		bus:     bus,
	}
}

// Register subscribes the store updater to the workload topics.
func (t *Tracker) Register() {
	t.bus.SubscribeMany([]events.Topic{
		events.TopicDeploymentUpdated,
		events.TopicDeploymentDeleted,
		events.TopicServiceUpdated,
		events.TopicServiceDeleted,
	}, "workload-store", t.apply, events.WithOrdering())
}

// Run watches the cluster until ctx is done. A failed watch is
// re-established after WatchRetryInterval.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		err := t.watcher.WatchWorkloads(ctx, t.config.Environment, func(sig containerizer.WorkloadSignal) {
			t.publish(ctx, sig)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logging.Warn(subsystem, "Workload watch failed, retrying in %v: %v", t.config.WatchRetryInterval, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.config.WatchRetryInterval):
		}
	}
}

func (t *Tracker) publish(ctx context.Context, sig containerizer.WorkloadSignal) {
	var (
		topic events.Topic
		key   string
		v     any
	)
	switch {
	case sig.Deployment != nil:
		topic, key, v = events.TopicDeploymentUpdated, sig.Deployment.ProjectID, sig.Deployment
		if sig.Action == containerizer.SignalDeleted {
			topic = events.TopicDeploymentDeleted
		}
	case sig.Service != nil:
		topic, key, v = events.TopicServiceUpdated, sig.Service.ProjectID, sig.Service
		if sig.Action == containerizer.SignalDeleted {
			topic = events.TopicServiceDeleted
		}
	default:
		return
	}

	logging.Debug(subsystem, "%s for %s", topic, key)
	if err := events.PublishJSON(ctx, t.bus, topic, key, v); err != nil {
		logging.Warn(subsystem, "Failed to publish %s for %s: %v", topic, key, err)
	}
}

func (t *Tracker) apply(_ context.Context, ev events.Event) error {
	switch ev.Topic {
	case events.TopicDeploymentUpdated, events.TopicDeploymentDeleted:
		var ds status.DeploymentStatus
		if err := ev.Decode(&ds); err != nil {
			return err
		}
		if ev.Topic == events.TopicDeploymentDeleted {
			t.store.DeleteDeployment(ds)
		} else {
			t.store.PutDeployment(ds)
		}
	case events.TopicServiceUpdated, events.TopicServiceDeleted:
		var ss status.ServiceStatus
		if err := ev.Decode(&ss); err != nil {
			return err
		}
		if ev.Topic == events.TopicServiceDeleted {
			t.store.DeleteService(ss)
		} else {
			t.store.PutService(ss)
		}
	default:
		return fmt.Errorf("unexpected topic %s", ev.Topic)
	}
	return nil
}

// Deployments returns the tracked deployments of env.
func (t *Tracker) Deployments(env string) []status.DeploymentStatus {
	return t.store.Deployments(env)
}

// Services returns the tracked services of env.
func (t *Tracker) Services(env string) []status.ServiceStatus {
	return t.store.Services(env)
}
