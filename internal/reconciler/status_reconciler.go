package reconciler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"karavan/internal/cache"
	"karavan/internal/containerizer"
	"karavan/internal/events"
	"karavan/internal/status"
	"karavan/pkg/logging"
)

const reconcilerSubsystem = "Reconciler"

// ErrUnmanagedObject is returned when a runtime object carries no project
// label and therefore cannot be turned into a status record.
var ErrUnmanagedObject = errors.New("object has no project label")

// Lister is the part of containerizer.Runtime the reconciler needs.
type Lister interface {
	ListAll(ctx context.Context, selector string) ([]containerizer.Object, error)
}

// StatusReconcilerConfig holds configuration for a StatusReconciler.
type StatusReconcilerConfig struct {
	// DefaultEnvironment is assigned to objects without an env label.
	DefaultEnvironment string

	// TransitWindow is the grace period for records created by a command
	// but not yet observable on the runtime.
	TransitWindow time.Duration

	// Selector selects the managed objects. Defaults to
	// containerizer.ManagedSelector.
	Selector string
}

// StatusReconciler keeps the cache consistent with the runtime. It never
// writes the cache itself; it publishes created, updated and deleted events
// which the cache updater applies.
//
// Events are applied asynchronously, so a pass may still read the cache as
// it was before the previous pass. The reconciler remembers what it
// published per key and does not publish the same record again until the
// cache has caught up or the transit window has passed.
type StatusReconciler struct {
	config    StatusReconcilerConfig
	runtime   Lister
	store     cache.Store
	publisher events.Publisher
	now       func() time.Time

	mu      sync.Mutex
	pending map[status.GroupedKey]emission
}

// emission is a published event not yet seen in the cache.
type emission struct {
	rec     status.ContainerStatus
	deleted bool
	at      time.Time
}

// NewStatusReconciler creates a StatusReconciler.
func NewStatusReconciler(config StatusReconcilerConfig, runtime Lister, store cache.Store, publisher events.Publisher) *StatusReconciler {
	if config.TransitWindow <= 0 {
		config.TransitWindow = status.DefaultTransitWindow
	}
	if config.Selector == "" {
		config.Selector = containerizer.ManagedSelector
	}
	return &StatusReconciler{
		config:    config,
		runtime:   runtime,
		store:     store,
		publisher: publisher,
		now:       time.Now,
		pending:   make(map[status.GroupedKey]emission),
	}
}

// Reconcile runs one pass for env:
//
//  1. list every managed object on the runtime;
//  2. collect the observed names;
//  3. publish deleted for every cached record of env that is not observed,
//     unless it is still inside its transit window;
//  4. publish created or updated for every observed object of env whose
//     cached record is missing or out of date.
//
// Only a failing list aborts the pass. Failures on single records are
// logged and counted in the summary.
func (r *StatusReconciler) Reconcile(ctx context.Context, env string) (Summary, error) {
	start := r.now()
	summary := Summary{Environment: env}

	objects, err := r.runtime.ListAll(ctx, r.config.Selector)
	if err != nil {
		return summary, fmt.Errorf("failed to list runtime objects: %w", err)
	}
	cached, err := r.store.List(ctx, cache.Filter{Env: env})
	if err != nil {
		return summary, fmt.Errorf("failed to list cached records for %s: %w", env, err)
	}

	observed := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		observed[obj.Name] = struct{}{}
	}

	byKey := make(map[status.GroupedKey]status.ContainerStatus, len(cached))
	for _, rec := range cached {
		byKey[rec.Key()] = rec
	}

	now := r.now()
	r.settle(env, byKey, now)

	for _, rec := range cached {
		if _, ok := observed[rec.ContainerName]; ok {
			continue
		}
		if status.CheckTransit(rec, now, r.config.TransitWindow) {
			summary.InTransit++
			continue
		}
		if r.deletionPending(rec.Key()) {
			continue
		}
		if status.TransitExpired(rec, now, r.config.TransitWindow) {
			logging.Warn(reconcilerSubsystem, "Evicting %s: %v", rec.Key(), status.ErrTransitTimeout)
		}
		if err := r.publish(ctx, events.TopicContainerDeleted, rec); err != nil {
			summary.Failed++
			logging.Error(reconcilerSubsystem, err, "Failed to publish deletion of %s", rec.Key())
			continue
		}
		summary.Deleted++
	}

	for _, obj := range objects {
		rec, err := RecordFromObject(obj, r.config.DefaultEnvironment)
		if err != nil {
			summary.Failed++
			logging.Debug(reconcilerSubsystem, "Skipping %s: %v", obj.Name, err)
			continue
		}
		if rec.Env != env {
			continue
		}
		summary.Observed++

		prev, known := byKey[rec.Key()]
		if known {
			rec = carryOver(prev, rec)
			if upToDate(prev, rec) {
				continue
			}
		}
		if r.updatePending(rec) {
			continue
		}

		topic := events.TopicContainerCreated
		if known {
			topic = events.TopicContainerUpdated
		}
		if err := r.publish(ctx, topic, rec); err != nil {
			summary.Failed++
			logging.Error(reconcilerSubsystem, err, "Failed to publish %s for %s", topic, rec.Key())
			continue
		}
		if known {
			summary.Updated++
		} else {
			summary.Created++
		}
	}

	summary.Duration = r.now().Sub(start)
	if summary.Emitted() > 0 || summary.Failed > 0 {
		logging.Debug(reconcilerSubsystem, "Pass %s: observed=%d created=%d updated=%d deleted=%d inTransit=%d failed=%d",
			env, summary.Observed, summary.Created, summary.Updated, summary.Deleted, summary.InTransit, summary.Failed)
	}
	return summary, nil
}

// Observe applies a runtime signal immediately instead of waiting for the
// next pass. Deletions are published with the cached record; creations and
// updates are derived like in a pass.
func (r *StatusReconciler) Observe(ctx context.Context, sig containerizer.Signal) error {
	rec, err := RecordFromObject(sig.Object, r.config.DefaultEnvironment)
	if err != nil {
		return err
	}

	prev, known, err := r.store.Get(ctx, rec.Key())
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", rec.Key(), err)
	}
	r.settleKey(rec.Key(), prev, known, r.now())

	if sig.Action == containerizer.SignalDeleted {
		if !known {
			return nil
		}
		// A newer container with the same name may already exist.
		if prev.ContainerID != "" && sig.Object.ID != "" && prev.ContainerID != sig.Object.ID {
			return nil
		}
		if r.deletionPending(prev.Key()) {
			return nil
		}
		return r.publish(ctx, events.TopicContainerDeleted, prev)
	}

	topic := events.TopicContainerCreated
	if known {
		rec = carryOver(prev, rec)
		if upToDate(prev, rec) {
			return nil
		}
		topic = events.TopicContainerUpdated
	}
	if r.updatePending(rec) {
		return nil
	}
	return r.publish(ctx, topic, rec)
}

// publish sends rec on topic and remembers it until the cache reflects it.
func (r *StatusReconciler) publish(ctx context.Context, topic events.Topic, rec status.ContainerStatus) error {
	if err := events.PublishRecord(ctx, r.publisher, topic, rec); err != nil {
		return err
	}
	r.mu.Lock()
	r.pending[rec.Key()] = emission{
		rec:     rec,
		deleted: topic == events.TopicContainerDeleted,
		at:      r.now(),
	}
	r.mu.Unlock()
	return nil
}

// settle forgets the emissions of env the cache already reflects, and those
// older than the transit window so a lost event is published again.
func (r *StatusReconciler) settle(env string, cached map[status.GroupedKey]status.ContainerStatus, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.pending {
		if key.Env != env {
			continue
		}
		current, ok := cached[key]
		if r.settled(e, current, ok, now) {
			delete(r.pending, key)
		}
	}
}

func (r *StatusReconciler) settleKey(key status.GroupedKey, current status.ContainerStatus, ok bool, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, found := r.pending[key]; found && r.settled(e, current, ok, now) {
		delete(r.pending, key)
	}
}

func (r *StatusReconciler) settled(e emission, current status.ContainerStatus, ok bool, now time.Time) bool {
	switch {
	case now.Sub(e.at) > r.config.TransitWindow:
		return true
	case e.deleted:
		return !ok
	default:
		return ok && upToDate(current, e.rec)
	}
}

// updatePending reports whether rec was already published and is still on
// its way to the cache.
func (r *StatusReconciler) updatePending(rec status.ContainerStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[rec.Key()]
	return ok && !e.deleted && upToDate(e.rec, rec)
}

func (r *StatusReconciler) deletionPending(key status.GroupedKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[key]
	return ok && e.deleted
}

// RecordFromObject derives a status record from a raw runtime object.
// Objects without an env label belong to defaultEnv.
func RecordFromObject(obj containerizer.Object, defaultEnv string) (status.ContainerStatus, error) {
	projectID := obj.Labels[containerizer.LabelProjectID]
	if projectID == "" {
		return status.ContainerStatus{}, fmt.Errorf("%s: %w", obj.Name, ErrUnmanagedObject)
	}
	env := obj.Labels[containerizer.LabelEnv]
	if env == "" {
		env = defaultEnv
	}

	rec := status.ContainerStatus{
		ProjectID:     projectID,
		Env:           env,
		ContainerName: obj.Name,
		ContainerID:   obj.ID,
		Image:         obj.Image,
		Ports:         slices.Clone(obj.Ports),
		Type:          status.ParseContainerType(obj.Labels[containerizer.LabelType]),
		State:         obj.State,
		Phase:         obj.Phase,
		PodIP:         obj.IP,
		CamelRuntime:  obj.Labels[containerizer.LabelCamelRuntime],
		Commit:        obj.Labels[containerizer.LabelCommit],
		Commands:      status.CommandsForState(obj.State),
		Labels:        maps.Clone(obj.Labels),
	}
	if !obj.Created.IsZero() {
		rec.Created = obj.Created.UTC().Format(time.RFC3339)
	}
	if !obj.Finished.IsZero() {
		rec.Finished = obj.Finished.UTC().Format(time.RFC3339)
	}
	return rec, nil
}

// carryOver copies the fields owned by other writers from the cached record.
// A new container id means the container was recreated: its code is no
// longer loaded and a pending removal no longer applies.
func carryOver(prev, rec status.ContainerStatus) status.ContainerStatus {
	rec.MemoryInfo = prev.MemoryInfo
	rec.CPUInfo = prev.CPUInfo
	if rec.Commit == "" {
		rec.Commit = prev.Commit
	}
	if prev.ContainerID == rec.ContainerID {
		rec.CodeLoaded = prev.CodeLoaded
		if prev.State == status.StateRemoving {
			rec.State = status.StateRemoving
			rec.Commands = status.CommandsForState(status.StateRemoving)
		}
	}
	return rec
}

// upToDate compares the fields the runtime owns plus the transit flags.
func upToDate(prev, rec status.ContainerStatus) bool {
	return prev.ContainerID == rec.ContainerID &&
		prev.ContainerName == rec.ContainerName &&
		prev.Image == rec.Image &&
		prev.State == rec.State &&
		prev.Phase == rec.Phase &&
		prev.PodIP == rec.PodIP &&
		prev.Created == rec.Created &&
		prev.Finished == rec.Finished &&
		prev.CamelRuntime == rec.CamelRuntime &&
		prev.Commit == rec.Commit &&
		prev.CodeLoaded == rec.CodeLoaded &&
		prev.InTransit == rec.InTransit &&
		prev.TransitStart == rec.TransitStart &&
		slices.Equal(prev.Ports, rec.Ports) &&
		slices.Equal(prev.Commands, rec.Commands) &&
		maps.Equal(prev.Labels, rec.Labels)
}
