// Package devmode is the entry point for everything a caller can do with a
// project's dev-mode container: read its status, run it, reload its code
// and delete it.
//
// Mutating requests are published as commands on the event bus. A single
// ordered consumer executes them, so the commands of one project never
// interleave while different projects proceed in parallel. Status records
// reach the cache only through the cache updater listening on the status
// topics.
package devmode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"karavan/internal/cache"
	"karavan/internal/containerizer"
	"karavan/internal/events"
	"karavan/internal/reload"
	"karavan/internal/status"
	"karavan/pkg/logging"
)

const subsystem = "DevMode"

// ErrNoContainer is returned when a project has no dev-mode container.
var ErrNoContainer = errors.New("no dev-mode container")

// Bus is the part of events.Bus the service needs.
type Bus interface {
	events.Publisher
	SubscribeMany(topics []events.Topic, name string, handler events.Handler, opts ...events.SubscriptionOption)
}

// Reloader pushes project code into a running container.
type Reloader interface {
	Reload(ctx context.Context, projectID string) error
	LastResult(projectID string) (reload.Result, bool)
}

// FileSource provides project files for new containers.
type FileSource interface {
	Files(ctx context.Context, projectID string) (map[string]string, error)
}

// PassTrigger requests an immediate reconciliation pass.
type PassTrigger interface {
	Trigger(env string)
}

// Config holds configuration for a Service.
type Config struct {
	// Environment is the environment this instance manages.
	Environment string

	// Image of dev-mode containers.
	Image string

	// Port is the dev-mode HTTP port. Defaults to 8080.
	Port int

	// CodeDir receives the project files when a container is created.
	// Defaults to /karavan/code.
	CodeDir string

	// Network is the engine network dev-mode containers join.
	Network string

	// ServiceAccount of dev-mode pods.
	ServiceAccount string

	// CamelRuntime is recorded on the container as a label.
	CamelRuntime string
}

// Service implements the dev-mode operations.
type Service struct {
	config   Config
	store    cache.Store
	bus      Bus
	runtime  containerizer.Runtime
	reloader Reloader
	source   FileSource
	trigger  PassTrigger
	now      func() time.Time

	// deferred holds projects whose code could not be copied because the
	// container was not running yet.
	mu       sync.Mutex
	deferred map[string]struct{}
}

// NewService creates a Service. Call Register before publishing requests.
func NewService(config Config, store cache.Store, bus Bus, runtime containerizer.Runtime, reloader Reloader, source FileSource, trigger PassTrigger) *Service {
	if config.Port == 0 {
		config.Port = reload.DefaultPort
	}
	if config.CodeDir == "" {
		config.CodeDir = "/karavan/code"
	}
	return &Service{
		config:   config,
		store:    store,
		bus:      bus,
		runtime:  runtime,
		reloader: reloader,
		source:   source,
		trigger:  trigger,
		now:      time.Now,
		deferred: make(map[string]struct{}),
	}
}

// Register subscribes the cache updater and the command consumer.
func (s *Service) Register() {
	s.bus.SubscribeMany([]events.Topic{
		events.TopicContainerCreated,
		events.TopicContainerUpdated,
		events.TopicContainerDeleted,
		events.TopicStatisticsUpdated,
	}, "cache-updater", s.updateCache, events.WithOrdering())

	s.bus.SubscribeMany([]events.Topic{
		events.TopicRunCommand,
		events.TopicReloadCommand,
		events.TopicDeleteCommand,
	}, "devmode-commands", s.handleCommand, events.WithOrdering())
}

func (s *Service) env(env string) string {
	if env == "" {
		return s.config.Environment
	}
	return env
}

func (s *Service) key(projectID string) status.GroupedKey {
	return status.NewGroupedKey(projectID, s.config.Environment, status.TypeDevMode)
}

// GetStatus returns the dev-mode record of projectID in env. An empty env
// means the managed environment.
func (s *Service) GetStatus(ctx context.Context, projectID, env string) (status.ContainerStatus, bool, error) {
	return s.store.Get(ctx, status.NewGroupedKey(projectID, s.env(env), status.TypeDevMode))
}

// ListStatuses returns the cached records matching filter.
func (s *Service) ListStatuses(ctx context.Context, filter cache.Filter) ([]status.ContainerStatus, error) {
	return s.store.List(ctx, filter)
}

// RequestReload enqueues a reload of projectID. The outcome is reported by
// LastReload once the command has run.
func (s *Service) RequestReload(ctx context.Context, projectID string) error {
	return s.command(ctx, events.TopicReloadCommand, projectID)
}

// RequestDelete marks the project's container as removing and enqueues its
// deletion. The record disappears once the runtime confirms the removal.
func (s *Service) RequestDelete(ctx context.Context, projectID string) error {
	rec, ok, err := s.store.Get(ctx, s.key(projectID))
	if err != nil {
		return err
	}
	if ok && rec.State != status.StateRemoving {
		rec.State = status.StateRemoving
		rec.Commands = status.CommandsForState(status.StateRemoving)
		if err := events.PublishRecord(ctx, s.bus, events.TopicContainerUpdated, rec); err != nil {
			return err
		}
	}
	return s.command(ctx, events.TopicDeleteCommand, projectID)
}

// RequestRun records the container as in transit and enqueues its creation.
// A project that already has a container is only started.
func (s *Service) RequestRun(ctx context.Context, projectID string) error {
	if projectID == "" {
		return errors.New("projectId is required")
	}
	_, ok, err := s.store.Get(ctx, s.key(projectID))
	if err != nil {
		return err
	}
	if !ok {
		rec := status.NewInTransit(projectID, s.config.Environment, projectID, status.TypeDevMode, s.now())
		if err := events.PublishRecord(ctx, s.bus, events.TopicContainerCreated, rec); err != nil {
			return err
		}
	}
	return s.command(ctx, events.TopicRunCommand, projectID)
}

func (s *Service) command(ctx context.Context, topic events.Topic, projectID string) error {
	if projectID == "" {
		return errors.New("projectId is required")
	}
	cmd := events.Command{ProjectID: projectID, Env: s.config.Environment}
	if err := s.bus.Publish(ctx, events.NewCommandEvent(topic, cmd)); err != nil {
		return fmt.Errorf("failed to enqueue %s for %s: %w", topic, projectID, err)
	}
	logging.Debug(subsystem, "Enqueued %s for %s", topic, projectID)
	return nil
}

// LastReload reports the outcome of the last reload of projectID.
func (s *Service) LastReload(projectID string) (reload.Result, bool) {
	return s.reloader.LastResult(projectID)
}

// StreamLogs follows the log of the project's container until ctx is done.
func (s *Service) StreamLogs(ctx context.Context, projectID string, fn func(line string)) error {
	rec, ok, err := s.store.Get(ctx, s.key(projectID))
	if err != nil {
		return err
	}
	if !ok || rec.ContainerID == "" {
		return fmt.Errorf("%w for %s", ErrNoContainer, projectID)
	}
	return s.runtime.StreamLogs(ctx, rec.ContainerID, fn)
}
