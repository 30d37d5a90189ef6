package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"karavan/internal/cache"
	"karavan/internal/config"
	"karavan/internal/containerizer"
	"karavan/internal/devmode"
	"karavan/internal/events"
	"karavan/internal/reconciler"
	"karavan/internal/reload"
	"karavan/internal/server"
	"karavan/internal/source"
	"karavan/internal/statistics"
	"karavan/internal/workloads"
	"karavan/pkg/logging"
)

// Services holds every wired component of a running karavan instance.
//
// Field descriptions:
//   - Runtime: the container engine or cluster adapter selected at startup
//   - Store: current-state snapshot of all managed containers
//   - Bus: carries status events and dev-mode commands
//   - Manager: schedules reconciliation passes per environment
//   - DevMode: the operations exposed to the HTTP API
//   - Workloads: Deployments and Services, on Kubernetes only
type Services struct {
	Environment containerizer.Environment
	Runtime     containerizer.Runtime
	Store       cache.Store
	Bus         *events.Bus

	Reconciler   *reconciler.StatusReconciler
	Manager      *reconciler.Manager
	Statistics   *statistics.Collector
	Orchestrator *reload.Orchestrator
	Source       *source.DirSource
	Watcher      *source.Watcher
	DevMode      *devmode.Service
	Workloads    *workloads.Tracker
	Server       *server.Server

	config *config.KaravanConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// InitializeServices wires all components on top of runtime. Nothing is
// started; see Start.
//
// Initialization Sequence:
//  1. Status store (memory or redis)
//  2. Event bus
//  3. Status reconciler and its manager, watching runtime
//  4. Statistics collector
//  5. Project source, reload orchestrator and dev-mode service
//  6. Workload tracker, when the runtime can watch workloads
//  7. HTTP server
func InitializeServices(ctx context.Context, cfg *Config, runtime containerizer.Runtime, env containerizer.Environment) (*Services, error) {
	kc := cfg.KaravanConfig
	if kc == nil {
		return nil, errors.New("configuration not loaded")
	}

	store, err := newStore(ctx, kc.Cache)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(events.BusConfig{
		MaxConcurrent:  kc.Events.MaxConcurrent,
		HandlerTimeout: kc.Events.HandlerTimeout,
	})

	statusReconciler := reconciler.NewStatusReconciler(reconciler.StatusReconcilerConfig{
		DefaultEnvironment: kc.Environment,
		TransitWindow:      kc.Reconcile.TransitWindow,
	}, runtime, store, bus)

	manager := reconciler.NewManager(reconciler.ManagerConfig{
		Environments:       kc.ManagedEnvironments(),
		Interval:           kc.Reconcile.Interval,
		WorkerCount:        kc.Reconcile.Workers,
		MaxRetries:         kc.Reconcile.MaxRetries,
		InitialBackoff:     kc.Reconcile.InitialBackoff,
		MaxBackoff:         kc.Reconcile.MaxBackoff,
		ReconcileTimeout:   kc.Reconcile.Timeout,
		WatchRetryInterval: kc.Reconcile.WatchRetry,
	}, statusReconciler, runtime)

	var collector *statistics.Collector
	if kc.Statistics.Enabled {
		collector = statistics.NewCollector(statistics.Config{
			Environments: kc.ManagedEnvironments(),
			Interval:     kc.Statistics.Interval,
			CallTimeout:  kc.Statistics.CallTimeout,
			Concurrency:  kc.Statistics.Concurrency,
		}, runtime, store, bus)
	}

	dirSource := source.NewDirSource(kc.Projects.Root)

	orchestrator := reload.NewOrchestrator(reload.Config{
		Environment:   kc.Environment,
		Port:          kc.DevMode.Port,
		CallTimeout:   kc.Reload.CallTimeout,
		UploadRetries: kc.Reload.UploadRetries,
		Breaker:       kc.Reload.Breaker,
	}, env, store, dirSource, bus)

	devModeService := devmode.NewService(devmode.Config{
		Environment:    kc.Environment,
		Image:          kc.DevMode.Image,
		Port:           kc.DevMode.Port,
		CodeDir:        kc.DevMode.CodeDir,
		Network:        kc.Runtime.Network,
		ServiceAccount: kc.DevMode.ServiceAccount,
		CamelRuntime:   kc.DevMode.CamelRuntime,
	}, store, bus, runtime, orchestrator, dirSource, manager)
	devModeService.Register()

	s := &Services{
		Environment:  env,
		Runtime:      runtime,
		Store:        store,
		Bus:          bus,
		Reconciler:   statusReconciler,
		Manager:      manager,
		Statistics:   collector,
		Orchestrator: orchestrator,
		Source:       dirSource,
		DevMode:      devModeService,
		Server:       server.New(devModeService, manager),
		config:       kc,
	}

	if watcher, ok := runtime.(containerizer.WorkloadWatcher); ok {
		s.Workloads = workloads.NewTracker(workloads.Config{
			Environment:        kc.Environment,
			WatchRetryInterval: kc.Reconcile.WatchRetry,
		}, watcher, cache.NewWorkloadStore(), bus)
		s.Workloads.Register()
		s.Server.WithWorkloads(s.Workloads)
	}

	if kc.Projects.Watch {
		s.Watcher = source.NewWatcher(kc.Projects.Root, kc.Projects.Debounce, func(projectID string) {
			if err := devModeService.RequestReload(context.Background(), projectID); err != nil {
				logging.Warn("Services", "Failed to request reload of %s: %v", projectID, err)
			}
		})
	}

	return s, nil
}

func newStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case config.CacheBackendRedis:
		store, err := cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		logging.Info("Services", "Using redis status store at %s", cfg.Redis.Addr)
		return store, nil
	case config.CacheBackendMemory, "":
		return cache.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

// Start runs the bus, the reconcile manager, the statistics collector, the
// workload tracker and the project watcher. The HTTP server is started separately.
func (s *Services) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.Bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	if err := s.Manager.Start(ctx); err != nil {
		s.Bus.Stop()
		return fmt.Errorf("failed to start reconcile manager: %w", err)
	}

	if s.Statistics != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Statistics.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error("Services", err, "Statistics collector stopped")
			}
		}()
	}

	if s.Workloads != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Workloads.Run(ctx); err != nil {
				logging.Error("Services", err, "Workload tracker stopped")
			}
		}()
	}

	if s.Watcher != nil {
		if err := s.Watcher.Start(ctx); err != nil {
			logging.Warn("Services", "Project watcher disabled: %v", err)
			s.Watcher = nil
		}
	}

	logging.Info("Services", "Started (runtime %s, environments %v)", s.Runtime.Type(), s.config.ManagedEnvironments())
	return nil
}

// Stop shuts components down in reverse start order.
func (s *Services) Stop(ctx context.Context) {
	if s.Server != nil {
		if err := s.Server.Shutdown(ctx); err != nil {
			logging.Warn("Services", "HTTP server shutdown: %v", err)
		}
	}
	if s.Watcher != nil {
		_ = s.Watcher.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if err := s.Manager.Stop(); err != nil {
		logging.Warn("Services", "Reconcile manager shutdown: %v", err)
	}
	s.Bus.Stop()

	for _, c := range []any{s.Store, s.Runtime} {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logging.Warn("Services", "Close: %v", err)
			}
		}
	}
	logging.Info("Services", "Stopped")
}

// shutdownTimeout bounds Stop when triggered by a signal.
const shutdownTimeout = 10 * time.Second
