package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"karavan/internal/containerizer"
	"karavan/pkg/logging"
)

const managerSubsystem = "ReconcileManager"

// Manager schedules reconciliation passes.
//
// It manages:
//   - A periodic ticker enqueuing every configured environment
//   - On-demand passes requested through Trigger
//   - A runtime watch applying lifecycle signals as they happen
//   - Work queue and worker pool, one pass per environment at a time
//   - Retry logic with exponential backoff
type Manager struct {
	mu sync.RWMutex

	config ManagerConfig

	reconciler EnvironmentReconciler

	// signals is optional; without it the manager relies on the ticker
	signals SignalSource

	queue *passQueue

	statusTracker map[string]*ReconcileStatus

	metrics *ReconcilerMetrics

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

// NewManager creates a new reconciliation manager. signals may be nil.
func NewManager(config ManagerConfig, reconciler EnvironmentReconciler, signals SignalSource) *Manager {
	// Apply defaults
	if config.Interval == 0 {
		config.Interval = 2 * time.Second
	}
	if config.WorkerCount == 0 {
		config.WorkerCount = max(len(config.Environments), 1)
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.ReconcileTimeout == 0 {
		config.ReconcileTimeout = 30 * time.Second
	}
	if config.WatchRetryInterval == 0 {
		config.WatchRetryInterval = 5 * time.Second
	}

	return &Manager{
		config:        config,
		reconciler:    reconciler,
		signals:       signals,
		queue:         newPassQueue(),
		statusTracker: make(map[string]*ReconcileStatus),
		metrics:       NewReconcilerMetrics(),
	}
}

// Start begins the reconciliation system. Every environment is enqueued
// immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	if len(m.config.Environments) == 0 {
		m.mu.Unlock()
		return errors.New("no environments to reconcile")
	}

	m.ctx, m.cancelFunc = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	for i := 0; i < m.config.WorkerCount; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	m.wg.Add(1)
	go m.tick()

	if m.signals != nil {
		m.wg.Add(1)
		go m.watch()
	}

	logging.Info(managerSubsystem, "Started with %d workers for %v every %v",
		m.config.WorkerCount, m.config.Environments, m.config.Interval)
	return nil
}

// tick enqueues every environment on each interval.
func (m *Manager) tick() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.enqueueAll()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.enqueueAll()
		}
	}
}

func (m *Manager) enqueueAll() {
	for _, env := range m.config.Environments {
		m.enqueue(env)
	}
}

// enqueue requests a pass for env. A retry already scheduled for env keeps
// its attempt count and runs with this pass.
func (m *Manager) enqueue(env string) {
	m.updateStatus(env, StatePending, "", nil)
	m.queue.Add(ReconcileRequest{Environment: env, Attempt: 1})
}

// watch applies runtime signals and triggers a pass for the affected
// environment. A failed watch is re-established after WatchRetryInterval.
func (m *Manager) watch() {
	defer m.wg.Done()

	for {
		err := m.signals.Watch(m.ctx, m.handleSignal)
		if m.ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.Warn(managerSubsystem, "Runtime watch failed, retrying in %v: %v", m.config.WatchRetryInterval, err)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(m.config.WatchRetryInterval):
		}
	}
}

// handleSignal processes a single runtime signal.
func (m *Manager) handleSignal(sig containerizer.Signal) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(managerSubsystem, fmt.Errorf("panic: %v", r), "Signal handler panicked for %s", sig.Object.Name)
		}
	}()

	logging.Debug(managerSubsystem, "Signal %s for %s", sig.Action, sig.Object.Name)
	m.metrics.RecordSignal()

	ctx, cancel := context.WithTimeout(m.ctx, m.config.ReconcileTimeout)
	defer cancel()

	if err := m.reconciler.Observe(ctx, sig); err != nil {
		if errors.Is(err, ErrUnmanagedObject) {
			return
		}
		logging.Warn(managerSubsystem, "Failed to apply %s signal for %s: %v", sig.Action, sig.Object.Name, err)
	}

	env := sig.Object.Labels[containerizer.LabelEnv]
	if env == "" || !m.isManaged(env) {
		m.enqueueAll()
		return
	}
	m.enqueue(env)
}

func (m *Manager) isManaged(env string) bool {
	for _, e := range m.config.Environments {
		if e == env {
			return true
		}
	}
	return false
}

// worker processes reconciliation requests from the queue.
func (m *Manager) worker(id int) {
	defer m.wg.Done()

	logging.Debug(managerSubsystem, "Worker %d started", id)

	for {
		req, ok := m.queue.Get(m.ctx)
		if !ok {
			logging.Debug(managerSubsystem, "Worker %d shutting down", id)
			return
		}

		m.processRequest(req)
		m.queue.Done(req)
	}
}

// processRequest runs a single pass.
func (m *Manager) processRequest(req ReconcileRequest) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logging.Error(managerSubsystem, err, "Pass for %s panicked", req.Environment)
			m.metrics.RecordFailure(req.Environment, err)
			m.updateStatus(req.Environment, StateError, err.Error(), nil)
		}
	}()

	m.updateStatus(req.Environment, StateReconciling, "", nil)

	if req.Attempt > 1 {
		logging.Debug(managerSubsystem, "Reconciling %s (attempt %d)", req.Environment, req.Attempt)
	}

	// A pass may not outlive its timeout so that a hung runtime call does
	// not block the worker.
	ctx, cancel := context.WithTimeout(m.ctx, m.config.ReconcileTimeout)
	defer cancel()

	summary, err := m.reconciler.Reconcile(ctx, req.Environment)
	if err == nil && ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("reconciliation timed out after %v", m.config.ReconcileTimeout)
	}
	if err != nil {
		if m.ctx.Err() != nil {
			return
		}
		m.handleReconcileError(req, err)
		return
	}

	m.metrics.RecordPass(summary)
	m.updateStatus(req.Environment, StateSynced, "", &summary)
}

// handleReconcileError handles a failed pass.
func (m *Manager) handleReconcileError(req ReconcileRequest, err error) {
	m.metrics.RecordFailure(req.Environment, err)

	if req.Attempt >= m.config.MaxRetries {
		logging.Error(managerSubsystem, err, "Max retries exceeded for %s", req.Environment)
		m.updateStatus(req.Environment, StateFailed, err.Error(), nil)
		return
	}

	logging.Warn(managerSubsystem, "Reconciliation failed for %s: %v", req.Environment, err)
	m.updateStatus(req.Environment, StateError, err.Error(), nil)

	backoff := m.calculateBackoff(req.Attempt)

	req.Attempt++
	req.LastError = err
	m.queue.AddAfter(req, backoff)

	logging.Debug(managerSubsystem, "Requeuing %s after %v (attempt %d)", req.Environment, backoff, req.Attempt)
}

// calculateBackoff computes exponential backoff.
func (m *Manager) calculateBackoff(attempt int) time.Duration {
	if attempt > 30 {
		return m.config.MaxBackoff
	}
	// Exponential backoff: initial * 2^(attempt-1)
	backoff := m.config.InitialBackoff * time.Duration(1<<uint(attempt-1))

	if backoff > m.config.MaxBackoff || backoff <= 0 {
		backoff = m.config.MaxBackoff
	}
	return backoff
}

// updateStatus updates the reconciliation status for an environment.
func (m *Manager) updateStatus(env string, state ReconcileState, errMsg string, summary *Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.statusTracker[env]
	if !ok {
		st = &ReconcileStatus{Environment: env}
		m.statusTracker[env] = st
	}

	// A queued tick must not hide a pass that is still running.
	if state == StatePending && st.State == StateReconciling {
		return
	}

	st.State = state
	st.LastError = errMsg

	switch state {
	case StateSynced:
		now := time.Now()
		st.LastReconcileTime = &now
		st.RetryCount = 0
		if summary != nil {
			st.LastSummary = *summary
		}
	case StateError:
		st.RetryCount++
	}
}

// Stop gracefully shuts down the manager and waits for in-flight passes.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	logging.Info(managerSubsystem, "Stopping reconciliation manager...")

	if m.cancelFunc != nil {
		m.cancelFunc()
	}
	m.queue.Shutdown()
	m.wg.Wait()

	logging.Info(managerSubsystem, "Reconciliation manager stopped")
	return nil
}

// Trigger requests an immediate pass for env. Requests for an environment
// whose pass is running are coalesced into one follow-up pass.
func (m *Manager) Trigger(env string) {
	if !m.IsRunning() {
		return
	}
	logging.Debug(managerSubsystem, "Triggered pass for %s", env)
	m.enqueue(env)
}

// GetStatus returns the reconciliation status for an environment.
func (m *Manager) GetStatus(env string) (ReconcileStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.statusTracker[env]
	if !ok {
		return ReconcileStatus{}, false
	}
	return *st, true
}

// GetAllStatuses returns the status of every environment, sorted by name.
func (m *Manager) GetAllStatuses() []ReconcileStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ReconcileStatus, 0, len(m.statusTracker))
	for _, st := range m.statusTracker {
		statuses = append(statuses, *st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Environment < statuses[j].Environment })
	return statuses
}

// Metrics returns a snapshot of the pass metrics.
func (m *Manager) Metrics() ReconcilerMetricsSummary {
	return m.metrics.GetSummary()
}

// IsRunning returns whether the manager is running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// GetQueueLength returns the current queue length.
func (m *Manager) GetQueueLength() int {
	return m.queue.Len()
}
