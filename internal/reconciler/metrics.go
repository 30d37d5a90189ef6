package reconciler

import (
	"sort"
	"sync"
	"time"

	"karavan/pkg/logging"
)

// ReconcilerMetrics tracks reconciliation passes per environment.
type ReconcilerMetrics struct {
	mu sync.RWMutex

	environments map[string]*environmentMetrics

	totalPasses   int64
	totalFailures int64
	totalEvents   int64
	totalSignals  int64
}

// environmentMetrics holds pass metrics for a single environment.
type environmentMetrics struct {
	Environment   string
	Passes        int64
	Failures      int64
	EventsEmitted int64
	LastDuration  time.Duration
	LastPassAt    time.Time
	LastSuccessAt time.Time
	LastFailureAt time.Time
}

// NewReconcilerMetrics creates a new ReconcilerMetrics instance.
func NewReconcilerMetrics() *ReconcilerMetrics {
	return &ReconcilerMetrics{
		environments: make(map[string]*environmentMetrics),
	}
}

func (m *ReconcilerMetrics) getOrCreate(env string) *environmentMetrics {
	if metrics, exists := m.environments[env]; exists {
		return metrics
	}
	metrics := &environmentMetrics{Environment: env}
	m.environments[env] = metrics
	return metrics
}

// RecordPass records a completed pass.
func (m *ReconcilerMetrics) RecordPass(summary Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	metrics := m.getOrCreate(summary.Environment)
	metrics.Passes++
	metrics.EventsEmitted += int64(summary.Emitted())
	metrics.LastDuration = summary.Duration
	metrics.LastPassAt = now
	metrics.LastSuccessAt = now

	m.totalPasses++
	m.totalEvents += int64(summary.Emitted())
}

// RecordFailure records a pass that could not complete.
func (m *ReconcilerMetrics) RecordFailure(env string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	metrics := m.getOrCreate(env)
	metrics.Passes++
	metrics.Failures++
	metrics.LastPassAt = now
	metrics.LastFailureAt = now

	m.totalPasses++
	m.totalFailures++

	logging.Debug("ReconcilerMetrics", "Pass failure for %s: %v (failures: %d)", env, err, metrics.Failures)
}

// RecordSignal records a runtime signal applied outside a pass.
func (m *ReconcilerMetrics) RecordSignal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSignals++
}

// ReconcilerMetricsSummary provides a summary of reconciliation metrics.
type ReconcilerMetricsSummary struct {
	TotalPasses        int64                   `json:"total_passes"`
	TotalFailures      int64                   `json:"total_failures"`
	TotalEventsEmitted int64                   `json:"total_events_emitted"`
	TotalSignals       int64                   `json:"total_signals"`
	FailureRate        float64                 `json:"failure_rate"`
	Environments       []EnvironmentMetricView `json:"environments"`
}

// EnvironmentMetricView is a read-only view of one environment's metrics.
type EnvironmentMetricView struct {
	Environment   string        `json:"environment"`
	Passes        int64         `json:"passes"`
	Failures      int64         `json:"failures"`
	EventsEmitted int64         `json:"events_emitted"`
	LastDuration  time.Duration `json:"last_duration"`
	LastPassAt    time.Time     `json:"last_pass_at,omitempty"`
	LastSuccessAt time.Time     `json:"last_success_at,omitempty"`
	LastFailureAt time.Time     `json:"last_failure_at,omitempty"`
}

// GetSummary returns a snapshot sorted by environment.
func (m *ReconcilerMetrics) GetSummary() ReconcilerMetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := ReconcilerMetricsSummary{
		TotalPasses:        m.totalPasses,
		TotalFailures:      m.totalFailures,
		TotalEventsEmitted: m.totalEvents,
		TotalSignals:       m.totalSignals,
		Environments:       make([]EnvironmentMetricView, 0, len(m.environments)),
	}
	if m.totalPasses > 0 {
		summary.FailureRate = float64(m.totalFailures) / float64(m.totalPasses)
	}
	for _, metrics := range m.environments {
		summary.Environments = append(summary.Environments, EnvironmentMetricView(*metrics))
	}
	sort.Slice(summary.Environments, func(i, j int) bool {
		return summary.Environments[i].Environment < summary.Environments[j].Environment
	})
	return summary
}

// Reset clears all metrics.
func (m *ReconcilerMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.environments = make(map[string]*environmentMetrics)
	m.totalPasses = 0
	m.totalFailures = 0
	m.totalEvents = 0
	m.totalSignals = 0
}
