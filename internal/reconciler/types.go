package reconciler

import (
	"context"
	"time"

	"karavan/internal/containerizer"
)

// ReconcileRequest represents a request to reconcile one environment.
type ReconcileRequest struct {
	// Environment is the environment whose records are reconciled.
	Environment string

	// Attempt is the current retry attempt number (starts at 1).
	Attempt int

	// LastError is the error from the previous attempt, if any.
	LastError error
}

// EnvironmentReconciler is implemented by StatusReconciler.
type EnvironmentReconciler interface {
	// Reconcile runs one pass for env. It must be idempotent: running it
	// again against an unchanged runtime emits no events.
	Reconcile(ctx context.Context, env string) (Summary, error)

	// Observe applies a single lifecycle signal from the runtime.
	Observe(ctx context.Context, sig containerizer.Signal) error
}

// SignalSource delivers runtime lifecycle signals until ctx is done.
type SignalSource interface {
	Watch(ctx context.Context, fn func(containerizer.Signal)) error
}

// ManagerConfig holds configuration for the Manager.
type ManagerConfig struct {
	// Environments are reconciled on every tick.
	Environments []string

	// Interval between periodic passes. Defaults to 2 seconds.
	Interval time.Duration

	// WorkerCount is the number of concurrent reconciliation workers.
	// Defaults to the number of environments.
	WorkerCount int

	// MaxRetries is the maximum number of retry attempts for a failed pass.
	// Defaults to 5 if not specified.
	MaxRetries int

	// InitialBackoff is the initial backoff duration for retries.
	// Defaults to 1 second if not specified.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration for retries.
	// Defaults to 30 seconds if not specified.
	MaxBackoff time.Duration

	// ReconcileTimeout bounds a single pass. Defaults to 30 seconds.
	ReconcileTimeout time.Duration

	// WatchRetryInterval is the pause before re-establishing a failed
	// runtime watch. Defaults to 5 seconds.
	WatchRetryInterval time.Duration
}

// Summary describes the outcome of one reconciliation pass.
type Summary struct {
	Environment string        `json:"environment"`
	Observed    int           `json:"observed"`
	Created     int           `json:"created"`
	Updated     int           `json:"updated"`
	Deleted     int           `json:"deleted"`
	InTransit   int           `json:"inTransit"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
}

// Emitted returns the number of events the pass published.
func (s Summary) Emitted() int {
	return s.Created + s.Updated + s.Deleted
}

// ReconcileStatus represents the current reconciliation status of an
// environment.
type ReconcileStatus struct {
	// Environment is the reconciled environment.
	Environment string

	// LastReconcileTime is when the environment was last successfully reconciled.
	LastReconcileTime *time.Time

	// LastSummary is the summary of the last successful pass.
	LastSummary Summary

	// LastError is the most recent error, if any.
	LastError string

	// RetryCount is the number of retry attempts.
	RetryCount int

	// State describes the current reconciliation state.
	State ReconcileState
}

// ReconcileState represents the state of an environment's reconciliation.
type ReconcileState string

const (
	// StatePending means the environment is awaiting reconciliation.
	StatePending ReconcileState = "Pending"

	// StateReconciling means a pass is in progress.
	StateReconciling ReconcileState = "Reconciling"

	// StateSynced means the last pass succeeded.
	StateSynced ReconcileState = "Synced"

	// StateError means the last pass failed and will be retried.
	StateError ReconcileState = "Error"

	// StateFailed means MaxRetries consecutive passes failed. The next
	// tick starts a new retry sequence.
	StateFailed ReconcileState = "Failed"
)
