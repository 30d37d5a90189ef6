// Package reconciler keeps the status cache consistent with the container
// runtime.
//
// # Overview
//
// StatusReconciler compares the managed objects a runtime reports with the
// cached records of one environment. Records whose container disappeared
// are published as deleted, new or changed containers as created or
// updated. The cache itself is only written by the event consumers.
//
// Records written by a run command before the runtime can observe the
// container are protected by a transit window (10 seconds by default).
// Inside the window a missing container is expected; after it the record is
// treated as stale and evicted.
//
// # Scheduling
//
// Manager drives the passes:
//
//   - a ticker enqueues every configured environment on each interval
//   - Trigger enqueues a single environment on demand, typically after a
//     create or delete command
//   - a runtime watch applies lifecycle signals immediately and triggers a
//     pass for the affected environment
//
// The work queue is keyed by environment. A pass for an environment never
// starts while a previous pass for it is still running; requests that
// arrive in between coalesce into one follow-up pass. Different
// environments are reconciled concurrently.
//
// Example usage:
//
//	r := reconciler.NewStatusReconciler(cfg, runtime, store, bus)
//	manager := reconciler.NewManager(managerCfg, r, runtime)
//	if err := manager.Start(ctx); err != nil {
//	    return fmt.Errorf("failed to start reconciliation: %w", err)
//	}
//	defer manager.Stop()
//
// Failed passes are retried with exponential backoff.
package reconciler
