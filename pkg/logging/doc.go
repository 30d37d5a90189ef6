// Package logging provides the structured logging used throughout karavan.
//
// It is a thin layer over Go's slog package. Every entry carries a subsystem
// attribute so output can be filtered per component:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Reconciler", "Reconciled environment %s", env)
//	logging.Debug("EventBus", "Delivered %s to %s", ev.Topic, name)
//	logging.Error("ReloadOrchestrator", err, "Reload of %s failed", projectID)
//
// # Subsystems
//
//   - Bootstrap: application initialization and startup
//   - Config: configuration loading and validation
//   - Reconciler / ReconcileManager: status reconciliation passes
//   - EventBus: lifecycle event delivery
//   - ReloadOrchestrator: dev-mode hot reload
//   - Statistics: usage sampling
//   - DockerRuntime / KubernetesRuntime: runtime adapters
//
// # Controller-Runtime Integration
//
// InitForCLI also installs a logr bridge as the controller-runtime logger so
// informer and cache logs end up in the same stream instead of triggering
// warnings about an uninitialized logger.
package logging
