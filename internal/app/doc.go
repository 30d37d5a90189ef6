// Package app provides application bootstrap and lifecycle management for karavan.
//
// # Architecture Overview
//
//  1. **Bootstrap (`bootstrap.go`)**: logging, configuration loading, runtime selection
//  2. **Configuration (`config.go`)**: application runtime configuration structure
//  3. **Services (`services.go`)**: wiring and lifecycle of every component
//  4. **Modes (`modes.go`)**: the long-running server mode with signal handling
//
// # Component Wiring
//
// The runtime adapter is chosen once at startup from the configured type
// and the detected process environment. Every other component receives it
// (or a narrower interface of it) by injection:
//
//	runtime ──▶ StatusReconciler ──▶ Bus ──▶ cache updater ──▶ Store
//	   │              ▲                 │
//	   └─ Watch ─▶ Manager ◀─ Trigger ──┴── dev-mode commands ──▶ Orchestrator
//
// Status records only reach the store through events, so a single listener
// owns all cache writes apart from the orchestrator's codeLoaded update.
//
// # Lifecycle
//
// Start brings up the bus first so that the first reconcile pass can
// publish, then the manager, the statistics collector and the optional
// project watcher. Stop reverses the order and closes the store and the
// runtime when they hold connections.
package app
