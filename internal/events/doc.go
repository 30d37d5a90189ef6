// Package events is the in-process lifecycle event bus.
//
// Producers (runtime watchers, the reconciler, the reload orchestrator)
// publish Events on Topics; consumers (the cache updater, command handlers,
// API notifiers) subscribe to them. Publishing never waits for handlers.
//
// Status topics carry a serialized status.ContainerStatus and have no
// ordering guarantee; their consumers are idempotent. Command topics are
// consumed through ordered subscriptions:
//
//	bus.SubscribeMany(
//	    []events.Topic{events.TopicReloadCommand, events.TopicDeleteCommand},
//	    "devmode-commands", handle, events.WithOrdering())
//
// An ordered subscription processes events with the same key (the project
// id) strictly one at a time in publish order, while different keys run
// concurrently. Two reload commands for one project therefore result in two
// complete, sequential executions.
package events
