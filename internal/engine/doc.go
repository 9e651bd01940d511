// Package engine wires the event bus, domain store, sync queue and pusher,
// remote listener and achievement evaluator into one explicitly owned
// object. There is no package-level state: every collaborator is created by
// New and reachable from the Engine value.
package engine
