// Package store owns the local domain state: tasks, goals, penalties and
// awarded achievements.
//
// Every command mutates state under its domain's mutex, publishes exactly one
// event on the bus and then hands a sync operation to the queue, all before
// returning. Remote propagation happens later and never fails a command.
// Remote changes are merged back through ApplyRemote under the same mutex.
//
// Handlers must call back into the store with the context they were given.
// A same-domain mutation from inside that domain's dispatch then fails with
// ErrReentrantMutation; with an unrelated context it would deadlock.
package store
