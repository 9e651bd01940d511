// Package cache defines the local durable key/value cache the engine
// snapshots its state into, plus an in-memory implementation.
package cache
