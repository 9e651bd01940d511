// Package remote defines the contract the engine expects from the remote
// document store and an in-memory implementation used for offline mode and
// tests. The wire protocol of a real store is up to its adapter; see
// internal/platform/postgres.
package remote
