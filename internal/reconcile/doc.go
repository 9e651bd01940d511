// Package reconcile merges changes from the remote store's change streams
// into local state, using last-write-wins by timestamp while protecting
// local edits that have not been acknowledged yet.
package reconcile
