// Package syncer propagates local mutations to the remote store.
//
// The Queue holds at most one queued and one in-flight operation per entity,
// coalescing new operations into the queued one. The Pusher drains the queue
// in the background with bounded concurrency, a timeout per remote write and
// exponential backoff between transient failures.
package syncer
