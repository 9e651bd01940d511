// Package postgres provides the PostgreSQL implementation of the remote
// document store. Documents live in a single table keyed by collection and
// id; writes keep the newest version by timestamp, and a trigger publishes
// every stored change on a LISTEN/NOTIFY channel that feeds
// SubscribeToChanges. Schema migrations are embedded and run with goose.
package postgres
