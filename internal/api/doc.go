// Package api exposes the engine over HTTP: per-domain commands, sync
// status, analytics, achievement progress, sign-out and a websocket feed of
// domain events. Handlers translate HTTP concerns to engine calls and never
// wait for the remote store.
package api
