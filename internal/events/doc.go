// Package events provides the typed publish/subscribe bus that decouples
// domain mutations from the components reacting to them.
//
// The set of event kinds is closed: every Kind belongs to one entity type and
// every payload is one of the concrete payload structs declared here, so a
// subscriber never has to guess what it received. Dispatch is synchronous on
// the publisher's goroutine, in subscription order, and a failing subscriber
// never affects the others or the publisher.
//
// Re-entrant publishing follows one fixed policy: an event published by a
// handler (using the context the handler was given) is appended to a bounded
// FIFO micro-queue and delivered after the current event has reached all of
// its subscribers. Nested dispatch therefore never recurses. A handler that
// publishes with an unrelated context starts a new dispatch instead; the bus
// counts dispatches in flight and rejects publishing past BusConfig.MaxActive
// with ErrDispatchOverflow, so even that case stays bounded.
package events
