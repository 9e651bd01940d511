package events

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Common errors returned by the Bus
var (
	ErrUnknownKind      = errors.New("unknown event kind")
	ErrPayloadMismatch  = errors.New("payload does not match event kind")
	ErrDispatchOverflow = errors.New("event dispatch limit reached")
	ErrSubscriberPanic  = errors.New("subscriber panicked")
)

// SubscriberError reports one subscriber failing to handle one event.
// It is logged and passed to the failure handler, never returned to publishers.
type SubscriberError struct {
	Kind           Kind
	EventID        uuid.UUID
	SubscriptionID uint64
	Err            error
}

// Error implements the error interface.
func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %d failed handling %s event %s: %v", e.SubscriptionID, e.Kind, e.EventID, e.Err)
}

// Unwrap returns the subscriber's error.
func (e *SubscriberError) Unwrap() error {
	return e.Err
}
