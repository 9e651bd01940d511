package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Origin tells subscribers whether a change was made on this device or
// mirrored from the remote store.
type Origin string

// Possible origin values
const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Event is a published DomainEvent. It is a value and never modified after
// publication.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Kind identifies what happened
	Kind Kind `json:"kind"`

	// Payload carries the entity snapshot for the kind
	Payload Payload `json:"payload"`

	// Origin is local for commands and remote for reconciled changes
	Origin Origin `json:"origin"`

	// OccurredAt is when the bus accepted the event
	OccurredAt time.Time `json:"occurred_at"`
}

// EntityID is shorthand for the payload's entity id.
func (e Event) EntityID() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EntityID()
}

type originKey struct{}

// WithOrigin marks events published with ctx as coming from origin.
func WithOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFromContext returns the origin recorded by WithOrigin, defaulting to local.
func OriginFromContext(ctx context.Context) Origin {
	if origin, ok := ctx.Value(originKey{}).(Origin); ok {
		return origin
	}
	return OriginLocal
}
