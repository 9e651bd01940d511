package syncer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/phrazzld/hearth/internal/domain"
)

// OpKind is the remote write an operation performs.
type OpKind string

// Operation kinds.
const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Valid reports whether k is a known operation kind.
func (k OpKind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Status is the lifecycle state of an operation.
type Status string

// Operation statuses.
const (
	StatusQueued   Status = "queued"
	StatusInFlight Status = "in-flight"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
)

// Key identifies the entity an operation targets.
type Key struct {
	Entity domain.EntityType `json:"entity_type"`
	ID     string            `json:"entity_id"`
}

// String returns "type/id".
func (k Key) String() string {
	return string(k.Entity) + "/" + k.ID
}

// Operation is a pending remote write for one entity.
type Operation struct {
	ID       string            `json:"id"`
	Entity   domain.EntityType `json:"entity_type"`
	EntityID string            `json:"entity_id"`
	Kind     OpKind            `json:"kind"`

	// State is the entity snapshot to write. Empty for deletes.
	State json.RawMessage `json:"state,omitempty"`

	// UpdatedAt is the entity timestamp sent with the write.
	UpdatedAt time.Time `json:"updated_at"`

	// Generation is the entity's sync generation when the op was produced.
	// An acknowledgement only clears pendingSync if it is still the latest.
	Generation uint64 `json:"generation"`

	// Actor is the family member whose command produced the op.
	Actor string `json:"actor,omitempty"`

	Attempt       int       `json:"attempt"`
	Status        Status    `json:"status"`
	LastError     string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Key returns the entity key of the operation.
func (o Operation) Key() Key {
	return Key{Entity: o.Entity, ID: o.EntityID}
}

func (o Operation) validate() error {
	if !o.Entity.Valid() {
		return fmt.Errorf("%w: entity type %q", ErrInvalidOperation, o.Entity)
	}
	if o.EntityID == "" {
		return fmt.Errorf("%w: missing entity id", ErrInvalidOperation)
	}
	if !o.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidOperation, o.Kind)
	}
	if o.Kind != OpDelete && len(o.State) == 0 {
		return fmt.Errorf("%w: %s without state", ErrInvalidOperation, o.Kind)
	}
	return nil
}
