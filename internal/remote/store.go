package remote

import (
	"context"
	"encoding/json"
	"time"
)

// ChangeType tells whether a change carries a new document body or a deletion.
type ChangeType string

// Change types.
const (
	ChangeUpsert ChangeType = "upsert"
	ChangeDelete ChangeType = "delete"
)

// Document is one stored entity.
type Document struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Deleted    bool            `json:"deleted,omitempty"`
}

// Change is one entry of a collection's change stream.
type Change struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Type       ChangeType      `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ChangeFunc receives changes for a subscribed collection.
type ChangeFunc func(ctx context.Context, change Change)

// Store is the remote document store.
//
// Writes carry the entity's own timestamp. Implementations keep the newest
// version: a write older than the stored document is accepted and ignored.
type Store interface {
	// Create stores a new document. Creating an existing id overwrites it
	// subject to the timestamp rule.
	Create(ctx context.Context, collection, id string, data json.RawMessage, updatedAt time.Time) error

	// Update replaces an existing document. Returns ErrNotFound if it does not exist.
	Update(ctx context.Context, collection, id string, data json.RawMessage, updatedAt time.Time) error

	// Delete removes a document. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, collection, id string, deletedAt time.Time) error

	// SubscribeToChanges registers fn for every change to collection.
	// The returned function cancels the subscription and is idempotent.
	SubscribeToChanges(ctx context.Context, collection string, fn ChangeFunc) (cancel func(), err error)
}
