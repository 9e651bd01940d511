package domain

import (
	"context"
	"fmt"
	"time"
)

// EntityType names one of the synchronized domains.
type EntityType string

// Known entity types.
const (
	EntityTask        EntityType = "task"
	EntityGoal        EntityType = "goal"
	EntityPenalty     EntityType = "penalty"
	EntityAchievement EntityType = "achievement"
)

// EntityTypes lists every synchronized domain in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{EntityTask, EntityGoal, EntityPenalty, EntityAchievement}
}

// Collection returns the remote collection name for the entity type.
func (t EntityType) Collection() string {
	switch t {
	case EntityTask:
		return "tasks"
	case EntityGoal:
		return "goals"
	case EntityPenalty:
		return "penalties"
	case EntityAchievement:
		return "achievements"
	default:
		return ""
	}
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	return t.Collection() != ""
}

// EntityTypeForCollection maps a remote collection name back to its entity type.
func EntityTypeForCollection(collection string) (EntityType, error) {
	for _, t := range EntityTypes() {
		if t.Collection() == collection {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: collection %q", ErrUnknownEntityType, collection)
}

// Meta is the bookkeeping every synchronized entity carries.
// PendingSync is local-only state and never leaves the device.
type Meta struct {
	ID          string    `json:"id"`
	UpdatedAt   time.Time `json:"updated_at"`
	PendingSync bool      `json:"-"`
}

// Metadata returns a pointer to the entity's bookkeeping fields.
func (m *Meta) Metadata() *Meta {
	return m
}

type actorKey struct{}

// WithActor records the signed-in family member issuing commands on ctx.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext returns the family member recorded by WithActor, or "".
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
