package events

import (
	"strings"

	"github.com/phrazzld/hearth/internal/domain"
)

// Kind identifies an event. Kinds follow the pattern <entity>.<action>.
type Kind string

// Task events.
const (
	TaskCreated Kind = "task.created"
	TaskUpdated Kind = "task.updated"
	TaskDeleted Kind = "task.deleted"
)

// Goal events.
const (
	GoalCreated Kind = "goal.created"
	GoalUpdated Kind = "goal.updated"
	GoalDeleted Kind = "goal.deleted"
)

// Penalty events.
const (
	PenaltyCreated Kind = "penalty.created"
	PenaltyUpdated Kind = "penalty.updated"
	PenaltyDeleted Kind = "penalty.deleted"
)

// Achievement events.
const (
	AchievementGranted Kind = "achievement.granted"
	AchievementUpdated Kind = "achievement.updated"
	AchievementRevoked Kind = "achievement.revoked"
)

// EntityKinds are the three lifecycle kinds of one entity type.
type EntityKinds struct {
	Created Kind
	Updated Kind
	Deleted Kind
}

var entityKinds = map[domain.EntityType]EntityKinds{
	domain.EntityTask:        {Created: TaskCreated, Updated: TaskUpdated, Deleted: TaskDeleted},
	domain.EntityGoal:        {Created: GoalCreated, Updated: GoalUpdated, Deleted: GoalDeleted},
	domain.EntityPenalty:     {Created: PenaltyCreated, Updated: PenaltyUpdated, Deleted: PenaltyDeleted},
	domain.EntityAchievement: {Created: AchievementGranted, Updated: AchievementUpdated, Deleted: AchievementRevoked},
}

// KindsFor returns the lifecycle kinds for an entity type.
func KindsFor(t domain.EntityType) (EntityKinds, bool) {
	k, ok := entityKinds[t]
	return k, ok
}

// AllKinds lists every known kind.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, len(entityKinds)*3)
	for _, t := range domain.EntityTypes() {
		k := entityKinds[t]
		kinds = append(kinds, k.Created, k.Updated, k.Deleted)
	}
	return kinds
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	ek, ok := entityKinds[k.Entity()]
	if !ok {
		return false
	}
	return k == ek.Created || k == ek.Updated || k == ek.Deleted
}

// Entity returns the entity type the kind belongs to.
func (k Kind) Entity() domain.EntityType {
	entity, _, _ := strings.Cut(string(k), ".")
	return domain.EntityType(entity)
}
