package events

import "github.com/phrazzld/hearth/internal/domain"

// Payload is the closed set of event bodies. Only the payload types in this
// package implement it.
type Payload interface {
	// Entity is the entity type the payload describes.
	Entity() domain.EntityType

	// EntityID is the id of the entity the payload describes.
	EntityID() string

	sealed()
}

// TaskPayload describes a task after the change. Previous is set on updates.
type TaskPayload struct {
	Task     domain.Task  `json:"task"`
	Previous *domain.Task `json:"previous,omitempty"`
}

func (TaskPayload) Entity() domain.EntityType { return domain.EntityTask }
func (p TaskPayload) EntityID() string        { return p.Task.ID }
func (TaskPayload) sealed()                   {}

// GoalPayload describes a goal after the change. Previous is set on updates.
type GoalPayload struct {
	Goal     domain.Goal  `json:"goal"`
	Previous *domain.Goal `json:"previous,omitempty"`
}

func (GoalPayload) Entity() domain.EntityType { return domain.EntityGoal }
func (p GoalPayload) EntityID() string        { return p.Goal.ID }
func (GoalPayload) sealed()                   {}

// PenaltyPayload describes a penalty after the change. Previous is set on updates.
type PenaltyPayload struct {
	Penalty  domain.Penalty  `json:"penalty"`
	Previous *domain.Penalty `json:"previous,omitempty"`
}

func (PenaltyPayload) Entity() domain.EntityType { return domain.EntityPenalty }
func (p PenaltyPayload) EntityID() string        { return p.Penalty.ID }
func (PenaltyPayload) sealed()                   {}

// AchievementPayload describes a granted award.
type AchievementPayload struct {
	Award    domain.Award  `json:"award"`
	Previous *domain.Award `json:"previous,omitempty"`
}

func (AchievementPayload) Entity() domain.EntityType { return domain.EntityAchievement }
func (p AchievementPayload) EntityID() string        { return p.Award.ID }
func (AchievementPayload) sealed()                   {}
