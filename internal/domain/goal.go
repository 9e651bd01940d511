package domain

import "time"

// GoalFields are the user-editable fields of a goal.
type GoalFields struct {
	Title   string `json:"title" validate:"required,max=200"`
	OwnerID string `json:"owner_id" validate:"required,max=64"`
	Target  int    `json:"target" validate:"gte=0"`
	Reward  string `json:"reward,omitempty" validate:"max=200"`
}

// Goal is a longer-running objective a family member works toward.
type Goal struct {
	Meta
	Title      string     `json:"title"`
	OwnerID    string     `json:"owner_id"`
	Target     int        `json:"target"`
	Reward     string     `json:"reward,omitempty"`
	Achieved   bool       `json:"achieved"`
	AchievedAt *time.Time `json:"achieved_at,omitempty"`
}

// NewGoal builds an unsaved goal from validated fields.
func NewGoal(fields GoalFields) Goal {
	var g Goal
	g.Apply(fields)
	return g
}

// Apply overwrites the user-editable fields.
func (g *Goal) Apply(fields GoalFields) {
	g.Title = fields.Title
	g.OwnerID = fields.OwnerID
	g.Target = fields.Target
	g.Reward = fields.Reward
}

// Toggle flips whether the goal has been achieved.
func (g *Goal) Toggle(now time.Time) {
	g.Achieved = !g.Achieved
	if g.Achieved {
		at := now
		g.AchievedAt = &at
		return
	}
	g.AchievedAt = nil
}
