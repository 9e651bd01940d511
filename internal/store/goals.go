package store

import (
	"context"
	"time"

	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/events"
)

// Goals is the goal domain.
type Goals struct {
	c *collection[domain.Goal]
}

func newGoals(d Deps) *Goals {
	kinds, _ := events.KindsFor(domain.EntityGoal)
	return &Goals{c: newCollection(schema[domain.Goal]{
		entity:   domain.EntityGoal,
		kinds:    kinds,
		notFound: ErrGoalNotFound,
		meta:     func(g *domain.Goal) *domain.Meta { return &g.Meta },
		payload: func(cur domain.Goal, prev *domain.Goal) events.Payload {
			return events.GoalPayload{Goal: cur, Previous: prev}
		},
	}, d)}
}

// Add creates a goal and returns its id.
func (g *Goals) Add(ctx context.Context, fields domain.GoalFields) (string, error) {
	if err := domain.Validate(fields); err != nil {
		return "", err
	}
	goal, err := g.c.insert(ctx, domain.NewGoal(fields))
	if err != nil {
		return "", err
	}
	return goal.ID, nil
}

// Update replaces the editable fields of a goal.
func (g *Goals) Update(ctx context.Context, id string, fields domain.GoalFields) error {
	if err := domain.Validate(fields); err != nil {
		return err
	}
	_, err := g.c.update(ctx, id, func(goal *domain.Goal, _ time.Time) { goal.Apply(fields) })
	return err
}

// Toggle flips whether a goal is achieved.
func (g *Goals) Toggle(ctx context.Context, id string) error {
	_, err := g.c.update(ctx, id, func(goal *domain.Goal, now time.Time) { goal.Toggle(now) })
	return err
}

// Remove deletes a goal.
func (g *Goals) Remove(ctx context.Context, id string) error {
	_, err := g.c.remove(ctx, id)
	return err
}

// Get returns a goal by id.
func (g *Goals) Get(id string) (domain.Goal, error) {
	return g.c.get(id)
}

// List returns every goal in creation order.
func (g *Goals) List() []domain.Goal {
	return g.c.list()
}
