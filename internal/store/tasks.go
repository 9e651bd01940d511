package store

import (
	"context"
	"time"

	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/events"
)

// Tasks is the task domain.
type Tasks struct {
	c *collection[domain.Task]
}

func newTasks(d Deps) *Tasks {
	kinds, _ := events.KindsFor(domain.EntityTask)
	return &Tasks{c: newCollection(schema[domain.Task]{
		entity:   domain.EntityTask,
		kinds:    kinds,
		notFound: ErrTaskNotFound,
		meta:     func(t *domain.Task) *domain.Meta { return &t.Meta },
		payload: func(cur domain.Task, prev *domain.Task) events.Payload {
			return events.TaskPayload{Task: cur, Previous: prev}
		},
	}, d)}
}

// Add creates a task credited to the actor on ctx and returns its id.
func (t *Tasks) Add(ctx context.Context, fields domain.TaskFields) (string, error) {
	if err := domain.Validate(fields); err != nil {
		return "", err
	}
	task, err := t.c.insert(ctx, domain.NewTask(fields, domain.ActorFromContext(ctx)))
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

// Update replaces the editable fields of a task.
func (t *Tasks) Update(ctx context.Context, id string, fields domain.TaskFields) error {
	if err := domain.Validate(fields); err != nil {
		return err
	}
	_, err := t.c.update(ctx, id, func(task *domain.Task, _ time.Time) { task.Apply(fields) })
	return err
}

// Toggle flips a task's completion.
func (t *Tasks) Toggle(ctx context.Context, id string) error {
	_, err := t.c.update(ctx, id, func(task *domain.Task, now time.Time) { task.Toggle(now) })
	return err
}

// Remove deletes a task.
func (t *Tasks) Remove(ctx context.Context, id string) error {
	_, err := t.c.remove(ctx, id)
	return err
}

// Get returns a task by id.
func (t *Tasks) Get(id string) (domain.Task, error) {
	return t.c.get(id)
}

// List returns every task in creation order.
func (t *Tasks) List() []domain.Task {
	return t.c.list()
}
