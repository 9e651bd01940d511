package store

import (
	"context"
	"time"

	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/events"
)

// Penalties is the penalty domain.
type Penalties struct {
	c *collection[domain.Penalty]
}

func newPenalties(d Deps) *Penalties {
	kinds, _ := events.KindsFor(domain.EntityPenalty)
	return &Penalties{c: newCollection(schema[domain.Penalty]{
		entity:   domain.EntityPenalty,
		kinds:    kinds,
		notFound: ErrPenaltyNotFound,
		meta:     func(p *domain.Penalty) *domain.Meta { return &p.Meta },
		payload: func(cur domain.Penalty, prev *domain.Penalty) events.Payload {
			return events.PenaltyPayload{Penalty: cur, Previous: prev}
		},
	}, d)}
}

// Add issues a penalty on behalf of the actor on ctx and returns its id.
func (p *Penalties) Add(ctx context.Context, fields domain.PenaltyFields) (string, error) {
	if err := domain.Validate(fields); err != nil {
		return "", err
	}
	penalty, err := p.c.insert(ctx, domain.NewPenalty(fields, domain.ActorFromContext(ctx)))
	if err != nil {
		return "", err
	}
	return penalty.ID, nil
}

// Update replaces the editable fields of a penalty.
func (p *Penalties) Update(ctx context.Context, id string, fields domain.PenaltyFields) error {
	if err := domain.Validate(fields); err != nil {
		return err
	}
	_, err := p.c.update(ctx, id, func(penalty *domain.Penalty, _ time.Time) { penalty.Apply(fields) })
	return err
}

// Toggle flips whether a penalty is resolved.
func (p *Penalties) Toggle(ctx context.Context, id string) error {
	_, err := p.c.update(ctx, id, func(penalty *domain.Penalty, now time.Time) { penalty.Toggle(now) })
	return err
}

// Remove deletes a penalty.
func (p *Penalties) Remove(ctx context.Context, id string) error {
	_, err := p.c.remove(ctx, id)
	return err
}

// Get returns a penalty by id.
func (p *Penalties) Get(id string) (domain.Penalty, error) {
	return p.c.get(id)
}

// List returns every penalty in issue order.
func (p *Penalties) List() []domain.Penalty {
	return p.c.list()
}
