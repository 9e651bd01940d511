package store

import (
	"context"

	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/events"
)

// Achievements holds the awards granted to family members. A rule is
// granted to a user at most once: revoking an award, locally or remotely,
// does not make the pair eligible again.
type Achievements struct {
	c *collection[domain.Award]
}

func newAchievements(d Deps) *Achievements {
	kinds, _ := events.KindsFor(domain.EntityAchievement)
	return &Achievements{c: newCollection(schema[domain.Award]{
		entity:   domain.EntityAchievement,
		kinds:    kinds,
		notFound: ErrAchievementNotFound,
		meta:     func(a *domain.Award) *domain.Meta { return &a.Meta },
		payload: func(cur domain.Award, prev *domain.Award) events.Payload {
			return events.AchievementPayload{Award: cur, Previous: prev}
		},
		retain: true,
	}, d)}
}

// Award grants rewardID to userID for ruleID unless it was granted before.
// It returns the award and whether this call granted it; for a pair whose
// award was since revoked it returns a zero Award and false.
//
// Awards are always produced on this device, so the grant is published as a
// local event even when a remote change triggered it. Without an actor in
// ctx the award is attributed to userID.
func (a *Achievements) Award(ctx context.Context, ruleID, userID, rewardID string) (domain.Award, bool, error) {
	id := domain.AwardID(ruleID, userID)
	if a.c.hadEver(id) {
		existing, _ := a.c.get(id)
		return existing, false, nil
	}

	ctx = events.WithOrigin(ctx, events.OriginLocal)
	if domain.ActorFromContext(ctx) == "" {
		ctx = domain.WithActor(ctx, userID)
	}

	award := domain.Award{
		Meta:     domain.Meta{ID: id},
		RuleID:   ruleID,
		UserID:   userID,
		RewardID: rewardID,
	}
	award.AwardedAt = a.c.clock.Now()

	granted, err := a.c.insert(ctx, award)
	if IsDuplicate(err) {
		existing, _ := a.c.get(id)
		return existing, false, nil
	}
	if err != nil {
		return domain.Award{}, false, err
	}
	return granted, true, nil
}

// Has reports whether ruleID was ever awarded to userID, revoked awards
// included.
func (a *Achievements) Has(ruleID, userID string) bool {
	return a.c.hadEver(domain.AwardID(ruleID, userID))
}

// Revoke removes an award. The pair stays granted for Has and Award.
func (a *Achievements) Revoke(ctx context.Context, id string) error {
	_, err := a.c.remove(ctx, id)
	return err
}

// Get returns an award by id.
func (a *Achievements) Get(id string) (domain.Award, error) {
	return a.c.get(id)
}

// List returns every award in grant order.
func (a *Achievements) List() []domain.Award {
	return a.c.list()
}
